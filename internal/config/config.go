// Package config reads the fabric's environment knobs (spec.md §6) into a
// Config value. Every variable name is exact and unprefixed since this
// system has no on-disk config file to namespace against.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the fabric's full set of tunables.
type Config struct {
	Port int    `mapstructure:"PORT"`
	Host string `mapstructure:"HOST"`

	SessionTTL   time.Duration
	SessionTTLMS int64

	MaxFileSizeBytes int64
	MaxTotalBytes    int64

	CleanupInterval   time.Duration
	CleanupIntervalMS int64

	RPCTimeout   time.Duration
	RPCTimeoutMS int64

	MaxFilesPerSession             int
	MaxMessagesPerSession          int
	MaxMessageLength               int
	MaxConcurrentUploadsPerSession int
	StaleUploadThreshold           time.Duration
	CompletedUploadRetention       time.Duration
	CriticalThreshold              float64
	WarningThreshold               float64
	EmergencyEvictionCount         int
}

// Default returns the configuration with every value set to its spec.md
// default, as if no environment variables were set.
func Default() *Config {
	return &Config{
		Port: 3000,
		Host: "0.0.0.0",

		SessionTTL:   5 * time.Hour,
		SessionTTLMS: (5 * time.Hour).Milliseconds(),

		MaxFileSizeBytes: 100 * 1024 * 1024,
		MaxTotalBytes:    2 * 1024 * 1024 * 1024,

		CleanupInterval:   5 * time.Minute,
		CleanupIntervalMS: (5 * time.Minute).Milliseconds(),

		RPCTimeout:   30 * time.Second,
		RPCTimeoutMS: (30 * time.Second).Milliseconds(),

		MaxFilesPerSession:             100,
		MaxMessagesPerSession:          500,
		MaxMessageLength:               10000,
		MaxConcurrentUploadsPerSession: 5,
		StaleUploadThreshold:           30 * time.Minute,
		CompletedUploadRetention:       60 * time.Second,
		CriticalThreshold:              0.95,
		WarningThreshold:               0.80,
		EmergencyEvictionCount:         5,
	}
}

// Load reads spec.md §6's recognized environment variables over the
// defaults. It never reads a config file: this system persists nothing, so
// there is nothing on disk to locate, unlike the teacher's warp.yaml.
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetDefault("PORT", cfg.Port)
	v.SetDefault("HOST", cfg.Host)
	v.SetDefault("SESSION_TTL_MS", cfg.SessionTTLMS)
	v.SetDefault("MAX_FILE_SIZE_BYTES", cfg.MaxFileSizeBytes)
	v.SetDefault("MAX_TOTAL_BYTES", cfg.MaxTotalBytes)
	v.SetDefault("CLEANUP_INTERVAL_MS", cfg.CleanupIntervalMS)
	v.SetDefault("RPC_TIMEOUT_MS", cfg.RPCTimeoutMS)

	for _, key := range []string{
		"PORT", "HOST", "SESSION_TTL_MS", "MAX_FILE_SIZE_BYTES",
		"MAX_TOTAL_BYTES", "CLEANUP_INTERVAL_MS", "RPC_TIMEOUT_MS",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	cfg.Port = v.GetInt("PORT")
	cfg.Host = v.GetString("HOST")
	cfg.SessionTTLMS = v.GetInt64("SESSION_TTL_MS")
	cfg.MaxFileSizeBytes = v.GetInt64("MAX_FILE_SIZE_BYTES")
	cfg.MaxTotalBytes = v.GetInt64("MAX_TOTAL_BYTES")
	cfg.CleanupIntervalMS = v.GetInt64("CLEANUP_INTERVAL_MS")
	cfg.RPCTimeoutMS = v.GetInt64("RPC_TIMEOUT_MS")

	cfg.SessionTTL = time.Duration(cfg.SessionTTLMS) * time.Millisecond
	cfg.CleanupInterval = time.Duration(cfg.CleanupIntervalMS) * time.Millisecond
	cfg.RPCTimeout = time.Duration(cfg.RPCTimeoutMS) * time.Millisecond

	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("config: SESSION_TTL_MS must be positive, got %d", cfg.SessionTTLMS)
	}
	if cfg.MaxTotalBytes <= 0 {
		return nil, fmt.Errorf("config: MAX_TOTAL_BYTES must be positive, got %d", cfg.MaxTotalBytes)
	}
	if cfg.MaxFileSizeBytes <= 0 {
		return nil, fmt.Errorf("config: MAX_FILE_SIZE_BYTES must be positive, got %d", cfg.MaxFileSizeBytes)
	}

	return cfg, nil
}
