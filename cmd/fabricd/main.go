// Command fabricd runs a single ephemeral, memory-resident file and message
// exchange fabric instance. Unlike the teacher's send/host/receive/search
// subcommand CLI, fabricd has exactly one mode: it listens and hosts
// sessions until stopped, so there is no subcommand dispatch — only flags.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"

	"github.com/zulfikawr/fabricd/internal/cleanup"
	"github.com/zulfikawr/fabricd/internal/clock"
	"github.com/zulfikawr/fabricd/internal/config"
	"github.com/zulfikawr/fabricd/internal/discovery"
	"github.com/zulfikawr/fabricd/internal/logging"
	"github.com/zulfikawr/fabricd/internal/network"
	"github.com/zulfikawr/fabricd/internal/realtime"
	"github.com/zulfikawr/fabricd/internal/store"
	"github.com/zulfikawr/fabricd/internal/ui"
	"github.com/zulfikawr/fabricd/internal/upload"
)

func main() {
	log.SetFlags(0)

	iface := flag.String("interface", "", "network interface to bind (default: auto-detect LAN IP)")
	advertise := flag.Bool("advertise", false, "advertise this instance over mDNS")
	showQR := flag.Bool("qr", false, "print a QR code for the websocket URL")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logging.SetLevel(boolToVerbosity(*verbose))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("fabricd: load config: %v", err)
	}

	ip, err := network.DiscoverLANIP(*iface)
	if err != nil {
		log.Fatalf("fabricd: discover LAN IP: %v", err)
	}

	clk := clock.Real{}
	st := store.New(store.Limits{
		SessionTTL:            cfg.SessionTTL,
		MaxFileSizeBytes:      cfg.MaxFileSizeBytes,
		MaxTotalBytes:         cfg.MaxTotalBytes,
		MaxFilesPerSession:    cfg.MaxFilesPerSession,
		MaxMessagesPerSession: cfg.MaxMessagesPerSession,
		MaxMessageLength:      cfg.MaxMessageLength,
	}, clk)
	asm := upload.New(cfg.MaxConcurrentUploadsPerSession, cfg.StaleUploadThreshold, clk)
	dispatcher := realtime.New(st, asm, clk, cfg.RPCTimeout)
	scheduler := cleanup.New(st, asm, dispatcher, clk, cleanup.Config{
		Interval:          cfg.CleanupInterval,
		MaxTotalBytes:     cfg.MaxTotalBytes,
		CriticalThreshold: cfg.CriticalThreshold,
		WarningThreshold:  cfg.WarningThreshold,
		EvictionCount:     cfg.EmergencyEvictionCount,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth(st))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", dispatcher)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", ip.String(), cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
		// Disabling HTTP/2 keeps this listener's upgrade handling simple;
		// a separate mux with only /healthz and /metrics is served over
		// HTTP/3 below.
		TLSNextProto: make(map[string]func(*http.Server, *tls.Conn, http.Handler)),
	}

	// /ws requires an HTTP/1.1 Connection: Upgrade and can't ride QUIC, but
	// /healthz and /metrics are plain request/response and benefit from
	// HTTP/3's lower-latency handshake on lossy networks, so they get a
	// second listener on the same port over UDP.
	http3Mux := http.NewServeMux()
	http3Mux.HandleFunc("/healthz", handleHealth(st))
	http3Mux.Handle("/metrics", promhttp.Handler())

	var http3Server *http3.Server
	if cert, err := generateSelfSignedCert(ip); err != nil {
		logging.Warn("failed to generate TLS cert, HTTP/3 listener disabled", zap.Error(err))
	} else {
		http3Server = &http3.Server{
			Handler: http3Mux,
			Addr:    fmt.Sprintf("%s:%d", ip.String(), cfg.Port),
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{*cert},
				ClientAuth:   tls.NoClientCert,
			},
		}
	}

	shutdownCtx, cancelShutdownBackground := context.WithCancel(context.Background())
	go scheduler.Run(shutdownCtx)

	var advertiser *discovery.Advertiser
	if *advertise {
		advertiser, err = discovery.Advertise("fabricd", ip, cfg.Port)
		if err != nil {
			logging.Warn("mDNS advertise failed, continuing without it", zap.Error(err))
		}
	}

	wsURL := fmt.Sprintf("ws://%s:%d/ws", ip.String(), cfg.Port)
	fmt.Fprintf(os.Stderr, "fabricd listening on %s\n", httpServer.Addr)
	fmt.Fprintf(os.Stderr, "websocket endpoint: %s\n", wsURL)
	if *showQR {
		fmt.Fprintln(os.Stderr)
		_ = ui.PrintQR(wsURL)
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("http server error", zap.Error(err))
		}
	}()
	if http3Server != nil {
		go func() {
			if err := http3Server.ListenAndServe(); err != nil &&
				err.Error() != "quic: Server closed" &&
				err.Error() != "http3: Server closed" {
				logging.Warn("http3 server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Fprintln(os.Stderr, "\nshutting down gracefully...")

	cancelShutdownBackground()
	if advertiser != nil {
		advertiser.Close()
	}
	if http3Server != nil {
		if err := http3Server.Close(); err != nil {
			logging.Warn("http3 server close error", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logging.Warn("http server shutdown error", zap.Error(err))
	}
}

func handleHealth(st *store.MemoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d,"total_bytes":%d}`, st.SessionCount(), st.TotalBytes())
	}
}

func boolToVerbosity(v bool) int {
	if v {
		return 1
	}
	return 0
}
