// Package discovery optionally advertises a running fabric instance over
// mDNS so a LAN client can find it without being told an address, and lets
// a client browse for one. Unlike the teacher's send/host distinction, a
// fabric instance has exactly one mode: it hosts sessions.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_fabricd._tcp"

// Advertiser represents an active mDNS advertisement.
type Advertiser struct {
	server *zeroconf.Server
}

// Endpoint describes a discovered fabric instance.
type Endpoint struct {
	Name string
	IP   net.IP
	Port int
	URL  string
}

// Advertise publishes the fabric's websocket endpoint over mDNS.
func Advertise(instance string, ip net.IP, port int) (*Advertiser, error) {
	if ip == nil {
		return nil, fmt.Errorf("discovery: ip is required")
	}

	txt := []string{
		"ip=" + ip.String(),
		"ws=/ws",
	}

	srv, err := zeroconf.Register(instance, serviceType, "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}

	return &Advertiser{server: srv}, nil
}

// Close stops advertising.
func (a *Advertiser) Close() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Browse discovers fabric instances on the LAN via mDNS, waiting up to
// timeout for responses.
func Browse(ctx context.Context, timeout time.Duration) ([]Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: new resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var results []Endpoint

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if len(e.AddrIPv4) == 0 {
				continue
			}
			ip := e.AddrIPv4[0]
			wsPath := attr(e, "ws")
			if wsPath == "" {
				wsPath = "/ws"
			}
			results = append(results, Endpoint{
				Name: e.Instance,
				IP:   ip,
				Port: e.Port,
				URL:  fmt.Sprintf("ws://%s:%d%s", ip.String(), e.Port, wsPath),
			})
		}
	}()

	err = resolver.Browse(ctx, serviceType, "local.", entries)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}

	<-ctx.Done()
	<-done

	return results, nil
}

func attr(e *zeroconf.ServiceEntry, key string) string {
	prefix := key + "="
	for _, t := range e.Text {
		if len(t) >= len(prefix) && t[:len(prefix)] == prefix {
			return t[len(prefix):]
		}
	}
	return ""
}
