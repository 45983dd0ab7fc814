package netmon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"
)

// ProxySink receives proxy changes. The engine implements it.
type ProxySink interface {
	SetProxySettings(host string, port int) error
}

// EnvProxyMonitor reports the proxy named by HTTPS_PROXY or HTTP_PROXY
// (upper or lower case), re-reading the environment every interval.
type EnvProxyMonitor struct {
	getenv   func(string) string
	interval time.Duration

	mu       sync.Mutex
	last     string
	cancel   context.CancelFunc
	finished chan struct{}
}

// NewEnvProxyMonitor creates a proxy monitor. A nil getenv uses os.Getenv.
func NewEnvProxyMonitor(getenv func(string) string, interval time.Duration) *EnvProxyMonitor {
	if getenv == nil {
		getenv = os.Getenv
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &EnvProxyMonitor{getenv: getenv, interval: interval}
}

// Name implements lifecycle.Releaser.
func (p *EnvProxyMonitor) Name() string { return "proxy_monitor" }

// Start reports the current proxy and keeps polling until Release.
func (p *EnvProxyMonitor) Start(sink ProxySink) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return errors.New("proxy monitor already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.finished = make(chan struct{})
	p.mu.Unlock()

	p.check(sink)
	go func() {
		defer close(p.finished)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.check(sink)
			}
		}
	}()
	return nil
}

// Release stops polling.
func (p *EnvProxyMonitor) Release(ctx context.Context) error {
	p.mu.Lock()
	cancel, finished := p.cancel, p.finished
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *EnvProxyMonitor) check(sink ProxySink) {
	raw := p.lookup()

	p.mu.Lock()
	if raw == p.last {
		p.mu.Unlock()
		return
	}
	p.last = raw
	p.mu.Unlock()

	host, port, err := ParseProxy(raw)
	if err != nil {
		slog.Warn("ignoring malformed proxy setting", "value", raw, "error", err)
		return
	}
	if err := sink.SetProxySettings(host, port); err != nil {
		slog.Debug("proxy settings not applied", "error", err)
	}
}

func (p *EnvProxyMonitor) lookup() string {
	for _, key := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
		if v := p.getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// ParseProxy splits a proxy URL or host:port. An empty value clears the
// proxy and returns ("", 0). A missing port defaults to 80 for http and
// 443 for https.
func ParseProxy(raw string) (string, int, error) {
	if raw == "" {
		return "", 0, nil
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		port := u.Port()
		if port == "" {
			port = "80"
			if u.Scheme == "https" {
				port = "443"
			}
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return "", 0, err
		}
		return u.Hostname(), n, nil
	}
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return "", 0, err
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return "", 0, err
	}
	return host, n, nil
}
