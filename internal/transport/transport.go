// Package transport defines the boundary between the engine facade and the
// layer that performs stream I/O.
//
// The facade uses this interface exclusively so that tests and the scenario
// harness can inject the in-memory transport in transport/mem without real
// sockets.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/netengine/internal/netid"
	"github.com/roach88/netengine/internal/stream"
)

// ErrClosed is returned by OpenStream after Shutdown.
var ErrClosed = errors.New("transport closed")

// Proxy is an explicit HTTP proxy. The zero value means no proxy.
type Proxy struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Enabled reports whether a proxy is configured.
func (p Proxy) Enabled() bool {
	return p.Host != "" && p.Port > 0
}

// Settings are the transport's start parameters.
type Settings struct {
	LogLevel             string
	ConnectTimeout       time.Duration
	MaxConcurrentStreams int
	Proxy                Proxy
}

// Transport performs stream I/O over connection pools keyed by network
// binding.
type Transport interface {
	// Start begins asynchronous initialization. ready is called exactly
	// once, from any goroutine, with nil on success or the startup error.
	Start(ctx context.Context, s Settings, ready func(error))

	// OpenStream schedules s on a non-draining pool for s.Binding().
	// An error means the stream was not scheduled; the caller owns
	// delivering the failure to the stream.
	OpenStream(s *stream.Stream) error

	// DrainPools marks every pool for b as draining.
	DrainPools(b netid.Binding)

	// DrainAllPools marks every pool as draining.
	DrainAllPools()

	// RefreshDNS re-resolves cached hosts.
	RefreshDNS()

	// SetProxy replaces the proxy used by new connections.
	SetProxy(p Proxy)

	// SetLogLevel changes the transport's own log level.
	SetLogLevel(level string)

	// Stats returns transport counters as name/value pairs.
	Stats() map[string]string

	// Shutdown cancels open streams and releases every pool.
	Shutdown(ctx context.Context) error
}
