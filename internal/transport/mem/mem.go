// Package mem is an in-process transport for tests, the scenario harness and
// the CLI's dry runs. It keeps real pool bookkeeping (one pool per binding,
// draining pools retired when their last stream finishes) but performs no I/O;
// responses come from an optional Responder.
package mem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/roach88/netengine/internal/netid"
	"github.com/roach88/netengine/internal/stream"
	"github.com/roach88/netengine/internal/transport"
)

// ErrTooManyStreams is returned by OpenStream when MaxConcurrentStreams is reached.
var ErrTooManyStreams = errors.New("too many concurrent streams")

// Responder drives an opened stream. It runs on its own goroutine.
type Responder func(s *stream.Stream)

// Option configures a Transport.
type Option func(*Transport)

// WithResponder sets the function that answers opened streams. Without one,
// streams stay open until cancelled or shut down.
func WithResponder(r Responder) Option {
	return func(t *Transport) {
		t.responder = r
	}
}

// WithStartGate delays the ready callback until gate is closed.
func WithStartGate(gate <-chan struct{}) Option {
	return func(t *Transport) {
		t.gate = gate
	}
}

// WithStartError makes Start report err instead of success.
func WithStartError(err error) Option {
	return func(t *Transport) {
		t.startErr = err
	}
}

// PoolInfo describes one pool.
type PoolInfo struct {
	ID       int
	Binding  netid.Binding
	Draining bool
	Streams  int
}

type pool struct {
	id       int
	binding  netid.Binding
	draining bool
	streams  map[string]*stream.Stream
}

// Transport is the in-memory transport.
//
// Thread-safety: all methods are safe for concurrent use.
type Transport struct {
	responder Responder
	gate      <-chan struct{}
	startErr  error

	mu       sync.Mutex
	settings transport.Settings
	started  bool
	closed   bool
	nextPool int
	pools    map[int]*pool
	active   map[netid.Binding]*pool // the accepting pool per binding

	opened      uint64
	drains      uint64
	dnsRefresh  uint64
	proxy       transport.Proxy
	logLevel    string
	retiredPool uint64
}

var _ transport.Transport = (*Transport)(nil)

// New creates a Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		pools:  make(map[int]*pool),
		active: make(map[netid.Binding]*pool),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start records the settings and reports readiness asynchronously.
func (t *Transport) Start(ctx context.Context, s transport.Settings, ready func(error)) {
	t.mu.Lock()
	t.settings = s
	t.proxy = s.Proxy
	t.logLevel = s.LogLevel
	t.mu.Unlock()

	go func() {
		if t.gate != nil {
			select {
			case <-t.gate:
			case <-ctx.Done():
				ready(ctx.Err())
				return
			}
		}
		if t.startErr != nil {
			ready(t.startErr)
			return
		}
		t.mu.Lock()
		t.started = true
		t.mu.Unlock()
		ready(nil)
	}()
}

// OpenStream places s on the accepting pool for its binding, creating one
// if every existing pool for that binding is draining.
func (t *Transport) OpenStream(s *stream.Stream) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	if !t.started {
		t.mu.Unlock()
		return fmt.Errorf("open stream %s: transport not started", s.ID())
	}
	if limit := t.settings.MaxConcurrentStreams; limit > 0 && t.openLocked() >= limit {
		t.mu.Unlock()
		return fmt.Errorf("open stream %s: %w", s.ID(), ErrTooManyStreams)
	}

	p := t.active[s.Binding()]
	if p == nil {
		t.nextPool++
		p = &pool{id: t.nextPool, binding: s.Binding(), streams: make(map[string]*stream.Stream)}
		t.pools[p.id] = p
		t.active[p.binding] = p
	}
	p.streams[s.ID()] = s
	t.opened++
	responder := t.responder
	t.mu.Unlock()

	go func() {
		<-s.Done()
		t.release(p, s.ID())
	}()
	if responder != nil {
		go responder(s)
	}
	return nil
}

func (t *Transport) release(p *pool, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(p.streams, id)
	t.retireLocked(p)
}

// retireLocked removes p if it is draining and idle.
func (t *Transport) retireLocked(p *pool) {
	if p.draining && len(p.streams) == 0 {
		if _, ok := t.pools[p.id]; ok {
			delete(t.pools, p.id)
			t.retiredPool++
		}
	}
}

// DrainPools marks the pools for b as draining.
func (t *Transport) DrainPools(b netid.Binding) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drains++
	for _, p := range t.pools {
		if p.binding == b {
			t.drainLocked(p)
		}
	}
	slog.Debug("pools draining", "binding", b.String())
}

// DrainAllPools marks every pool as draining.
func (t *Transport) DrainAllPools() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drains++
	for _, p := range t.pools {
		t.drainLocked(p)
	}
	slog.Debug("all pools draining")
}

func (t *Transport) drainLocked(p *pool) {
	p.draining = true
	if t.active[p.binding] == p {
		delete(t.active, p.binding)
	}
	t.retireLocked(p)
}

// RefreshDNS counts the refresh; there is no resolver cache to flush.
func (t *Transport) RefreshDNS() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dnsRefresh++
}

// SetProxy replaces the proxy.
func (t *Transport) SetProxy(p transport.Proxy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.proxy = p
}

// SetLogLevel records the level.
func (t *Transport) SetLogLevel(level string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logLevel = level
}

// Proxy returns the current proxy.
func (t *Transport) Proxy() transport.Proxy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proxy
}

// LogLevel returns the current log level.
func (t *Transport) LogLevel() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logLevel
}

// Pools returns every live pool ordered by id.
func (t *Transport) Pools() []PoolInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PoolInfo, 0, len(t.pools))
	for _, p := range t.pools {
		out = append(out, PoolInfo{ID: p.id, Binding: p.binding, Draining: p.draining, Streams: len(p.streams)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats implements transport.Transport.
func (t *Transport) Stats() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var accepting, draining int
	for _, p := range t.pools {
		if p.draining {
			draining++
		} else {
			accepting++
		}
	}
	proxy := "none"
	if t.proxy.Enabled() {
		proxy = t.proxy.Host + ":" + strconv.Itoa(t.proxy.Port)
	}
	return map[string]string{
		"pools.accepting": strconv.Itoa(accepting),
		"pools.draining":  strconv.Itoa(draining),
		"pools.retired":   strconv.FormatUint(t.retiredPool, 10),
		"streams.open":    strconv.Itoa(t.openLocked()),
		"streams.opened":  strconv.FormatUint(t.opened, 10),
		"drains":          strconv.FormatUint(t.drains, 10),
		"dns.refreshes":   strconv.FormatUint(t.dnsRefresh, 10),
		"proxy":           proxy,
		"log_level":       t.logLevel,
	}
}

func (t *Transport) openLocked() int {
	n := 0
	for _, p := range t.pools {
		n += len(p.streams)
	}
	return n
}

// Shutdown cancels every open stream and drops all pools. Idempotent.
func (t *Transport) Shutdown(_ context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var open []*stream.Stream
	for _, p := range t.pools {
		for _, s := range p.streams {
			open = append(open, s)
		}
	}
	t.mu.Unlock()

	for _, s := range open {
		s.Cancel()
	}

	t.mu.Lock()
	t.pools = make(map[int]*pool)
	t.active = make(map[netid.Binding]*pool)
	t.mu.Unlock()

	slog.Debug("transport shut down", "cancelled_streams", len(open))
	return nil
}
