package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/netengine/internal/config"
	"github.com/roach88/netengine/internal/errs"
	"github.com/roach88/netengine/internal/lifecycle"
	"github.com/roach88/netengine/internal/logging"
	"github.com/roach88/netengine/internal/netid"
	"github.com/roach88/netengine/internal/netmon"
	"github.com/roach88/netengine/internal/reconcile"
	"github.com/roach88/netengine/internal/stream"
	"github.com/roach88/netengine/internal/telemetry"
	"github.com/roach88/netengine/internal/transport"
)

// Logger receives engine log lines. logging.Sink implements it.
type Logger interface {
	Log(level logging.Level, msg string)
}

// EventTracker receives structured engine events. logging.Sink implements it.
type EventTracker interface {
	Track(event map[string]string)
}

// levelSetter is implemented by loggers whose level follows SetLogLevel.
type levelSetter interface {
	SetLevel(level logging.Level)
}

// NetworkMonitor is a platform component that reports connectivity changes.
type NetworkMonitor interface {
	lifecycle.Releaser
	Start(sink netmon.ConnectivitySink) error
}

// ProxyMonitor is a platform component that reports proxy changes.
type ProxyMonitor interface {
	lifecycle.Releaser
	Start(sink netmon.ProxySink) error
}

// changeEventSetter is implemented by network monitors that can report
// default changes through the single-id change event.
type changeEventSetter interface {
	UseChangeEvent(enabled bool)
}

// Options configure an Engine at construction.
type Options struct {
	// OnRunning is called once when the engine reaches Running.
	OnRunning func()

	Logger       Logger
	EventTracker EventTracker

	// EnableProxying registers ProxyMonitor. Without it no proxy monitor
	// is started even if one is given.
	EnableProxying bool

	// UseNetworkChangeEvent asks NetworkMonitor to report default changes
	// through OnDefaultNetworkChangeEvent.
	UseNetworkChangeEvent bool

	// DisableDNSRefreshOnNetworkChange suppresses the DNS refresh issued on
	// every default-network change.
	DisableDNSRefreshOnNetworkChange bool

	NetworkMonitor NetworkMonitor
	ProxyMonitor   ProxyMonitor

	// Recorder observes every applied connectivity event (e.g. a journal).
	Recorder reconcile.Recorder

	// StreamIDs generates stream ids. Defaults to UUIDv7.
	StreamIDs stream.IDGenerator

	// Platform, when set, must be initialized; the engine attaches to it
	// for its lifetime.
	Platform *Platform
}

// NamedAccessor pairs a stat name with its accessor.
type NamedAccessor struct {
	Name     string
	Accessor telemetry.Accessor
}

// Registration is a batch of string accessors registered together.
type Registration struct {
	Accessors []NamedAccessor
}

// Engine is the public operation surface over one transport.
//
// Connectivity events may arrive in any state and are applied in arrival
// order by a single reconciler goroutine. Every other operation is gated by
// the lifecycle machine: it runs against the transport only while Running,
// and a call racing Terminate either completes before the transport is
// released or fails with EngineNotRunning.
//
// Thread-safety: all methods are safe for concurrent use.
type Engine struct {
	opts      Options
	transport transport.Transport
	machine   *lifecycle.Machine
	recon     *reconcile.Reconciler
	stats     *telemetry.Registry
	ids       stream.IDGenerator

	mu       sync.Mutex
	proxy    transport.Proxy
	proxySet bool
	logLevel logging.Level
}

// New creates an engine over t, starts the reconciler and registers the
// platform monitors. The transport is not started until RunWithConfig.
func New(t transport.Transport, opts Options) (*Engine, error) {
	e := &Engine{
		opts:      opts,
		transport: t,
		stats:     telemetry.NewRegistry(),
		ids:       opts.StreamIDs,
		logLevel:  logging.LevelInfo,
	}
	if e.ids == nil {
		e.ids = stream.UUIDv7Generator{}
	}
	e.machine = lifecycle.New(e.running)

	if p := opts.Platform; p != nil {
		if err := p.attach(e); err != nil {
			return nil, fmt.Errorf("attach engine: %w", err)
		}
		e.machine.Own(lifecycle.Resource("platform", func(context.Context) error {
			p.detach(e)
			return nil
		}))
	}

	e.recon = reconcile.New(pools{e},
		reconcile.WithRecorder(recorder{e}),
		reconcile.WithDNSRefresh(!opts.DisableDNSRefreshOnNetworkChange),
	)
	go func() {
		if err := e.recon.Run(context.Background()); err != nil {
			slog.Error("reconciler exited", "error", err)
		}
	}()
	e.machine.Own(lifecycle.Resource("reconciler", func(ctx context.Context) error {
		e.recon.Stop()
		select {
		case <-e.recon.Stopped():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	if mon := opts.NetworkMonitor; mon != nil {
		if cs, ok := mon.(changeEventSetter); ok {
			cs.UseChangeEvent(opts.UseNetworkChangeEvent)
		}
		if err := mon.Start(e); err != nil {
			_ = e.machine.Terminate(context.Background())
			return nil, fmt.Errorf("start network monitor: %w", err)
		}
		e.machine.Own(mon)
	}
	if mon := opts.ProxyMonitor; mon != nil && opts.EnableProxying {
		if err := mon.Start(e); err != nil {
			_ = e.machine.Terminate(context.Background())
			return nil, fmt.Errorf("start proxy monitor: %w", err)
		}
		e.machine.Own(mon)
	}

	return e, nil
}

// RunWithConfig validates cfg and starts the transport asynchronously.
// A non-empty logLevel overrides cfg.LogLevel.
//
// Validation failures are ConfigInvalid and leave the engine in Created.
// The engine reports Running through Options.OnRunning once the transport
// signals it is ready.
func (e *Engine) RunWithConfig(cfg *config.Config, logLevel string) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return errs.Wrap(errs.CodeConfigInvalid, "run_with_config", err)
	}

	return e.machine.Start(func() error {
		e.mu.Lock()
		if !e.proxySet {
			e.proxy = transport.Proxy{Host: cfg.Proxy.Host, Port: cfg.Proxy.Port}
		}
		e.logLevel = level
		settings := transport.Settings{
			LogLevel:             level.String(),
			ConnectTimeout:       cfg.ConnectTimeout(),
			MaxConcurrentStreams: cfg.MaxConcurrentStreams,
			Proxy:                e.proxy,
		}
		e.mu.Unlock()

		if ls, ok := e.opts.Logger.(levelSetter); ok {
			ls.SetLevel(level)
		}

		ctx, cancel := context.WithCancel(context.Background())
		if !e.machine.Own(lifecycle.Resource("transport", func(ctx context.Context) error {
			cancel()
			return e.transport.Shutdown(ctx)
		})) {
			cancel()
			return errs.NotRunning("run_with_config", e.machine.State().String())
		}

		e.log(logging.LevelInfo, "engine starting")
		e.transport.Start(ctx, settings, e.transportReady)
		return nil
	})
}

// transportReady is the transport's completion signal.
func (e *Engine) transportReady(err error) {
	if err != nil && e.machine.State() >= lifecycle.StateTerminating {
		slog.Debug("transport start abandoned by terminate", "error", err)
		return
	}
	if err != nil {
		e.log(logging.LevelCritical, "engine startup failed: "+err.Error())
		e.track(map[string]string{"name": "engine_startup_failed", "error": err.Error()})
		if terr := e.machine.Terminate(context.Background()); terr != nil {
			slog.Error("terminate after startup failure", "error", terr)
		}
		return
	}
	if err := e.machine.MarkRunning(); err != nil {
		// Terminate won the race; the engine never runs.
		slog.Debug("transport ready after terminate", "error", err)
	}
}

// running is the lifecycle machine's on-running callback.
func (e *Engine) running() {
	e.log(logging.LevelInfo, "engine running")
	e.track(map[string]string{"name": "engine_running"})
	if e.opts.OnRunning != nil {
		e.opts.OnRunning()
	}
}

// Terminate shuts the engine down and waits until it is Terminated or ctx
// is done. Safe to call any number of times from any goroutine; every call
// returns nil once the engine is Terminated.
func (e *Engine) Terminate(ctx context.Context) error {
	if err := e.machine.Terminate(ctx); err != nil {
		return err
	}
	select {
	case <-e.machine.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the engine reaches Terminated.
func (e *Engine) Done() <-chan struct{} {
	return e.machine.Done()
}

// State returns the lifecycle state.
func (e *Engine) State() lifecycle.State {
	return e.machine.State()
}

// StartStream creates a stream bound to the current default network (or
// unbound when there is none) and hands it to the transport.
//
// Fails with EngineNotRunning outside Running. Once a stream is returned,
// every failure reaches it through its terminal callback, never from here.
func (e *Engine) StartStream(cb stream.Callbacks, explicitFlowControl bool) (*stream.Stream, error) {
	var s *stream.Stream
	err := e.machine.Admit("start_stream", lifecycle.Immediate, nil, func() error {
		s = stream.New(e.ids.Generate(), e.recon.Binding(), explicitFlowControl, cb)
		if err := e.transport.OpenStream(s); err != nil {
			go s.Fail(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterStringAccessor registers a string stat. Allowed while Starting,
// in which case the binding is replayed on Running; the duplicate check is
// immediate either way.
func (e *Engine) RegisterStringAccessor(name string, fn telemetry.Accessor) error {
	return e.machine.Admit("register_string_accessor", lifecycle.Bufferable,
		func() error { return e.stats.ReserveAccessor(name) },
		func() error { return e.stats.BindAccessor(name, fn) },
	)
}

// UnregisterStringAccessor removes a string stat.
func (e *Engine) UnregisterStringAccessor(name string) error {
	return e.machine.Admit("unregister_string_accessor", lifecycle.Immediate, nil, func() error {
		return e.stats.UnregisterStringAccessor(name)
	})
}

// PerformRegistration registers every accessor in reg, or none of them.
// Allowed while Starting.
func (e *Engine) PerformRegistration(reg Registration) error {
	reserve := func() error {
		for i, a := range reg.Accessors {
			if err := e.stats.ReserveAccessor(a.Name); err != nil {
				for _, done := range reg.Accessors[:i] {
					_ = e.stats.UnregisterStringAccessor(done.Name)
				}
				return err
			}
		}
		return nil
	}
	apply := func() error {
		for _, a := range reg.Accessors {
			if err := e.stats.BindAccessor(a.Name, a.Accessor); err != nil {
				return err
			}
		}
		return nil
	}
	return e.machine.Admit("perform_registration", lifecycle.Bufferable, reserve, apply)
}

// RecordCounterInc adds count to a counter series. The first increment of
// a name fixes its tag keys.
func (e *Engine) RecordCounterInc(name string, tags telemetry.Tags, count uint64) error {
	return e.machine.Admit("record_counter_inc", lifecycle.Immediate, nil, func() error {
		return e.stats.IncCounter(name, tags, count)
	})
}

// UnregisterCounter removes a counter.
func (e *Engine) UnregisterCounter(name string) error {
	return e.machine.Admit("unregister_counter", lifecycle.Immediate, nil, func() error {
		return e.stats.UnregisterCounter(name)
	})
}

// DumpStats renders engine, connectivity, registered and transport stats,
// one "name: value" line each. Allowed in any state: outside Running the
// transport section is omitted and the text comes back together with an
// EngineNotRunning error.
func (e *Engine) DumpStats() (string, error) {
	var b strings.Builder
	var transportStats map[string]string
	var notRunning error

	_ = e.machine.Observe(func(s lifecycle.State) error {
		fmt.Fprintf(&b, "engine.state: %s\n", s)
		if s == lifecycle.StateRunning {
			transportStats = e.transport.Stats()
		} else {
			notRunning = errs.NotRunning("dump_stats", s.String())
		}
		return nil
	})

	snap := e.recon.Snapshot()
	active := make([]string, len(snap.Active))
	for i, id := range snap.Active {
		active[i] = strconv.FormatInt(int64(id), 10)
	}
	fmt.Fprintf(&b, "connectivity.active: [%s]\n", strings.Join(active, ","))
	if snap.Default != nil {
		fmt.Fprintf(&b, "connectivity.default: %d (%s)\n", snap.Default.ID, snap.Default.Type)
	} else {
		b.WriteString("connectivity.default: none\n")
	}

	b.WriteString(e.stats.Dump())

	keys := make([]string, 0, len(transportStats))
	for k := range transportStats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "transport.%s: %s\n", k, transportStats[k])
	}
	return b.String(), notRunning
}

// SetLogLevel changes the log level. Allowed in any state: the logger
// follows immediately; the transport follows now when Running, on Running
// when Starting, and otherwise the call returns EngineNotRunning after
// recording the level for the next start.
func (e *Engine) SetLogLevel(level string) error {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return errs.Wrap(errs.CodeConfigInvalid, "set_log_level", err)
	}
	e.mu.Lock()
	e.logLevel = lvl
	e.mu.Unlock()
	if ls, ok := e.opts.Logger.(levelSetter); ok {
		ls.SetLevel(lvl)
	}
	return e.machine.Admit("set_log_level", lifecycle.Bufferable, nil, func() error {
		e.transport.SetLogLevel(lvl.String())
		return nil
	})
}

// LogLevel returns the last level set.
func (e *Engine) LogLevel() logging.Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logLevel
}

// SetProxySettings replaces the explicit proxy; an empty host clears it.
// Allowed in any state with the same best-effort rules as SetLogLevel.
func (e *Engine) SetProxySettings(host string, port int) error {
	if host != "" && (port <= 0 || port > 65535) {
		return errs.New(errs.CodeConfigInvalid, "set_proxy_settings", "invalid proxy port %d", port)
	}
	p := transport.Proxy{Host: host, Port: port}
	if host == "" {
		p = transport.Proxy{}
	}
	e.mu.Lock()
	e.proxy = p
	e.proxySet = true
	e.mu.Unlock()

	e.track(map[string]string{"name": "proxy_changed", "host": p.Host, "port": strconv.Itoa(p.Port)})
	return e.machine.Admit("set_proxy_settings", lifecycle.Bufferable, nil, func() error {
		e.transport.SetProxy(p)
		return nil
	})
}

// Proxy returns the last proxy set.
func (e *Engine) Proxy() transport.Proxy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proxy
}

// ResetConnectivityState forgets every active network and the default and
// drains every pool. State is rebuilt from subsequent platform events.
func (e *Engine) ResetConnectivityState() error {
	return e.machine.Admit("reset_connectivity_state", lifecycle.Immediate, nil, func() error {
		e.recon.Enqueue(reconcile.Reset())
		return nil
	})
}

// Connectivity returns the applied connectivity state. Events still queued
// are not reflected; call SyncConnectivity first to include them.
func (e *Engine) Connectivity() netid.Snapshot {
	return e.recon.Snapshot()
}

// SyncConnectivity waits until every connectivity event submitted before
// the call has been applied.
func (e *Engine) SyncConnectivity(ctx context.Context) error {
	return e.recon.Barrier(ctx)
}

func (e *Engine) log(level logging.Level, msg string) {
	if e.opts.Logger != nil {
		e.opts.Logger.Log(level, msg)
	}
}

func (e *Engine) track(event map[string]string) {
	if e.opts.EventTracker != nil {
		e.opts.EventTracker.Track(event)
	}
}
