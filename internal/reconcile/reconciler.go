package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/netengine/internal/netid"
)

// ErrStopped is returned by Barrier once the reconciler no longer runs.
var ErrStopped = errors.New("reconciler stopped")

// PoolController receives the pool commands produced by reconciliation.
// Commands are issued while the reconciler holds its lock, so an
// implementation must not call back into the Reconciler.
type PoolController interface {
	// DrainPools marks every pool keyed by b as draining: no new streams
	// are scheduled on it, in-flight streams run to completion.
	DrainPools(b netid.Binding)

	// DrainAllPools marks every pool as draining.
	DrainAllPools()

	// RefreshDNS asks the transport to re-resolve cached hosts.
	RefreshDNS()
}

// Recorder observes applied events, in apply order.
type Recorder interface {
	Record(ctx context.Context, a Applied) error
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRecorder attaches a recorder for applied events.
func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) {
		r.recorder = rec
	}
}

// WithDNSRefresh controls whether default-network changes also trigger a
// DNS refresh. Enabled by default.
func WithDNSRefresh(enabled bool) Option {
	return func(r *Reconciler) {
		r.dnsRefresh = enabled
	}
}

// Reconciler owns the network registry and turns connectivity events into
// pool commands.
//
// Thread-safety model:
//   - Enqueue(), Barrier(), Snapshot(), Binding(): safe from any goroutine
//   - Apply(): safe from any goroutine; serialized by the internal lock
//   - Run(): must be called from exactly one goroutine
//
// Every registry mutation and the pool commands it produces happen under a
// single lock, so concurrent events are applied atomically in the order
// the lock admits them. With Run in use, that order is the queue's FIFO order.
type Reconciler struct {
	mu         sync.Mutex
	reg        *netid.Registry
	pools      PoolController
	seq        int64 // last applied sequence number, guarded by mu
	recorder   Recorder
	dnsRefresh bool

	queue   *eventQueue
	binding atomic.Pointer[netid.Binding]

	runOnce sync.Once
	stopped chan struct{}
}

// New creates a Reconciler driving pools.
func New(pools PoolController, opts ...Option) *Reconciler {
	r := &Reconciler{
		reg:        netid.NewRegistry(),
		pools:      pools,
		dnsRefresh: true,
		queue:      newEventQueue(),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	unbound := netid.Unbound
	r.binding.Store(&unbound)
	return r
}

// Enqueue submits an event for the Run loop.
// Returns false once the reconciler has been stopped.
func (r *Reconciler) Enqueue(ev Event) bool {
	if ev.Kind == kindBarrier {
		return false
	}
	return r.queue.push(ev)
}

// Run applies queued events until ctx is cancelled or Stop is called.
// Events queued before Stop are still applied.
func (r *Reconciler) Run(ctx context.Context) error {
	started := false
	r.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("reconciler: Run called more than once")
	}
	defer close(r.stopped)

	slog.Debug("reconciler starting")
	for {
		batch, closed := r.queue.take()
		for _, ev := range batch {
			if ev.Kind == kindBarrier {
				close(ev.done)
				continue
			}
			r.Apply(ctx, ev)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			slog.Debug("reconciler stopping: queue closed")
			return nil
		}

		select {
		case <-ctx.Done():
			slog.Debug("reconciler stopping: context cancelled")
			r.queue.close()
			return ctx.Err()
		case <-r.queue.ready():
		}
	}
}

// Stop closes the event queue. Run returns after applying what was queued.
func (r *Reconciler) Stop() {
	r.queue.close()
}

// Stopped is closed when Run returns.
func (r *Reconciler) Stopped() <-chan struct{} {
	return r.stopped
}

// Barrier blocks until every event enqueued before the call was applied.
func (r *Reconciler) Barrier(ctx context.Context) error {
	done := make(chan struct{})
	if !r.queue.push(Event{Kind: kindBarrier, done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-r.stopped:
		// Run may have consumed the barrier right before exiting.
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueLen returns the number of events waiting to be applied.
func (r *Reconciler) QueueLen() int {
	return r.queue.len()
}

// Snapshot returns a copy of the registry.
func (r *Reconciler) Snapshot() netid.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.Snapshot()
}

// Binding returns the pool binding new streams should use. It never blocks
// on the reconciler lock, so stream creation cannot stall behind an event
// being applied.
func (r *Reconciler) Binding() netid.Binding {
	return *r.binding.Load()
}

// Apply applies a single event synchronously and returns its record.
// Inconsistent or out-of-order events are absorbed, never rejected.
func (r *Reconciler) Apply(ctx context.Context, ev Event) Applied {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	a := Applied{Seq: r.seq, Event: ev}
	a.Event.done = nil

	switch ev.Kind {
	case KindConnect:
		a.Changed = r.reg.Connect(ev.Type, ev.ID)
		if !a.Changed {
			slog.Debug("duplicate network connect absorbed", "net_id", ev.ID, "source", ev.Source)
		}

	case KindDisconnect:
		removed, _ := r.reg.Disconnect(ev.ID)
		if removed {
			a.Changed = true
			r.drain(&a, netid.BindTo(ev.ID))
		} else {
			slog.Debug("disconnect of inactive network absorbed", "net_id", ev.ID, "source", ev.Source)
		}

	case KindDefaultChanged, KindLegacyDefaultChanged:
		r.setDefault(&a, ev.Type, ev.ID)

	case KindDefaultAvailable:
		if restored := r.reg.RestoreDefault(); restored != nil {
			a.Changed = true
			r.drain(&a, netid.Unbound)
			r.refreshDNS(&a)
		} else {
			slog.Debug("default available with nothing to restore", "source", ev.Source)
		}

	case KindDefaultUnavailable:
		if prev := r.reg.ClearDefault(); prev != nil {
			a.Changed = true
			r.drain(&a, netid.BindTo(prev.ID))
		}

	case KindPurge:
		removed, protected := r.reg.Purge(ev.IDs)
		if protected {
			slog.Warn("purge skipped the default network", "net_id", r.reg.Default().ID, "source", ev.Source)
		}
		for _, id := range removed {
			a.Changed = true
			r.drain(&a, netid.BindTo(id))
		}

	case KindReset:
		r.reg.Reset()
		a.Changed = true
		a.DrainedAll = true
		r.pools.DrainAllPools()

	default:
		slog.Warn("unknown connectivity event ignored", "kind", ev.Kind)
	}

	if err := r.reg.CheckInvariants(); err != nil {
		// Unreachable unless the registry is broken; keep running.
		slog.Error("network registry invariant violated", "error", err, "seq", a.Seq)
	}

	a.Snapshot = r.reg.Snapshot()
	binding := a.Snapshot.Binding()
	r.binding.Store(&binding)

	slog.Debug("connectivity event applied",
		"seq", a.Seq,
		"kind", ev.Kind,
		"net_id", ev.ID,
		"changed", a.Changed,
		"binding", binding,
		"active", len(a.Snapshot.Active),
	)

	if r.recorder != nil {
		if err := r.recorder.Record(ctx, a); err != nil {
			// Log and continue: the journal is diagnostics only.
			slog.Error("recording connectivity event failed", "error", err, "seq", a.Seq, "kind", ev.Kind)
		}
	}

	return a
}

// setDefault handles both default-changed variants. Whichever arrives last
// wins; the legacy form simply carries no type.
func (r *Reconciler) setDefault(a *Applied, t netid.ConnectionType, id netid.NetworkID) {
	prev, added := r.reg.SetDefault(t, id)
	if added {
		slog.Debug("default network seen before its connect", "net_id", id)
	}
	if prev != nil && prev.ID == id {
		a.Changed = added || prev.Type != r.reg.Default().Type
		return
	}
	a.Changed = true
	if prev == nil {
		r.drain(a, netid.Unbound)
	} else {
		r.drain(a, netid.BindTo(prev.ID))
	}
	r.refreshDNS(a)
}

func (r *Reconciler) drain(a *Applied, b netid.Binding) {
	a.Drained = append(a.Drained, b)
	r.pools.DrainPools(b)
}

func (r *Reconciler) refreshDNS(a *Applied) {
	if !r.dnsRefresh {
		return
	}
	a.RefreshedDNS = true
	r.pools.RefreshDNS()
}
