package engine

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/roach88/netengine/internal/lifecycle"
	"github.com/roach88/netengine/internal/netid"
	"github.com/roach88/netengine/internal/netmon"
	"github.com/roach88/netengine/internal/reconcile"
)

var (
	_ netmon.ConnectivitySink = (*Engine)(nil)
	_ netmon.ProxySink        = (*Engine)(nil)
)

// Connectivity events are accepted in every state and never fail: they are
// queued for the reconciler and applied in arrival order. Once the engine
// is terminated they are dropped.

// OnNetworkConnect reports that network id of type t is connected.
func (e *Engine) OnNetworkConnect(t netid.ConnectionType, id netid.NetworkID) {
	e.submit(reconcile.Connect(t, id))
}

// OnNetworkDisconnect reports that network id went away.
func (e *Engine) OnNetworkDisconnect(id netid.NetworkID) {
	e.submit(reconcile.Disconnect(id))
}

// OnDefaultNetworkChangedV2 reports a new default network.
func (e *Engine) OnDefaultNetworkChangedV2(t netid.ConnectionType, id netid.NetworkID) {
	e.submit(reconcile.DefaultChanged(t, id))
}

// OnDefaultNetworkChanged is the legacy form of OnDefaultNetworkChangedV2
// with no connection type.
func (e *Engine) OnDefaultNetworkChanged(id netid.NetworkID) {
	e.submit(reconcile.LegacyDefaultChanged(id))
}

// OnDefaultNetworkChangeEvent is the change-event spelling of
// OnDefaultNetworkChanged used by monitors in change-event mode.
func (e *Engine) OnDefaultNetworkChangeEvent(id netid.NetworkID) {
	e.submit(reconcile.LegacyDefaultChanged(id).WithSource("change_event"))
}

// OnDefaultNetworkAvailable reports that a default network exists again
// without naming it. The last default is restored if it is still active.
func (e *Engine) OnDefaultNetworkAvailable() {
	e.submit(reconcile.DefaultAvailable())
}

// OnDefaultNetworkUnavailable reports that there is no default network.
func (e *Engine) OnDefaultNetworkUnavailable() {
	e.submit(reconcile.DefaultUnavailable())
}

// PurgeActiveNetworkList drops ids from the active set, except the
// current default.
func (e *Engine) PurgeActiveNetworkList(ids []netid.NetworkID) {
	e.submit(reconcile.Purge(ids))
}

func (e *Engine) submit(ev reconcile.Event) {
	if !e.recon.Enqueue(ev) {
		slog.Debug("connectivity event after terminate dropped", "kind", ev.Kind, "net_id", ev.ID)
	}
}

// pools forwards reconciler pool commands to the transport while the
// engine is running. In any other state there are no live pools to drain.
type pools struct{ e *Engine }

func (p pools) DrainPools(b netid.Binding) {
	p.whileRunning(func() { p.e.transport.DrainPools(b) })
}

func (p pools) DrainAllPools() {
	p.whileRunning(func() { p.e.transport.DrainAllPools() })
}

func (p pools) RefreshDNS() {
	p.whileRunning(func() { p.e.transport.RefreshDNS() })
}

func (p pools) whileRunning(fn func()) {
	_ = p.e.machine.Observe(func(s lifecycle.State) error {
		if s == lifecycle.StateRunning {
			fn()
		}
		return nil
	})
}

// recorder reports default-network changes to the event tracker and
// forwards every applied event to Options.Recorder.
type recorder struct{ e *Engine }

func (r recorder) Record(ctx context.Context, a reconcile.Applied) error {
	if a.Changed {
		switch a.Event.Kind {
		case reconcile.KindDefaultChanged, reconcile.KindLegacyDefaultChanged,
			reconcile.KindDefaultAvailable, reconcile.KindDefaultUnavailable, reconcile.KindReset:
			ev := map[string]string{
				"name":    "default_network_changed",
				"cause":   a.Event.Kind.String(),
				"binding": a.Snapshot.Binding().String(),
				"seq":     strconv.FormatInt(a.Seq, 10),
			}
			if d := a.Snapshot.Default; d != nil {
				ev["type"] = d.Type.String()
			}
			r.e.track(ev)
		}
	}
	if r.e.opts.Recorder != nil {
		return r.e.opts.Recorder.Record(ctx, a)
	}
	return nil
}
