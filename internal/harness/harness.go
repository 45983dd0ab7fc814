package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/netengine/internal/config"
	"github.com/roach88/netengine/internal/engine"
	"github.com/roach88/netengine/internal/errs"
	"github.com/roach88/netengine/internal/netid"
	"github.com/roach88/netengine/internal/reconcile"
	"github.com/roach88/netengine/internal/stream"
	"github.com/roach88/netengine/internal/testutil"
	"github.com/roach88/netengine/internal/transport/mem"
)

// stepTimeout bounds every wait on the engine within one step.
const stepTimeout = 5 * time.Second

// collector is a reconcile.Recorder buffering applied events until the
// harness takes them after each step.
type collector struct {
	mu      sync.Mutex
	applied []reconcile.Applied
}

func (c *collector) Record(_ context.Context, a reconcile.Applied) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = append(c.applied, a)
	return nil
}

func (c *collector) take() []reconcile.Applied {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.applied
	c.applied = nil
	return out
}

// Harness drives one engine through a scenario.
type Harness struct {
	engine    *engine.Engine
	transport *mem.Transport
	applied   *collector
	running   chan struct{}
	scenario  *Scenario
	result    *Result
}

// Run executes a scenario against a fresh engine over the in-memory
// transport and evaluates its assertions.
//
// Each scenario gets its own engine, and stream ids are sequential
// ("s-1", "s-2", ...), so identical scenarios produce identical traces.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		transport: mem.New(),
		applied:   &collector{},
		running:   make(chan struct{}),
		scenario:  scenario,
		result:    NewResult(),
	}

	var once sync.Once
	eng, err := engine.New(h.transport, engine.Options{
		OnRunning:                        func() { once.Do(func() { close(h.running) }) },
		DisableDNSRefreshOnNetworkChange: scenario.DisableDNSRefresh,
		Recorder:                         h.applied,
		StreamIDs:                        testutil.NewSequentialIDs("s"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	h.engine = eng
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
		defer cancel()
		if err := eng.Terminate(ctx); err != nil {
			slog.Warn("scenario engine did not terminate", "scenario", scenario.Name, "error", err)
		}
	}()

	for i, step := range scenario.Steps {
		if err := h.runStep(i+1, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	h.result.Final = eng.Connectivity()
	h.result.Pools = h.transport.Pools()

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) runStep(n int, step Step) error {
	if step.Call != "" {
		ev, err := h.call(step.Call)
		if err != nil {
			return err
		}
		ev.Step = n
		ev.Kind = KindCall
		ev.Call = step.Call
		h.result.Trace = append(h.result.Trace, ev)
	} else if err := h.submit(step); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	if err := h.engine.SyncConnectivity(ctx); err != nil && !errors.Is(err, reconcile.ErrStopped) {
		return fmt.Errorf("waiting for reconciler: %w", err)
	}
	for _, a := range h.applied.take() {
		h.result.Trace = append(h.result.Trace, traceEvent(n, a))
	}
	return nil
}

func (h *Harness) submit(step Step) error {
	kind, err := reconcile.ParseKind(step.Event)
	if err != nil {
		return err
	}
	t, err := netid.ParseConnectionType(step.Type)
	if err != nil {
		return err
	}
	id := netid.NetworkID(step.ID)

	switch kind {
	case reconcile.KindConnect:
		h.engine.OnNetworkConnect(t, id)
	case reconcile.KindDisconnect:
		h.engine.OnNetworkDisconnect(id)
	case reconcile.KindDefaultChanged:
		h.engine.OnDefaultNetworkChangedV2(t, id)
	case reconcile.KindLegacyDefaultChanged:
		h.engine.OnDefaultNetworkChanged(id)
	case reconcile.KindDefaultAvailable:
		h.engine.OnDefaultNetworkAvailable()
	case reconcile.KindDefaultUnavailable:
		h.engine.OnDefaultNetworkUnavailable()
	case reconcile.KindPurge:
		ids := make([]netid.NetworkID, len(step.IDs))
		for i, v := range step.IDs {
			ids[i] = netid.NetworkID(v)
		}
		h.engine.PurgeActiveNetworkList(ids)
	default:
		return fmt.Errorf("event %q cannot be submitted", step.Event)
	}
	return nil
}

func (h *Harness) call(name string) (TraceEvent, error) {
	var ev TraceEvent
	switch name {
	case CallStart:
		cfg := config.Default()
		cfg.MaxConcurrentStreams = h.scenario.MaxConcurrentStreams
		cfg.DisableDNSRefreshOnNetworkChange = h.scenario.DisableDNSRefresh
		if err := h.engine.RunWithConfig(cfg, ""); err != nil {
			ev.Err = errorCode(err)
			return ev, nil
		}
		select {
		case <-h.running:
		case <-time.After(stepTimeout):
			return ev, fmt.Errorf("engine did not reach running, state %s", h.engine.State())
		}

	case CallStream:
		s, err := h.engine.StartStream(stream.Callbacks{}, false)
		if err != nil {
			ev.Err = errorCode(err)
			return ev, nil
		}
		ev.Stream = s.ID()
		ev.Binding = s.Binding().String()

	case CallReset:
		if err := h.engine.ResetConnectivityState(); err != nil {
			ev.Err = errorCode(err)
		}

	case CallTerminate:
		ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
		defer cancel()
		if err := h.engine.Terminate(ctx); err != nil {
			return ev, fmt.Errorf("terminate: %w", err)
		}

	default:
		return ev, fmt.Errorf("unknown call %q", name)
	}
	return ev, nil
}

func errorCode(err error) string {
	if code := errs.CodeOf(err); code != "" {
		return string(code)
	}
	return err.Error()
}

func traceEvent(step int, a reconcile.Applied) TraceEvent {
	ev := TraceEvent{
		Step:         step,
		Seq:          a.Seq,
		Kind:         a.Event.Kind.String(),
		ID:           int64(a.Event.ID),
		Changed:      a.Changed,
		DrainedAll:   a.DrainedAll,
		RefreshedDNS: a.RefreshedDNS,
		Default:      defaultString(a.Snapshot),
	}
	switch a.Event.Kind {
	case reconcile.KindConnect, reconcile.KindDefaultChanged:
		ev.Type = a.Event.Type.String()
	}
	for _, id := range a.Event.IDs {
		ev.IDs = append(ev.IDs, int64(id))
	}
	for _, b := range a.Drained {
		ev.Drained = append(ev.Drained, b.String())
	}
	ev.Active = activeIDs(a.Snapshot)
	return ev
}

func activeIDs(s netid.Snapshot) []int64 {
	out := make([]int64, len(s.Active))
	for i, id := range s.Active {
		out[i] = int64(id)
	}
	return out
}

func defaultString(s netid.Snapshot) string {
	if s.Default == nil {
		return "none"
	}
	return fmt.Sprintf("%d/%s", s.Default.ID, s.Default.Type)
}
