package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/netengine/internal/errs"
)

// State is the engine lifecycle state.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateTerminating
	StateTerminated
)

var stateNames = [...]string{"created", "starting", "running", "terminating", "terminated"}

// String returns the lowercase state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrInvalidTransition is returned when a transition is not in the table.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
}

// AdmitMode controls what Admit does with a call made before Running.
type AdmitMode int

const (
	// Immediate calls fail with EngineNotRunning unless the state is Running.
	Immediate AdmitMode = iota
	// Bufferable calls made while Starting are queued and replayed in FIFO
	// order when the engine reaches Running.
	Bufferable
)

// Releaser is a resource owned by the engine and released on terminate.
type Releaser interface {
	Name() string
	Release(ctx context.Context) error
}

type resource struct {
	name string
	fn   func(ctx context.Context) error
}

func (r resource) Name() string                      { return r.name }
func (r resource) Release(ctx context.Context) error { return r.fn(ctx) }

// Resource adapts a release function into a Releaser.
func Resource(name string, fn func(ctx context.Context) error) Releaser {
	return resource{name: name, fn: fn}
}

type pendingOp struct {
	op    string
	apply func() error
}

// Machine guards the engine lifecycle.
//
// Operations run under the read lock while the state is Running; transitions
// take the write lock. A call admitted before terminate() therefore finishes
// against a live engine, and a call that loses the race sees Terminating and
// fails with EngineNotRunning. Nothing observes a half-released engine.
//
// Admitted functions must not call back into the Machine.
type Machine struct {
	mu        sync.RWMutex
	state     State
	pending   []pendingOp
	onRunning func()
	resources []Releaser
	history   []Transition
	done      chan struct{}
}

// New creates a Machine in StateCreated. onRunning may be nil; otherwise it
// is invoked at most once, when the engine reaches Running.
func New(onRunning func()) *Machine {
	return &Machine{
		state:     StateCreated,
		onRunning: onRunning,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// History returns a copy of the recorded transitions.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transition(nil), m.history...)
}

// Done is closed when the machine reaches StateTerminated.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Start moves Created -> Starting and then calls launch outside the lock.
// launch kicks off asynchronous initialization and must not block on it.
// A launch error terminates the machine and is returned.
func (m *Machine) Start(launch func() error) error {
	m.mu.Lock()
	switch m.state {
	case StateCreated:
	case StateTerminating, StateTerminated:
		state := m.state
		m.mu.Unlock()
		return errs.NotRunning("run_with_config", state.String())
	default:
		state := m.state
		m.mu.Unlock()
		return errs.New(errs.CodeAlreadyStarted, "run_with_config", "engine is %s", state)
	}
	if err := m.setState(StateStarting); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if err := launch(); err != nil {
		slog.Error("engine launch failed", "error", err)
		_ = m.Terminate(context.Background())
		return err
	}
	return nil
}

// MarkRunning moves Starting -> Running, replays buffered calls in FIFO
// order, then invokes the on-running callback. It succeeds at most once.
func (m *Machine) MarkRunning() error {
	m.mu.Lock()
	if m.state != StateStarting {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("mark running from %s: %w", state, ErrInvalidTransition)
	}
	if err := m.setState(StateRunning); err != nil {
		m.mu.Unlock()
		return err
	}

	// Replay under the write lock so no newly admitted call can overtake a
	// buffered one.
	pending := m.pending
	m.pending = nil
	for _, p := range pending {
		if err := p.apply(); err != nil {
			slog.Warn("buffered call failed on replay", "op", p.op, "error", err)
		}
	}
	cb := m.onRunning
	m.onRunning = nil
	m.mu.Unlock()

	slog.Info("engine running", "replayed", len(pending))
	if cb != nil {
		cb()
	}
	return nil
}

// Admit runs apply if the engine is Running. In Bufferable mode a call made
// while Starting is queued instead. reserve, when non-nil, runs first and
// synchronously in both cases, so a call that would fail on replay (e.g. a
// duplicate name) fails at the call site.
func (m *Machine) Admit(op string, mode AdmitMode, reserve, apply func() error) error {
	m.mu.RLock()
	if m.state == StateRunning {
		defer m.mu.RUnlock()
		return runAdmitted(reserve, apply)
	}
	state := m.state
	m.mu.RUnlock()

	if mode != Bufferable || state != StateStarting {
		return errs.NotRunning(op, state.String())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateRunning:
		return runAdmitted(reserve, apply)
	case StateStarting:
		if reserve != nil {
			if err := reserve(); err != nil {
				return err
			}
		}
		m.pending = append(m.pending, pendingOp{op: op, apply: apply})
		slog.Debug("call buffered until running", "op", op, "pending", len(m.pending))
		return nil
	default:
		return errs.NotRunning(op, m.state.String())
	}
}

func runAdmitted(reserve, apply func() error) error {
	if reserve != nil {
		if err := reserve(); err != nil {
			return err
		}
	}
	return apply()
}

// Observe runs fn with the current state under the read lock. It is for
// calls permitted in every state, which still must not interleave with a
// transition.
func (m *Machine) Observe(fn func(State) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

// PendingLen returns the number of buffered calls.
func (m *Machine) PendingLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

// Own registers a resource to release on terminate. Resources are released
// in reverse registration order. Returns false if termination already began.
func (m *Machine) Own(r Releaser) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state >= StateTerminating {
		return false
	}
	m.resources = append(m.resources, r)
	return true
}

// Terminate moves to Terminating, releases every owned resource, then moves
// to Terminated. It is idempotent: a call made while already Terminating or
// Terminated returns nil without doing anything. Release failures are
// logged; the machine still reaches Terminated.
func (m *Machine) Terminate(ctx context.Context) error {
	m.mu.Lock()
	if m.state >= StateTerminating {
		m.mu.Unlock()
		return nil
	}
	if err := m.setState(StateTerminating); err != nil {
		m.mu.Unlock()
		return err
	}
	if dropped := len(m.pending); dropped > 0 {
		slog.Warn("dropping buffered calls on terminate", "count", dropped)
	}
	m.pending = nil
	m.onRunning = nil
	resources := m.resources
	m.resources = nil
	m.mu.Unlock()

	for i := len(resources) - 1; i >= 0; i-- {
		r := resources[i]
		if err := r.Release(ctx); err != nil {
			slog.Error("releasing engine resource failed", "resource", r.Name(), "error", err)
			continue
		}
		slog.Debug("engine resource released", "resource", r.Name())
	}

	m.mu.Lock()
	err := m.setState(StateTerminated)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	close(m.done)
	return nil
}

// setState applies a transition. Caller must hold the write lock.
func (m *Machine) setState(next State) error {
	cur := m.state
	if !allowedTransition(cur, next) {
		return fmt.Errorf("%s -> %s: %w", cur, next, ErrInvalidTransition)
	}
	m.state = next
	m.history = append(m.history, Transition{From: cur, To: next})
	slog.Info("engine state transition", "from", cur, "to", next)
	return nil
}

func allowedTransition(cur, next State) bool {
	switch cur {
	case StateCreated:
		return next == StateStarting || next == StateTerminating
	case StateStarting:
		return next == StateRunning || next == StateTerminating
	case StateRunning:
		return next == StateTerminating
	case StateTerminating:
		return next == StateTerminated
	default:
		return false
	}
}
