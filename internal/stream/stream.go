package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/netengine/internal/netid"
)

// State is the per-stream state. Completed, Errored and Cancelled are
// terminal; a stream enters exactly one of them, exactly once.
type State int32

const (
	StateOpen State = iota
	StateCompleted
	StateErrored
	StateCancelled
)

var stateNames = [...]string{"open", "completed", "errored", "cancelled"}

// String returns the lowercase state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s != StateOpen
}

// Headers is a header or trailer block.
type Headers map[string][]string

// Callbacks receive stream events. Any field may be nil.
//
// Callbacks for one stream are never invoked concurrently. After the single
// terminal callback (OnComplete, OnError or OnCancel) no further callback
// is invoked.
type Callbacks struct {
	OnHeaders  func(h Headers, endStream bool)
	OnData     func(data []byte, endStream bool)
	OnTrailers func(t Headers)
	OnComplete func()
	OnError    func(err error)
	OnCancel   func()
}

// Outcome is the terminal result of a stream.
type Outcome struct {
	State State
	Err   error
}

// Stream is one logical request/response exchange.
//
// The transport drives it with the Deliver* and Fail methods; the caller
// may Cancel it. Whichever terminal event arrives first wins and the rest
// are dropped.
//
// Callbacks are queued and run one at a time by whichever goroutine finds
// the queue idle, with no lock held. A stream method called from inside a
// callback only queues its work, so callbacks may Cancel, Fail or Complete
// their own stream.
type Stream struct {
	id                  string
	binding             netid.Binding
	explicitFlowControl bool
	cb                  Callbacks

	state atomic.Int32

	mu          sync.Mutex
	pending     []func()
	dispatching bool

	done    chan struct{}
	outcome Outcome

	hookMu     sync.Mutex
	cancelHook func()
}

// New creates an open stream.
func New(id string, binding netid.Binding, explicitFlowControl bool, cb Callbacks) *Stream {
	return &Stream{
		id:                  id,
		binding:             binding,
		explicitFlowControl: explicitFlowControl,
		cb:                  cb,
		done:                make(chan struct{}),
	}
}

// ID returns the stream id.
func (s *Stream) ID() string { return s.id }

// Binding returns the network binding the stream was created on.
func (s *Stream) Binding() netid.Binding { return s.binding }

// ExplicitFlowControl reports whether the caller asked for explicit flow control.
func (s *Stream) ExplicitFlowControl() bool { return s.explicitFlowControl }

// State returns the current state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Done is closed once the stream reached a terminal state and its terminal
// callback returned.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Outcome returns the terminal outcome. Only meaningful after Done is closed;
// before that it returns an Outcome in StateOpen.
func (s *Stream) Outcome() Outcome {
	select {
	case <-s.done:
		return s.outcome
	default:
		return Outcome{State: StateOpen}
	}
}

// SetCancelHook registers a function the transport wants called when the
// caller cancels the stream. It runs after OnCancel.
func (s *Stream) SetCancelHook(fn func()) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.cancelHook = fn
}

// DeliverHeaders delivers response headers. endStream completes the stream.
// Returns false if the stream is already terminal.
func (s *Stream) DeliverHeaders(h Headers, endStream bool) bool {
	var fn func()
	if s.cb.OnHeaders != nil {
		fn = func() { s.cb.OnHeaders(h, endStream) }
	}
	return s.deliver(fn, endStream)
}

// DeliverData delivers a body chunk. endStream completes the stream.
func (s *Stream) DeliverData(data []byte, endStream bool) bool {
	var fn func()
	if s.cb.OnData != nil {
		fn = func() { s.cb.OnData(data, endStream) }
	}
	return s.deliver(fn, endStream)
}

// DeliverTrailers delivers trailers, which always end the stream.
func (s *Stream) DeliverTrailers(t Headers) bool {
	var fn func()
	if s.cb.OnTrailers != nil {
		fn = func() { s.cb.OnTrailers(t) }
	}
	return s.deliver(fn, true)
}

// deliver queues a non-terminal callback, then completes the stream if
// endStream is set.
func (s *Stream) deliver(fn func(), endStream bool) bool {
	s.mu.Lock()
	if s.State().Terminal() {
		s.mu.Unlock()
		return false
	}
	if fn != nil {
		s.pending = append(s.pending, fn)
	}
	s.mu.Unlock()
	s.dispatch()

	if endStream {
		s.Complete()
	}
	return true
}

// Complete moves the stream to Completed. Returns false if it lost the race
// to another terminal event.
func (s *Stream) Complete() bool {
	return s.finish(Outcome{State: StateCompleted}, s.cb.OnComplete, nil)
}

// Fail moves the stream to Errored.
func (s *Stream) Fail(err error) bool {
	var cb func()
	if s.cb.OnError != nil {
		cb = func() { s.cb.OnError(err) }
	}
	return s.finish(Outcome{State: StateErrored, Err: err}, cb, nil)
}

// Cancel moves the stream to Cancelled and notifies the transport.
func (s *Stream) Cancel() bool {
	s.hookMu.Lock()
	hook := s.cancelHook
	s.hookMu.Unlock()
	return s.finish(Outcome{State: StateCancelled}, s.cb.OnCancel, hook)
}

// finish performs the single Open -> terminal transition. The terminal
// callback is the last item ever queued, so it runs after every delivery
// accepted before the transition.
func (s *Stream) finish(out Outcome, cb func(), after func()) bool {
	s.mu.Lock()
	if !s.state.CompareAndSwap(int32(StateOpen), int32(out.State)) {
		s.mu.Unlock()
		return false
	}
	s.outcome = out
	s.pending = append(s.pending, func() {
		if cb != nil {
			cb()
		}
		if after != nil {
			after()
		}
		close(s.done)
	})
	s.mu.Unlock()
	s.dispatch()
	return true
}

// dispatch runs queued callbacks in order unless another call, possibly
// further up this goroutine's stack, is already running them.
func (s *Stream) dispatch() {
	s.mu.Lock()
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	for len(s.pending) > 0 {
		fn := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()
		fn()
		s.mu.Lock()
	}
	s.dispatching = false
	s.mu.Unlock()
}
