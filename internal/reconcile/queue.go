package reconcile

import "sync"

// eventQueue hands connectivity events from monitor goroutines to the Run
// loop in batches.
//
// push appends under a short lock and never blocks, however bursty the
// platform callbacks are. take swaps out everything pending at once, so the
// Run loop applies a batch without touching the lock between events.
type eventQueue struct {
	mu      sync.Mutex
	pending []Event
	closed  bool
	wake    chan struct{} // size 1; closed by close()
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

// push appends e. Returns false once the queue is closed.
func (q *eventQueue) push(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, e)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// take returns every pending event in arrival order and whether the queue
// is closed. Events pushed before close are still returned.
func (q *eventQueue) take() ([]Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = nil
	return batch, q.closed
}

// ready fires after a push, and stays ready once the queue is closed.
func (q *eventQueue) ready() <-chan struct{} {
	return q.wake
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// close stops accepting events. Idempotent.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.wake)
	}
}
