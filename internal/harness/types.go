package harness

import (
	"github.com/roach88/netengine/internal/netid"
	"github.com/roach88/netengine/internal/transport/mem"
)

// TraceEvent is one line of a scenario trace: either a connectivity event
// the reconciler applied or a facade call the harness made.
type TraceEvent struct {
	// Step is the 1-based scenario step that produced the event.
	Step int

	// Seq is the reconciler's sequence number; zero for calls.
	Seq int64

	// Kind is the event kind, or "call".
	Kind string

	Call string
	Type string
	ID   int64
	IDs  []int64

	Changed      bool
	Drained      []string
	DrainedAll   bool
	RefreshedDNS bool

	// Active and Default describe the state after the event.
	Active  []int64
	Default string

	// Stream and Binding are set by stream calls.
	Stream  string
	Binding string

	// Err is the error code of a failed call.
	Err string
}

// KindCall marks trace events produced by facade calls.
const KindCall = "call"

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool

	Trace  []TraceEvent
	Errors []string

	// Final is the connectivity state after the last step.
	Final netid.Snapshot

	// Pools is the transport's pool table after the last step.
	Pools []mem.PoolInfo
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Drained returns every drained binding in command order. A drain-all
// appears as "all".
func (r *Result) Drained() []string {
	out := []string{}
	for _, ev := range r.Trace {
		out = append(out, ev.Drained...)
		if ev.DrainedAll {
			out = append(out, "all")
		}
	}
	return out
}

// DNSRefreshes returns the number of DNS refreshes issued.
func (r *Result) DNSRefreshes() int {
	n := 0
	for _, ev := range r.Trace {
		if ev.RefreshedDNS {
			n++
		}
	}
	return n
}

// Stream returns the trace event of the stream call that created id.
func (r *Result) Stream(id string) (TraceEvent, bool) {
	for _, ev := range r.Trace {
		if ev.Kind == KindCall && ev.Call == CallStream && ev.Stream == id {
			return ev, true
		}
	}
	return TraceEvent{}, false
}

// CallAt returns the call event produced by step.
func (r *Result) CallAt(step int) (TraceEvent, bool) {
	for _, ev := range r.Trace {
		if ev.Kind == KindCall && ev.Step == step {
			return ev, true
		}
	}
	return TraceEvent{}, false
}
