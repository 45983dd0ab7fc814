// Package stream implements the per-stream state machine.
//
//	open -> completed | errored | cancelled
//
// The terminal transition is a compare-and-swap on the state, so exactly one
// terminal callback fires per stream no matter how the transport and the
// caller race. Done() and Outcome() give a future-style view of the result
// for callers that would rather wait than register callbacks.
package stream
