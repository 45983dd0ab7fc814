// Package lifecycle implements the engine's lifecycle state machine.
//
// Lifecycle
//
//	created     -> starting | terminating
//	starting    -> running  | terminating
//	running     -> terminating
//	terminating -> terminated
//
// terminated is terminal. Transitions outside this table are rejected with
// ErrInvalidTransition.
//
// Admission
//
// Facade operations go through Admit. While running they execute under the
// machine's read lock; otherwise they fail with errs.EngineNotRunning, except
// Bufferable calls made while starting, which are queued and replayed in
// FIFO order on the transition to running. Diagnostics that are allowed in
// every state use Observe.
//
// Termination
//
// Terminate flips the state to terminating under the write lock, so further
// calls are rejected at once, then releases owned resources (pools,
// monitors, the transport handle) in reverse registration order before
// reaching terminated and closing Done().
package lifecycle
