// Package netid models the platform's view of network interfaces.
//
// A Registry holds the set of active networks (every interface the OS
// reports as connected) and the current default network (the one the OS
// prefers for outbound traffic). Platform monitors are unreliable, so the
// registry absorbs duplicate and out-of-order events instead of rejecting
// them:
//
//   - Connect of an already-active id is a no-op.
//   - SetDefault of an id whose connect was never seen adds it.
//   - Purge skips the default id.
//
// The Registry itself is not synchronized. The reconcile package owns the
// only instance and serializes access to it.
package netid
