// Package reconcile turns platform connectivity events into network registry
// updates and connection-pool commands.
//
// ARCHITECTURE:
//
// Monitors never call into the registry directly. They enqueue Events, and a
// single Run goroutine applies them one at a time in FIFO order:
//
//	monitor goroutines --Enqueue--> eventQueue --Run--> Apply --> PoolController
//
// Apply holds the reconciler lock across the registry mutation and the pool
// commands it produces, so an event is never observed half-applied.
//
// Pool policy:
//   - a removed network (disconnect, purge) drains the pools keyed by its id
//   - a default change drains the pools of the previous binding (the old
//     default id, or the unbound pool when there was no default)
//   - default unavailable drains the old default's pools
//   - reset drains every pool
//
// Draining pools finish their in-flight streams but take no new ones.
//
// Default-changed events carry last-writer-wins semantics: the typed and the
// legacy single-id forms go through the same path, and whichever the queue
// delivers last determines the default.
package reconcile
