// Package engine is the public surface of the network engine: lifecycle,
// stream creation, stats registration, runtime config and the
// connectivity callbacks platform monitors call into.
//
// ARCHITECTURE:
//
// Command channel:
// Platform monitors never mutate connectivity state directly. Every
// connectivity callback becomes a reconcile.Event on the reconciler's FIFO
// queue; a single goroutine applies them one at a time, updates the network
// registry and issues pool commands. Ordering and mutual exclusion are
// properties of that loop, not of caller discipline.
//
// Lifecycle gate:
// Every other operation passes through lifecycle.Machine.Admit:
//
//	created -> starting -> running -> terminating -> terminated
//
// Operations run against the transport only while Running. Registration
// calls made while Starting are buffered and replayed in order on Running.
// DumpStats, SetLogLevel, SetProxySettings and Terminate are accepted in
// every state.
//
// Stream binding:
// StartStream reads the current binding from an atomically published value,
// so creating a stream never waits for the reconciler.
//
// Platform:
// Process-wide application context is a *Platform passed in Options, with
// explicit init-once and teardown rules instead of hidden globals.
package engine
