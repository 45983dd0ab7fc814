// Package journal persists applied connectivity events to SQLite for
// after-the-fact diagnosis of network transitions.
//
// A Journal satisfies reconcile.Recorder. Each row holds the event kind,
// its reconciler sequence number and a CBOR payload with the drain commands
// issued and the registry state afterwards. Rows are grouped by run id so a
// single database can hold several engine runs.
//
// The journal is write-only from the engine's point of view: engine state is
// in-memory and rebuilt from platform events on restart, never from here.
package journal
