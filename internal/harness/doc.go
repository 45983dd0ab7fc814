// Package harness runs connectivity scenarios against a real engine.
//
// A scenario is a YAML file listing platform events and facade calls. The
// harness drives an engine over the in-memory transport, waits for the
// reconciler after every step and records each applied event, so the
// resulting trace is deterministic and can be compared with a golden file.
//
// # Scenario Format
//
//	name: wifi_to_cellular
//	description: "Default moves from wifi to cellular"
//	steps:
//	  - call: start
//	  - event: connect
//	    type: wifi
//	    id: 1
//	  - event: default_changed
//	    type: wifi
//	    id: 1
//	  - call: stream
//	  - event: disconnect
//	    id: 1
//	assertions:
//	  - type: final_active
//	    ids: []
//	  - type: final_default
//	    none: true
//	  - type: drained
//	    bindings: [unbound, "net:1"]
//
// Event names are the reconciler's event kinds (connect, disconnect,
// default_changed, legacy_default_changed, default_available,
// default_unavailable, purge). Calls are start, stream, reset and
// terminate.
//
// # Assertion Types
//
//   - final_active: the active set after the last step, in ascending order
//   - final_default: the default network after the last step (id and
//     optionally type), or none
//   - drained: every pool binding drained, in command order
//   - stream_binding: the binding a stream was created on
//   - dns_refreshes: the number of DNS refreshes issued
//   - call_error: a call step failed with the given error code
//
// # Golden Traces
//
// RunWithGolden renders the trace as text and compares it with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
