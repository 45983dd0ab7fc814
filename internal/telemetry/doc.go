// Package telemetry holds the engine's named counters and string accessors
// and renders them for dumpStats.
package telemetry
