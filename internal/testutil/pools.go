package testutil

import (
	"sync"

	"github.com/roach88/netengine/internal/netid"
)

// PoolCommand is one command observed by RecordingPools.
type PoolCommand struct {
	Op      string // "drain", "drain_all", "refresh_dns"
	Binding netid.Binding
}

// RecordingPools is a pool controller that records every command.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type RecordingPools struct {
	mu       sync.Mutex
	commands []PoolCommand
}

// NewRecordingPools creates an empty recorder.
func NewRecordingPools() *RecordingPools {
	return &RecordingPools{}
}

// DrainPools records a drain command for b.
func (p *RecordingPools) DrainPools(b netid.Binding) {
	p.record(PoolCommand{Op: "drain", Binding: b})
}

// DrainAllPools records a drain_all command.
func (p *RecordingPools) DrainAllPools() {
	p.record(PoolCommand{Op: "drain_all"})
}

// RefreshDNS records a refresh_dns command.
func (p *RecordingPools) RefreshDNS() {
	p.record(PoolCommand{Op: "refresh_dns"})
}

func (p *RecordingPools) record(c PoolCommand) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, c)
}

// Commands returns a copy of the recorded commands.
func (p *RecordingPools) Commands() []PoolCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PoolCommand(nil), p.commands...)
}

// Drained returns the bindings of recorded drain commands, in order.
func (p *RecordingPools) Drained() []netid.Binding {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []netid.Binding
	for _, c := range p.commands {
		if c.Op == "drain" {
			out = append(out, c.Binding)
		}
	}
	return out
}

// Reset clears the recorded commands.
func (p *RecordingPools) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = nil
}
