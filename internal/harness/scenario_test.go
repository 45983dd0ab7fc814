package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	content := `
name: test_scenario
description: "Test scenario"
steps:
  - event: connect
    type: wifi
    id: 1
  - event: purge
    ids: [1]
  - call: start
assertions:
  - type: final_default
    none: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "test_scenario", s.Name)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, int64(1), s.Steps[0].ID)
	assert.Equal(t, []int64{1}, s.Steps[1].IDs)
	assert.Equal(t, CallStart, s.Steps[2].Call)
	assert.True(t, s.Assertions[0].None)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: a\ndescription: b\nstep: []\n", "failed to parse YAML"},
		{"no name", "description: b\nsteps: [{call: start}]\n", "name is required"},
		{"no description", "name: a\nsteps: [{call: start}]\n", "description is required"},
		{"no steps", "name: a\ndescription: b\n", "steps list is required"},
		{"empty step", "name: a\ndescription: b\nsteps: [{}]\n", "one of event or call"},
		{"both", "name: a\ndescription: b\nsteps: [{call: start, event: connect, id: 1}]\n", "mutually exclusive"},
		{"bad call", "name: a\ndescription: b\nsteps: [{call: launch}]\n", "unknown call"},
		{"bad event", "name: a\ndescription: b\nsteps: [{event: teleport}]\n", "unknown connectivity event"},
		{"reset as event", "name: a\ndescription: b\nsteps: [{event: reset}]\n", "reset is a call"},
		{"bad type", "name: a\ndescription: b\nsteps: [{event: connect, type: carrier_pigeon, id: 1}]\n", "unknown connection type"},
		{"missing id", "name: a\ndescription: b\nsteps: [{event: disconnect}]\n", "disconnect requires id"},
		{"missing ids", "name: a\ndescription: b\nsteps: [{event: purge}]\n", "purge requires ids"},
		{"bad assertion", "name: a\ndescription: b\nsteps: [{call: start}]\nassertions: [{type: vibes}]\n", "unknown assertion type"},
		{"default both", "name: a\ndescription: b\nsteps: [{call: start}]\nassertions: [{type: final_default, id: 1, none: true}]\n", "exactly one of id or none"},
		{"binding incomplete", "name: a\ndescription: b\nsteps: [{call: start}]\nassertions: [{type: stream_binding, stream: s-1}]\n", "requires stream and binding"},
		{"refresh count", "name: a\ndescription: b\nsteps: [{call: start}]\nassertions: [{type: dns_refreshes}]\n", "requires count"},
		{"call_error range", "name: a\ndescription: b\nsteps: [{call: start}]\nassertions: [{type: call_error, step: 2, code: X}]\n", "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
