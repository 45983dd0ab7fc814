package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "golden file is named after the scenario")
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/wifi_to_cellular.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, Render(scenario.Name, first), Render(scenario.Name, second))
}

func TestRun_AssertionFailureReported(t *testing.T) {
	id := int64(7)
	scenario := &Scenario{
		Name:        "wrong_default",
		Description: "expects a default that never arrives",
		Steps: []Step{
			{Event: "connect", Type: "wifi", ID: 1},
			{Event: "default_changed", Type: "wifi", ID: 1},
		},
		Assertions: []Assertion{
			{Type: AssertFinalDefault, ID: &id},
			{Type: AssertFinalActive, IDs: []int64{1}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: final_default")
	assert.Contains(t, result.Errors[0], "default=1/wifi")
}

func TestRun_TerminateStopsEvents(t *testing.T) {
	scenario := &Scenario{
		Name:        "terminated",
		Description: "events after terminate are dropped",
		Steps: []Step{
			{Call: CallStart},
			{Call: CallTerminate},
			{Event: "connect", Type: "wifi", ID: 1},
			{Call: CallStream},
		},
		Assertions: []Assertion{
			{Type: AssertFinalActive},
			{Type: AssertCallError, Step: 4, Code: "ENGINE_NOT_RUNNING"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Pools)
}

func TestRun_StreamLimit(t *testing.T) {
	scenario := &Scenario{
		Name:                 "stream_limit",
		Description:          "a refused stream is still returned",
		MaxConcurrentStreams: 1,
		Steps: []Step{
			{Call: CallStart},
			{Call: CallStream},
			{Call: CallStream},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	_, ok := result.Stream("s-2")
	assert.True(t, ok, "refusal reaches the stream, not the caller")
}
