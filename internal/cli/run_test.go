package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/netengine/internal/journal"
)

// quietConfig writes a config that keeps engine logs out of the test output.
func quietConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "netengine.yaml")
	content := "log:\n  outputs: [\"" + filepath.Join(dir, "engine.log") + "\"]\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func executeRun(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRunCommand_RunsForDuration(t *testing.T) {
	out, err := executeRun(t, "text",
		"--config", quietConfig(t, ""),
		"--no-monitors",
		"--duration", "200ms",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Engine running.")
	assert.Contains(t, out, "Engine stopped.")
	assert.Contains(t, out, "engine.state: running")
	assert.Contains(t, out, "transport.streams.open: 0")
}

func TestRunCommand_JSONSummaryWithJournal(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	out, err := executeRun(t, "json",
		"--config", quietConfig(t, ""),
		"--no-monitors",
		"--duration", "100ms",
		"--journal", journalPath,
	)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "terminated", resp.Data.State)
	assert.NotEmpty(t, resp.Data.RunID)
	assert.NotEmpty(t, resp.Data.Stats)

	_, err = os.Stat(journalPath)
	require.NoError(t, err)
	j, err := journal.Open(journalPath)
	require.NoError(t, err)
	defer j.Close()
}

func TestRunCommand_InvalidLogLevel(t *testing.T) {
	_, err := executeRun(t, "text",
		"--config", quietConfig(t, ""),
		"--no-monitors",
		"--log-level", "loud",
	)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	_, err := executeRun(t, "text",
		"--config", quietConfig(t, "connect_timeout_ms: 0\n"),
		"--no-monitors",
	)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
