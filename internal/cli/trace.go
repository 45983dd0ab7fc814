package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/netengine/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal  string
	RunID    string
	Limit    int
	ListRuns bool
}

// TraceResult holds the trace output.
type TraceResult struct {
	RunID   string          `json:"run_id"`
	Entries []journal.Entry `json:"entries"`
	Stats   TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for a run.
type TraceStats struct {
	TotalEvents   int `json:"total_events"`
	Changed       int `json:"changed"`
	Drains        int `json:"drains"`
	DNSRefreshes  int `json:"dns_refreshes"`
	DefaultSwitch int `json:"default_switches"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show applied connectivity events from a journal",
		Long: `Show the connectivity events an engine applied, in order, from the
SQLite journal written by "netengine run --journal".

Without --run the most recent run is shown.

Examples:
  netengine trace --journal ./netengine-journal.db
  netengine trace --journal ./netengine-journal.db --runs
  netengine trace --journal ./netengine-journal.db --run <id> --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the journal database (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (defaults to the latest run)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 for all)")
	cmd.Flags().BoolVar(&opts.ListRuns, "runs", false, "list run ids instead of events")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	// Opening would create an empty database; a missing journal is an error.
	if _, err := os.Stat(opts.Journal); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.Journal))
	}
	j, err := journal.Open(opts.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	if opts.ListRuns {
		runs, err := j.Runs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		return formatter.Success(runList(runs))
	}

	runID := opts.RunID
	if runID == "" {
		if runID, err = j.LatestRun(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to find latest run", err)
		}
		if runID == "" {
			return NewExitError(ExitCommandError, "journal is empty")
		}
	}

	entries, err := j.Entries(ctx, runID, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	if len(entries) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no events for run %s", runID))
	}

	return formatter.Success(TraceResult{RunID: runID, Entries: entries, Stats: traceStats(entries)})
}

// runList is the --runs output, one id per line in text mode.
type runList []string

// RenderText implements TextRenderer.
func (l runList) RenderText(w io.Writer) {
	for _, r := range l {
		fmt.Fprintln(w, r)
	}
}

func traceStats(entries []journal.Entry) TraceStats {
	s := TraceStats{TotalEvents: len(entries)}
	var prevDefault *int64
	for _, e := range entries {
		if e.Changed {
			s.Changed++
		}
		s.Drains += len(e.Drained)
		if e.DrainedAll {
			s.Drains++
		}
		if e.RefreshedDNS {
			s.DNSRefreshes++
		}
		if e.DefaultID != nil && (prevDefault == nil || *prevDefault != *e.DefaultID) {
			s.DefaultSwitch++
		}
		prevDefault = e.DefaultID
	}
	return s
}

// RenderText implements TextRenderer: one event per line, then totals.
func (r TraceResult) RenderText(w io.Writer) {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n\n", r.RunID)
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "#%d %s %s", e.Seq, e.RecordedAt.Format("15:04:05.000"), e.Kind)
		if e.ID != 0 {
			fmt.Fprintf(&b, " net=%d", e.ID)
		}
		if e.Type != "" {
			fmt.Fprintf(&b, " type=%s", e.Type)
		}
		if len(e.IDs) > 0 {
			fmt.Fprintf(&b, " nets=%s", joinIDs(e.IDs))
		}
		if e.Source != "" {
			fmt.Fprintf(&b, " source=%s", e.Source)
		}
		if !e.Changed {
			b.WriteString(" (no-op)")
		}
		if len(e.Drained) > 0 {
			fmt.Fprintf(&b, " drained=[%s]", strings.Join(e.Drained, ","))
		}
		if e.DrainedAll {
			b.WriteString(" drained=all")
		}
		if e.RefreshedDNS {
			b.WriteString(" dns_refresh")
		}
		def := "none"
		if e.DefaultID != nil {
			def = fmt.Sprintf("%d/%s", *e.DefaultID, e.DefaultType)
		}
		fmt.Fprintf(&b, " active=%s default=%s\n", joinIDs(e.Active), def)
	}
	fmt.Fprintf(&b, "\n%d events, %d changed, %d drains, %d DNS refreshes, %d default switches\n",
		r.Stats.TotalEvents, r.Stats.Changed, r.Stats.Drains, r.Stats.DNSRefreshes, r.Stats.DefaultSwitch)
	io.WriteString(w, b.String())
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
