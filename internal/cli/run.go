package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/netengine/internal/config"
	"github.com/roach88/netengine/internal/engine"
	"github.com/roach88/netengine/internal/errs"
	"github.com/roach88/netengine/internal/journal"
	"github.com/roach88/netengine/internal/logging"
	"github.com/roach88/netengine/internal/netmon"
	"github.com/roach88/netengine/internal/reconcile"
	"github.com/roach88/netengine/internal/transport/mem"
)

// Version is reported to the platform context. Set at build time with
// -ldflags "-X github.com/roach88/netengine/internal/cli.Version=...".
var Version = "dev"

// shutdownTimeout bounds Terminate when the run command exits.
const shutdownTimeout = 10 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	LogLevel   string
	Journal    string
	Duration   time.Duration

	// NoMonitors skips the host network and proxy monitors.
	NoMonitors bool
}

// RunSummary is printed when the run command exits.
type RunSummary struct {
	RunID string   `json:"run_id,omitempty"`
	State string   `json:"state"`
	Stats []string `json:"stats"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine against the host's network interfaces",
		Long: `Start the network engine with the host network monitor and, when
enable_proxying is set, the environment proxy monitor.

Configuration is read from --config, $NETENGINE_CONFIG or netengine.yaml in
., ./configs or ~/.netengine, and NETENGINE_* environment variables. With a
journal, every applied connectivity event is written to SQLite and can be
inspected with "netengine trace".

The engine runs until interrupted or until --duration elapses, then prints
its stats.

Examples:
  netengine run
  netengine run --config ./configs/netengine.yaml --log-level debug
  netengine run --journal ./netengine-journal.db --duration 30s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "override log_level")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record applied events to this SQLite journal")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&opts.NoMonitors, "no-monitors", false, "do not start the host network and proxy monitors")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Journal != "" {
		cfg.Journal.Enable = true
		cfg.Journal.Path = opts.Journal
	}

	levelName := opts.LogLevel
	if levelName == "" {
		levelName = cfg.LogLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid log level", err)
	}
	sink, err := logging.Setup(cfg.Log, level)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer func() { _ = sink.Sync() }()

	var (
		rec   reconcile.Recorder
		runID string
	)
	if cfg.Journal.Enable {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		rec = j
		runID = j.RunID()
		formatter.VerboseLog("Journal %s, run %s", cfg.Journal.Path, runID)
	}

	platform := engine.NewPlatform()
	platform.Init(engine.AppContext{Name: "netengine", Version: Version})

	running := make(chan struct{})
	engOpts := engine.Options{
		OnRunning:                        func() { close(running) },
		Logger:                           sink,
		EventTracker:                     sink,
		EnableProxying:                   cfg.EnableProxying,
		UseNetworkChangeEvent:            cfg.UseNetworkChangeEvent,
		DisableDNSRefreshOnNetworkChange: cfg.DisableDNSRefreshOnNetworkChange,
		Recorder:                         rec,
		Platform:                         platform,
	}
	if !opts.NoMonitors {
		engOpts.NetworkMonitor = netmon.New(netmon.WithInterval(cfg.PollInterval()))
		engOpts.ProxyMonitor = netmon.NewEnvProxyMonitor(nil, cfg.PollInterval())
	}

	eng, err := engine.New(mem.New(), engOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := eng.RunWithConfig(cfg, opts.LogLevel); err != nil {
		terminate(eng)
		code := ExitCommandError
		if !errs.IsConfigInvalid(err) {
			code = ExitFailure
		}
		return WrapExitError(code, "failed to start engine", err)
	}

	select {
	case <-running:
		if opts.Format != "json" {
			fmt.Fprintln(cmd.OutOrStdout(), "Engine running. Press Ctrl-C to stop.")
		}
	case <-eng.Done():
		return NewExitError(ExitFailure, "engine terminated during startup")
	case <-ctx.Done():
	}

	<-ctx.Done()

	stats, _ := eng.DumpStats()
	terminate(eng)

	if err := platform.Teardown(); err != nil {
		slog.Warn("platform teardown failed", "error", err)
	}

	summary := RunSummary{
		RunID: runID,
		State: eng.State().String(),
		Stats: strings.Split(strings.TrimSuffix(stats, "\n"), "\n"),
	}
	return formatter.Success(summary)
}

// RenderText implements TextRenderer.
func (s RunSummary) RenderText(w io.Writer) {
	fmt.Fprintln(w, "Engine stopped.")
	if s.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", s.RunID)
	}
	for _, line := range s.Stats {
		fmt.Fprintln(w, line)
	}
}

func terminate(eng *engine.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.Terminate(ctx); err != nil {
		slog.Error("engine did not terminate cleanly", "error", err)
	}
}
