package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/netengine/internal/config"
	"github.com/roach88/netengine/internal/errs"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Path   string         `json:"path,omitempty"`
	Config *config.Config `json:"config,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate engine configuration",
		Long: `Load a config file the way "netengine run" does (file, then
NETENGINE_* environment overrides) and validate it against the config schema.
Without an argument the default search paths are used.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return NewExitError(ExitCommandError, fmt.Sprintf("config file not found: %s", path))
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !errs.IsConfigInvalid(err) {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		_ = formatter.Success(ValidationResult{Valid: false, Path: path, Error: err.Error()})
		return alreadyReported(WrapExitError(ExitFailure, "configuration is invalid", err))
	}

	if err := formatter.Success(ValidationResult{Valid: true, Path: path, Config: cfg}); err != nil {
		return err
	}
	formatter.VerboseLog("log_level=%s connect_timeout=%s max_concurrent_streams=%d journal=%t",
		cfg.LogLevel, cfg.ConnectTimeout(), cfg.MaxConcurrentStreams, cfg.Journal.Enable)
	return nil
}

// RenderText implements TextRenderer.
func (r ValidationResult) RenderText(w io.Writer) {
	if r.Valid {
		fmt.Fprintln(w, "✓ configuration is valid")
		return
	}
	fmt.Fprintf(w, "✗ invalid configuration\n  %s\n", r.Error)
}
