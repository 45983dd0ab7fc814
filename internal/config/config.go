// Package config provides YAML-based configuration loading for the engine.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/roach88/netengine/internal/errs"
)

//go:embed schema.cue
var schemaSource string

// Config is the root engine configuration.
type Config struct {
	// LogLevel is the engine log level: trace, debug, info, warn, error,
	// critical or off.
	LogLevel string `mapstructure:"log_level" json:"log_level"`

	// EnableProxying registers the platform proxy monitor at construction.
	EnableProxying bool `mapstructure:"enable_proxying" json:"enable_proxying"`

	// UseNetworkChangeEvent makes the network monitor report default changes
	// through the single-id change event instead of the typed variant.
	UseNetworkChangeEvent bool `mapstructure:"use_network_change_event" json:"use_network_change_event"`

	// DisableDNSRefreshOnNetworkChange suppresses the DNS refresh that
	// otherwise accompanies every default-network change.
	DisableDNSRefreshOnNetworkChange bool `mapstructure:"disable_dns_refresh_on_network_change" json:"disable_dns_refresh_on_network_change"`

	ConnectTimeoutMS     int `mapstructure:"connect_timeout_ms" json:"connect_timeout_ms"`
	MaxConcurrentStreams int `mapstructure:"max_concurrent_streams" json:"max_concurrent_streams"`

	Proxy   ProxyConfig   `mapstructure:"proxy" json:"proxy"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
	Journal JournalConfig `mapstructure:"journal" json:"journal"`
	Monitor MonitorConfig `mapstructure:"monitor" json:"monitor"`
}

// ProxyConfig is the initial explicit proxy. Empty host means none.
type ProxyConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// LogConfig defines the logger sink. Its level follows Config.LogLevel.
type LogConfig struct {
	// Format: console or json
	Format string `mapstructure:"format" json:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs" json:"outputs"`
	Development bool           `mapstructure:"development" json:"development"`
	Rotation    RotationConfig `mapstructure:"rotation" json:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable" json:"enable"`
	Filename   string `mapstructure:"filename" json:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
}

// JournalConfig controls the connectivity journal.
type JournalConfig struct {
	Enable bool   `mapstructure:"enable" json:"enable"`
	Path   string `mapstructure:"path" json:"path"`
}

// MonitorConfig controls the polling network monitor.
type MonitorConfig struct {
	PollIntervalMS int `mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		LogLevel:             "info",
		ConnectTimeoutMS:     30000,
		MaxConcurrentStreams: 0,
		Log: LogConfig{
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/netengine.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Journal: JournalConfig{Path: "netengine-journal.db"},
		Monitor: MonitorConfig{PollIntervalMS: 2000},
	}
}

// ConnectTimeout returns ConnectTimeoutMS as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// PollInterval returns Monitor.PollIntervalMS as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalMS) * time.Millisecond
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix NETENGINE and
// `.`/`-` are replaced with `_`, e.g. NETENGINE_LOG_LEVEL=debug.
// The result is validated; a failure is ConfigInvalid.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NETENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("enable_proxying", cfg.EnableProxying)
	v.SetDefault("use_network_change_event", cfg.UseNetworkChangeEvent)
	v.SetDefault("disable_dns_refresh_on_network_change", cfg.DisableDNSRefreshOnNetworkChange)
	v.SetDefault("connect_timeout_ms", cfg.ConnectTimeoutMS)
	v.SetDefault("max_concurrent_streams", cfg.MaxConcurrentStreams)
	v.SetDefault("proxy.host", cfg.Proxy.Host)
	v.SetDefault("proxy.port", cfg.Proxy.Port)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("journal.enable", cfg.Journal.Enable)
	v.SetDefault("journal.path", cfg.Journal.Path)
	v.SetDefault("monitor.poll_interval_ms", cfg.Monitor.PollIntervalMS)

	if path == "" {
		if envPath := os.Getenv("NETENGINE_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("netengine")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".netengine"))
		}
	}

	// A missing config file is fine; defaults and env still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errs.Wrap(errs.CodeConfigInvalid, "load_config", fmt.Errorf("read config: %w", err))
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.Wrap(errs.CodeConfigInvalid, "load_config", fmt.Errorf("decode config: %w", err))
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded CUE schema and the cross-field
// rules the schema cannot express. Every failure is ConfigInvalid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errs.New(errs.CodeConfigInvalid, "validate_config", "config is nil")
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.Encode(cfg)
	if err := v.Err(); err != nil {
		return errs.Wrap(errs.CodeConfigInvalid, "validate_config", err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return errs.Wrap(errs.CodeConfigInvalid, "validate_config", err)
	}

	if cfg.Proxy.Host != "" && cfg.Proxy.Port == 0 {
		return errs.New(errs.CodeConfigInvalid, "validate_config", "proxy.port is required when proxy.host is set")
	}
	if cfg.Journal.Enable && strings.TrimSpace(cfg.Journal.Path) == "" {
		return errs.New(errs.CodeConfigInvalid, "validate_config", "journal.path is required when the journal is enabled")
	}
	if cfg.Log.Rotation.Enable && strings.TrimSpace(cfg.Log.Rotation.Filename) == "" {
		return errs.New(errs.CodeConfigInvalid, "validate_config", "log.rotation.filename is required when rotation is enabled")
	}
	return nil
}
