// Package logging implements the engine's logger and event-tracker sink on
// zap, with optional lumberjack file rotation.
package logging

import (
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/netengine/internal/config"
)

// Sink receives engine log lines and tracked events.
//
// Thread-safety: all methods are safe for concurrent use.
type Sink struct {
	logger *zap.Logger
	level  zap.AtomicLevel
	engine atomic.Int32
}

// NewSink wraps an existing zap core. Used by tests with an observer core.
func NewSink(core zapcore.Core, level zap.AtomicLevel, initial Level) *Sink {
	level.SetLevel(initial.zap())
	s := &Sink{logger: zap.New(core), level: level}
	s.engine.Store(int32(initial))
	return s
}

// Setup builds a Sink from the log configuration at the given engine level.
// The caller should defer Sync().
func Setup(c config.LogConfig, initial Level) (*Sink, error) {
	level := zap.NewAtomicLevelAt(initial.zap())

	encCfg := encoderConfig(c.Development)
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	var cores []zapcore.Core
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout":
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
		case "stderr":
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
		default:
			ws, err := fileSyncer(out, c.Rotation)
			if err != nil {
				return nil, err
			}
			cores = append(cores, zapcore.NewCore(encoder, ws, level))
		}
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if c.Development {
		opts = append(opts, zap.Development())
	}
	s := &Sink{
		logger: zap.New(zapcore.NewTee(cores...), opts...),
		level:  level,
	}
	s.engine.Store(int32(initial))
	return s, nil
}

func fileSyncer(out string, r config.RotationConfig) (zapcore.WriteSyncer, error) {
	if r.Enable {
		filename := out
		if strings.TrimSpace(r.Filename) != "" {
			filename = r.Filename
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   filename,
			MaxSize:    max(r.MaxSizeMB, 10),
			MaxBackups: max(r.MaxBackups, 1),
			MaxAge:     max(r.MaxAgeDays, 7),
			Compress:   r.Compress,
		}), nil
	}
	if i := strings.LastIndexAny(out, "/\\"); i > 0 {
		if err := os.MkdirAll(out[:i], 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}

func encoderConfig(dev bool) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	if dev {
		cfg = zap.NewDevelopmentEncoderConfig()
	}
	cfg.EncodeLevel = encodeLevel
	return cfg
}

// Log writes msg at level.
func (s *Sink) Log(level Level, msg string) {
	if level == LevelOff {
		return
	}
	zl := level.zap()
	ce := s.logger.Check(zl, msg)
	if ce == nil {
		return
	}
	if level == LevelCritical {
		ce.Write(zap.Bool("critical", true))
		return
	}
	ce.Write()
}

// Track records a structured engine event at info level. Keys are emitted
// in sorted order.
func (s *Sink) Track(event map[string]string) {
	keys := make([]string, 0, len(event))
	for k := range event {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.String(k, event[k]))
	}
	s.logger.Info("event", fields...)
}

// SetLevel changes the level immediately.
func (s *Sink) SetLevel(level Level) {
	s.level.SetLevel(level.zap())
	s.engine.Store(int32(level))
}

// Level returns the current level.
func (s *Sink) Level() Level {
	return Level(s.engine.Load())
}

// Zap exposes the underlying logger.
func (s *Sink) Zap() *zap.Logger {
	return s.logger
}

// Sync flushes buffered entries.
func (s *Sink) Sync() error {
	return s.logger.Sync()
}
