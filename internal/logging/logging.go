// Package logging provides structured logging infrastructure for TestFlow.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/atoms-stack/testflow/internal/config"
)

// NewFromConfig creates a new slog.Logger based on configuration.
func NewFromConfig(cfg *config.Config, baseDir string) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Logging.Level)
	handler := newHandler(cfg.Logging.Format, os.Stderr, level)

	var closer io.Closer
	if cfg.Logging.File != "" {
		file, err := openLog(cfg.LogFile(baseDir))
		if err != nil {
			return nil, nil, err
		}
		closer = file
		handler = newHandler(cfg.Logging.Format, io.MultiWriter(os.Stderr, file), level)
	}

	return slog.New(handler), closer, nil
}

// NewForRun creates a logger that writes to stderr and to the run's own log
// file. Every line the run emits is persisted next to its result stream.
func NewForRun(cfg *config.Config, logPath string) (*slog.Logger, io.Closer, error) {
	file, err := openLog(logPath)
	if err != nil {
		return nil, nil, err
	}
	level := parseLevel(cfg.Logging.Level)
	handler := newHandler(cfg.Logging.Format, io.MultiWriter(os.Stderr, file), level)
	return slog.New(handler), file, nil
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// NewDefault creates a default logger writing to stderr.
func NewDefault() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// NewForTest creates a silent logger for tests.
func NewForTest() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// NewWithLevel creates a logger with the specified level.
func NewWithLevel(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// parseLevel converts config log level to slog.Level.
func parseLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelInfo:
		return slog.LevelInfo
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newHandler creates a slog.Handler based on format.
func newHandler(format config.LogFormat, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch format {
	case config.LogFormatJSON:
		return slog.NewJSONHandler(w, opts)
	case config.LogFormatText:
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// WithFields returns a logger with the given fields added.
func WithFields(logger *slog.Logger, fields ...any) *slog.Logger {
	return logger.With(fields...)
}

// WithRun returns a logger with run context.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithNode returns a logger with node context.
func WithNode(logger *slog.Logger, nodeID int, kind string) *slog.Logger {
	return logger.With("node", nodeID, "node_kind", kind)
}

// WithWorkflow returns a logger with sub-workflow context.
func WithWorkflow(logger *slog.Logger, name string, depth int) *slog.Logger {
	return logger.With("workflow", name, "depth", depth)
}
