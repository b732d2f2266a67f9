// Package slogger provides structured logging for digestpin using Go's slog
// with charmbracelet/log as the handler. The logger travels in the context
// so every layer logs with the attributes of the reference being checked.
package slogger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Log output formats.
const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatLogfmt = "logfmt"
)

// ErrUnknownFormat is returned for an unsupported log format.
var ErrUnknownFormat = errors.New("unknown log format")

type contextKey string

const loggerKey contextKey = "logger"

// Config holds logger configuration.
type Config struct {
	// Verbosity controls log level:
	// 0 (default) -> Error only
	// 1 (-v)      -> Info level
	// 2+ (-vv)    -> Debug level, 3+ adds the caller
	Verbosity int

	// Output is the writer for log output. Defaults to os.Stderr.
	Output io.Writer

	// Format is FormatText (default), FormatJSON or FormatLogfmt.
	Format string

	// Timestamps adds a timestamp to every record. Useful in CI logs.
	Timestamps bool
}

// Level maps a verbosity count to a charm log level.
func Level(verbosity int) charmlog.Level {
	switch {
	case verbosity >= 2:
		return charmlog.DebugLevel
	case verbosity == 1:
		return charmlog.InfoLevel
	default:
		return charmlog.ErrorLevel
	}
}

// Formatter maps a format name to a charm log formatter.
func Formatter(format string) (charmlog.Formatter, error) {
	switch format {
	case "", FormatText:
		return charmlog.TextFormatter, nil
	case FormatJSON:
		return charmlog.JSONFormatter, nil
	case FormatLogfmt:
		return charmlog.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("%w: %s (valid: %s, %s, %s)", ErrUnknownFormat, format, FormatText, FormatJSON, FormatLogfmt)
	}
}

// New creates a slog.Logger with charmbracelet/log as the handler.
func New(cfg Config) (*slog.Logger, error) {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	formatter, err := Formatter(cfg.Format)
	if err != nil {
		return nil, err
	}

	handler := charmlog.NewWithOptions(output, charmlog.Options{
		Level:           Level(cfg.Verbosity),
		Formatter:       formatter,
		ReportTimestamp: cfg.Timestamps,
		ReportCaller:    cfg.Verbosity >= 3,
		Prefix:          "digestpin",
	})

	return slog.New(handler), nil
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// With returns a context whose logger carries args on every record.
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}

// FromContext retrieves the logger from context.
// Returns a discarding logger if none is set (never returns nil).
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.New(slog.DiscardHandler)
}

// L is a convenience alias for FromContext.
func L(ctx context.Context) *slog.Logger {
	return FromContext(ctx)
}
