package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by the logger
type ContextKey string

const (
	// LoggerKey is the context key for the logger instance
	LoggerKey ContextKey = "logger"
)

// Output formats accepted by NewFromConfig.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New creates a new structured logger with default configuration
func New() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

// NewWithWriter creates a new structured logger with a custom writer
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// NewFromConfig builds a logger for the configured level and format.
// An empty level means info, an empty format means console.
func NewFromConfig(level, format string, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stdout
	}

	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("NewFromConfig: level %q: %w", level, err)
		}
		lvl = parsed
	}

	switch strings.ToLower(format) {
	case "", FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("NewFromConfig: unknown format %q", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger(), nil
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from the context or returns a default logger
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return New()
}

// WithFields adds structured fields to a logger
func WithFields(logger zerolog.Logger, fields map[string]interface{}) zerolog.Logger {
	ctx := logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx.Logger()
}
