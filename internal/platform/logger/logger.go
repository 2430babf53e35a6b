// Package logger builds the process-wide structured logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls how the logger is built.
type Options struct {
	Level  string    // debug, info, warn, error (default info)
	Format string    // text or json (default text)
	Output io.Writer // default os.Stdout
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate rejects unknown level or format names.
func Validate(opts Options) error {
	switch strings.ToLower(strings.TrimSpace(opts.Level)) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", opts.Level)
	}
	switch strings.ToLower(opts.Format) {
	case "text", "json", "":
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", opts.Format)
	}
	return nil
}

// New returns a slog logger for opts and installs it as the default.
func New(opts Options) (*slog.Logger, error) {
	if err := Validate(opts); err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log, nil
}
