// Package logger holds the process-wide structured logger used by the
// allocator. Output is discarded until Init enables it.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(discard())
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	Output  io.Writer  // Destination. Default: os.Stderr
	File    string     // Append to this file instead of Output when set
	JSON    bool       // JSON records instead of text
}

// Init configures logging. It is safe to call at any time; allocator
// goroutines pick up the new logger on their next call.
func Init(opts Options) error {
	if !opts.Enabled {
		current.Store(discard())
		return nil
	}

	out := opts.Output
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		out = f
	}
	if out == nil {
		out = os.Stderr
	}

	level := opts.Level
	if level == 0 {
		level = slog.LevelInfo
	}

	ho := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(out, ho)
	} else {
		h = slog.NewTextHandler(out, ho)
	}
	current.Store(slog.New(h))
	return nil
}

// L returns the active logger.
func L() *slog.Logger { return current.Load() }

// Enabled reports whether records at level would be emitted. Hot paths
// check it before building attributes.
func Enabled(level slog.Level) bool {
	return current.Load().Enabled(context.Background(), level)
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { current.Load().Debug(msg, args...) }

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { current.Load().Info(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { current.Load().Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { current.Load().Error(msg, args...) }
