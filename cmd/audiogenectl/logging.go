package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"audiogene/internal/config"
)

const defaultKeyboardLog = "audiogene.log"

// performLogPath keeps log lines off the terminal while the keyboard
// audience draws on it.
func performLogPath(explicit, input string) string {
	if explicit == "" && input == config.InputKeyboard {
		return defaultKeyboardLog
	}
	return explicit
}

// newLogger builds the performance logger. An empty path logs to stderr.
func newLogger(path, level, format string) (*slog.Logger, func() error, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q", level)
	}

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() error { return nil }
	)
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log: %w", err)
		}
		out = f
		closeFn = f.Close
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(out, opts)
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		_ = closeFn()
		return nil, nil, fmt.Errorf("invalid log format %q", format)
	}
	return slog.New(handler), closeFn, nil
}
