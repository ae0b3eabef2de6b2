package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrInvalidLogLevel is returned when an invalid log level is provided.
var ErrInvalidLogLevel = errors.New("invalid log level")

// ParseLevel converts a level string (debug, info, warn, error) to a
// slog.Level. The empty string defaults to info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q (must be one of: debug, info, warn, error)", ErrInvalidLogLevel, s)
	}
}

// Options configures the logging stack.
type Options struct {
	// Level is the minimum level (debug, info, warn, error).
	Level string

	// Console receives human-readable output; defaults to stderr.
	Console io.Writer

	// JSONFile, when non-empty, additionally appends JSON records to the
	// given path.
	JSONFile string
}

// Setup builds the handler stack (console handler, optional JSON file
// handler, both behind redaction) and installs it as the slog default.
// It returns a closer for the JSON file, if any.
func Setup(opts Options) (func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []slog.Handler{newConsoleHandler(console, level)}
	closer := func() error { return nil }

	if opts.JSONFile != "" {
		f, err := os.OpenFile(opts.JSONFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		closer = f.Close
	}

	slog.SetDefault(slog.New(NewRedactingHandler(NewMultiHandler(handlers...))))
	return closer, nil
}

// newConsoleHandler picks a colored text handler on terminals and a plain
// one otherwise.
func newConsoleHandler(w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		opts.ReplaceAttr = colorizeLevel
	}
	return slog.NewTextHandler(w, opts)
}
