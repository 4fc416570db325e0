// Package log builds the slog loggers used by the command line tools. Every
// logger it returns is wrapped in a RedactingHandler.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the log sink.
type Options struct {
	Level  slog.Level
	Format string // "text" (default) or "json"

	// File, when set, receives the log instead of the writer passed to Open.
	File       string
	MaxSize    int64 // bytes; zero disables rotation
	MaxBackups int
}

// New returns a text logger at level writing to w.
func New(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(NewRedactingHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// Open builds a logger from opts. The returned closer releases the log
// file, if any, and is never nil.
func Open(opts Options, w io.Writer) (*slog.Logger, io.Closer, error) {
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rf, err := NewRotatingFile(opts.File, opts.MaxSize, opts.MaxBackups)
		if err != nil {
			return nil, nil, err
		}
		w, closer = rf, rf
	}
	if w == nil {
		w = os.Stderr
	}

	ho := &slog.HandlerOptions{Level: opts.Level}
	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, ho)
	case "json":
		h = slog.NewJSONHandler(w, ho)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(NewRedactingHandler(h)), closer, nil
}

// ParseLevel accepts debug, info, warn or error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
