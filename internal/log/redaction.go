package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Redacted replaces sensitive values.
const Redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively as substrings of an
// attribute key.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"sessionkey",
	"session_key",
	"ticket",
	"identity",
	"keytab",
}

// RedactingHandler is a slog.Handler that strips secrets before they reach
// the wrapped handler. Values under sensitive keys are replaced, and raw
// byte slices under any key are reduced to their length so token bytes
// never reach a log sink.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted)}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	switch {
	case sensitive(a.Key):
		return slog.String(a.Key, Redacted)
	case a.Value.Kind() == slog.KindGroup:
		group := a.Value.Group()
		args := make([]any, len(group))
		for i, g := range group {
			args[i] = redactAttr(g)
		}
		return slog.Group(a.Key, args...)
	case a.Value.Kind() == slog.KindAny:
		if b, ok := a.Value.Any().([]byte); ok {
			return slog.String(a.Key, fmt.Sprintf("[%d bytes]", len(b)))
		}
	}
	return a
}
