package logging

import (
	"context"
	"log/slog"
	"regexp"
)

// redactedToken replaces any value that looks like a credential.
const redactedToken = "[REDACTED]"

// Value patterns that indicate embedded secrets regardless of the attr key.
var redactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`key-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`Bearer\s+[A-Za-z0-9._\-]{20,}`),
	regexp.MustCompile(`[a-fA-F0-9]{40,}`),
}

// Attr keys that always have their values replaced wholesale.
var credentialKeys = regexp.MustCompile(`(?i)(api[-_]?key|secret|token|password|credential|authorization)`)

// Redact scrubs credential-looking substrings from text.
func Redact(text string) string {
	for _, p := range redactionPatterns {
		text = p.ReplaceAllString(text, redactedToken)
	}
	return text
}

// RedactingHandler wraps a slog.Handler and scrubs string attr values.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps inner with credential redaction.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, Redact(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(scrubbed)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if credentialKeys.MatchString(a.Key) {
		return slog.String(a.Key, redactedToken)
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, Redact(a.Value.String()))
	}
	return a
}
