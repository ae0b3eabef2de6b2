package logging

import (
	"context"
	"log/slog"
	"regexp"
)

// redactedPlaceholder replaces matched sensitive text in log output.
const redactedPlaceholder = "[REDACTED]"

// sensitiveLogPatterns match credential material that may appear inside
// logged command strings: auth headers, bearer tokens, key material
// paths, and key=value secrets.
var sensitiveLogPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(authorization:\s*)\S.*`),
	regexp.MustCompile(`(?i)\bbearer\s+\S+`),
	regexp.MustCompile(`(?i)((?:api[-_]?key|token|secret|password|passwd)\s*[=:]\s*)\S+`),
	regexp.MustCompile(`\S*id_rsa\S*`),
	regexp.MustCompile(`\S+\.(pem|key)\b`),
}

// RedactString masks sensitive substrings in s.
func RedactString(s string) string {
	for _, re := range sensitiveLogPatterns {
		s = re.ReplaceAllStringFunc(s, func(m string) string {
			if sub := re.FindStringSubmatch(m); len(sub) > 1 && sub[1] != "" {
				return sub[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return s
}

// RedactingHandler wraps a slog.Handler and masks sensitive substrings in
// the record message and all string attribute values.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps the given handler with redaction.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler, rewriting string attributes before
// delegating.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, RedactString(r.Message), r.PC)
	r.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = redactAttr(attr)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, RedactString(attr.Value.String()))
	case slog.KindGroup:
		group := attr.Value.Group()
		redacted := make([]any, 0, len(group))
		for _, member := range group {
			redacted = append(redacted, redactAttr(member))
		}
		return slog.Group(attr.Key, redacted...)
	default:
		return attr
	}
}
