package logging

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// queryKey matches credentials carried in URL query strings, as explorers expect them.
var queryKey = regexp.MustCompile(`(?i)((?:api_?key|apikey|token)=)[^&\s"]+`)

// New returns a minimal structured logger with secret redaction.
func New() *slog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel returns a text logger on stderr at the named level; unknown names mean info.
func NewWithLevel(level string) *slog.Logger {
	return slog.New(newHandler(os.Stderr, ParseLevel(level), false))
}

// FromEnv builds the logger from LOG_LEVEL and LOG_FORMAT (text or json).
func FromEnv() *slog.Logger {
	json := strings.EqualFold(os.Getenv("LOG_FORMAT"), "json")
	return slog.New(newHandler(os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL")), json))
}

// ParseLevel maps debug/info/warn/error onto slog levels.
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

func newHandler(w io.Writer, level slog.Level, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if isSecretKey(a.Key) {
		a.Value = slog.StringValue("[redacted]")
		return a
	}
	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(scrub(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			a.Value = slog.StringValue(scrub(err.Error()))
		}
	}
	return a
}

func scrub(s string) string {
	return queryKey.ReplaceAllString(s, "${1}[redacted]")
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	return strings.Contains(k, "token") || strings.Contains(k, "secret") || strings.Contains(k, "key") || strings.Contains(k, "pass")
}
