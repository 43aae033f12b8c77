// Package logging builds the process slog.Logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Options selects level and output format.
type Options struct {
	Level  string
	Format string
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

// New returns a logger writing to w. Values under secret-looking keys are
// redacted.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	ho := &slog.HandlerOptions{Level: level, ReplaceAttr: maskAttr}
	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, ho)
	case "json":
		h = slog.NewJSONHandler(w, ho)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(h), nil
}

var secretKeys = []string{"key", "token", "secret", "password", "authorization", "bearer"}

func maskAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	s := a.Value.String()
	lower := strings.ToLower(a.Key)
	for _, p := range secretKeys {
		if strings.Contains(lower, p) {
			return slog.String(a.Key, redact(s))
		}
	}
	if strings.HasPrefix(strings.ToLower(s), "bearer ") {
		return slog.String(a.Key, "Bearer "+redact(s[len("bearer "):]))
	}
	if strings.HasPrefix(s, "sk-") {
		return slog.String(a.Key, redact(s))
	}
	return a
}

func redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-2:]
}
