// Package logging provides structured logging for intercessiod.
//
// Logging is built on log/slog with a redaction hook: any attribute whose
// key looks like it might carry key material or a bunker secret is
// replaced before it reaches the sink. This is the daemon's enforcement
// point for the confidentiality invariant that secrets never appear in
// logs (see the Secret Vault contract).
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level aliases slog.Level so callers don't need to import log/slog directly.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the log output encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Config controls logger construction.
type Config struct {
	Level     Level
	Format    Format
	Output    io.Writer // defaults to os.Stderr when nil
	Component string
}

// DefaultConfig returns the daemon's default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:     LevelInfo,
		Format:    FormatText,
		Output:    os.Stderr,
		Component: "intercessiod",
	}
}

// Logger wraps *slog.Logger with a component tag.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       cfg.Level,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithComponent returns a child logger tagged with a different component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", name))}
}

// WithSession returns a child logger tagged with a session id.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("session_id", sessionID))}
}

var sensitiveKeys = []string{
	"secret", "token", "key", "credential", "password", "nsec",
	"vault_account", "bunker_secret", "private",
}

// redact blanks any attribute whose key suggests it carries secret material.
// npub, session ids, and client pubkeys are intentionally not matched here:
// they are public identifiers, not secrets.
func redact(groups []string, a slog.Attr) slog.Attr {
	lower := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			a.Value = slog.StringValue("[REDACTED]")
			return a
		}
	}
	return a
}

type ctxKey int

const loggerCtxKey ctxKey = 0

// Into stores l in ctx for retrieval by From.
func Into(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, l)
}

// From retrieves a Logger from ctx, or a discarding default if none is set.
func From(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey).(*Logger); ok && l != nil {
		return l
	}
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
