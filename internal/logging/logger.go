// Package logging defines the structured logger used across epirec and a
// log/slog implementation of it.
package logging

import "context"

// Logger is a context-aware, structured logger. Variadic args are key/value
// pairs, e.g.
//
//	log.Info(ctx, "backup created", "path", path, "method", method)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
