package log

import (
	"context"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

// WithLogger stores a logger in the context. The gin middleware uses this to
// hand each request a child logger carrying its request ID.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Ctx retrieves the logger from the context, falling back to the global
// logger so callers never need a nil check.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// ForSession returns a child of the context logger carrying the session's
// delivery identity. Frame handlers use it so every line for one connection
// correlates.
func ForSession(ctx context.Context, sessionID, userID string) zerolog.Logger {
	return Ctx(ctx).With().
		Str(FieldSessionID, sessionID).
		Str(FieldUserID, userID).
		Logger()
}
