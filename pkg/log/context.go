package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx retrieves the logger from the context, falling back to the global logger.
func Ctx(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return L()
	}
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// WithSession returns a context whose logger is tagged with a websocket session.
func WithSession(ctx context.Context, sessionID, userID string) context.Context {
	b := Ctx(ctx).With().Str(FieldSessionID, sessionID)
	if userID != "" {
		b = b.Str(FieldUserID, userID)
	}
	return WithLogger(ctx, b.Logger())
}
