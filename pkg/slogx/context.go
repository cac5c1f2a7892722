package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithContext stashes the logger on the context so downstream code picks up
// any request-scoped attributes.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the context's logger, or fallback when none was set.
// A nil fallback yields slog.Default.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// WithRequestID tags the context's logger with a request ID.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	l := FromContext(ctx, nil)
	return WithContext(ctx, l.With("req_id", reqID))
}
