// Package logging carries a request or message scoped slog.Logger through a
// context so that downstream components log with the caller's attributes.
package logging

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// ContextWithLogger returns ctx carrying logger. A nil logger leaves ctx as is.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger carried by ctx, or nil.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey{}).(*slog.Logger)
	return logger
}

// Resolve prefers the logger carried by ctx, then fallback, then slog.Default.
func Resolve(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger := FromContext(ctx); logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// Component resolves a logger and tags it with the component that is logging
// and the operation in progress, followed by attrs.
func Component(ctx context.Context, fallback *slog.Logger, kind, name, operation string, attrs ...any) *slog.Logger {
	pairs := make([]any, 0, 4+len(attrs))
	pairs = append(pairs, kind, name)
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	pairs = append(pairs, attrs...)
	return Resolve(ctx, fallback).With(pairs...)
}
