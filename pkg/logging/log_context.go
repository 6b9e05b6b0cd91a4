package logging

import (
	"context"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"go.uber.org/zap"
)

type loggerKey struct{}

// GetLogger returns the logger carried by `ctx`, or the global logger.
func GetLogger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.L()
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithResource returns a context whose logger prefixes every entry with `id`.
func WithResource(ctx context.Context, id construct.ResourceId) context.Context {
	return WithLogger(ctx, GetLogger(ctx).With(ResourceField(id)))
}
