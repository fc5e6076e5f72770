package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
)

type meterContextKey struct{}

// WithMeter returns a context carrying the provided meter.
func WithMeter(ctx context.Context, meter sentry.Meter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return context.WithValue(ctx, meterContextKey{}, meter.WithCtx(ctx))
}

// MeterFromContext returns the request-scoped meter from context or a new one.
func MeterFromContext(ctx context.Context) sentry.Meter {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter, ok := ctx.Value(meterContextKey{}).(sentry.Meter); ok && meter != nil {
		return meter.WithCtx(ctx)
	}
	return sentry.NewMeter(ctx).WithCtx(ctx)
}

// WithAttributes scopes attrs (payment source, order number) onto every metric
// recorded from the returned context.
func WithAttributes(ctx context.Context, attrs ...attribute.Builder) context.Context {
	meter := MeterFromContext(ctx)
	meter.SetAttributes(attrs...)
	return WithMeter(ctx, meter)
}

// Count increments name on the context's meter.
func Count(ctx context.Context, name string, value int64, attrs ...attribute.Builder) {
	MeterFromContext(ctx).Count(name, value, sentry.WithAttributes(attrs...))
}
