package observability

import (
	"context"
	"testing"

	"github.com/getsentry/sentry-go/attribute"
)

func TestWithAttributesKeepsMeterInContext(t *testing.T) {
	t.Parallel()

	ctx := WithAttributes(context.Background(), attribute.String("payment.source", "webhook"))
	if ctx.Value(meterContextKey{}) == nil {
		t.Fatal("expected a meter in context")
	}
	if MeterFromContext(ctx) == nil {
		t.Fatal("expected MeterFromContext to return the scoped meter")
	}
}

func TestCountWithoutClient(t *testing.T) {
	t.Parallel()

	// No Sentry client is bound; recording is a no-op.
	Count(context.Background(), "payments.outcome", 1, attribute.String("action", "fulfill"))
	Count(WithAttributes(context.Background()), "orders.fulfilled", 1)
}
