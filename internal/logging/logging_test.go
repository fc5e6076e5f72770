package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestFromContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	scoped := slog.New(slog.NewTextHandler(&buf, nil))
	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	if got := FromContext(WithLogger(context.Background(), scoped), fallback); got != scoped {
		t.Fatal("expected the request-scoped logger")
	}
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Fatal("expected the fallback logger")
	}
	if got := FromContext(context.Background(), nil); got == nil {
		t.Fatal("expected a no-op logger")
	}
}

func TestWithPropagatesThroughContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, logger := With(context.Background(), base, "source", "webhook")
	logger.Info("transaction recorded")
	FromContext(ctx, nil).Info("order fulfilled")

	out := buf.String()
	if strings.Count(out, "source=webhook") != 2 {
		t.Fatalf("expected both records to carry source, got %q", out)
	}
}

func TestMultiHandler_SingleHandlerIsUnwrapped(t *testing.T) {
	t.Parallel()

	only := slog.NewTextHandler(&bytes.Buffer{}, nil)
	if got := MultiHandler(nil, only); got != only {
		t.Fatalf("MultiHandler() = %T, want the handler itself", got)
	}
	if got := MultiHandler(); got == nil {
		t.Fatal("expected a discard handler")
	}
}

func TestMultiHandler_FansOutByLevel(t *testing.T) {
	t.Parallel()

	var debug, errs bytes.Buffer
	logger := slog.New(MultiHandler(
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errs, &slog.HandlerOptions{Level: slog.LevelError}),
		nil,
	)).With("component", "test")

	logger.Info("order paid", "order_number", "ORD-1")
	logger.Error("flagged for review", "order_number", "ORD-2")

	if !strings.Contains(debug.String(), "order paid") || !strings.Contains(debug.String(), "flagged for review") {
		t.Fatalf("expected both records in debug sink, got %q", debug.String())
	}
	if strings.Contains(errs.String(), "order paid") {
		t.Fatalf("info record leaked into error sink: %q", errs.String())
	}
	if !strings.Contains(errs.String(), "component=test") {
		t.Fatalf("expected attrs to propagate, got %q", errs.String())
	}
}
