package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/gitshopapp/checkout/internal/cache"
	"github.com/gitshopapp/checkout/internal/observability"
	"github.com/gitshopapp/checkout/internal/services"
	"github.com/gitshopapp/checkout/internal/store"
	"github.com/gitshopapp/checkout/internal/wompi"
)

// WompiWebhook receives pushed transaction events. Anything the provider should not
// retry is acknowledged with 200; only storage failures return 5xx.
func (h *Handlers) WompiWebhook(w http.ResponseWriter, r *http.Request) {
	span := sentry.StartSpan(
		r.Context(),
		"handler.wompi_webhook",
		sentry.WithOpName("handler.webhook"),
		sentry.WithDescription("WompiWebhook"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx := span.Context()

	logger := h.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("webhook.provider", "wompi"))
	meter.Count("webhook.received", 1)
	finish := func(status int, result string) {
		h.metrics.ObserveWebhook(result)
		if status >= http.StatusBadRequest {
			meter.Count("webhook.failed", 1, sentry.WithAttributes(attribute.String("reason", result)))
		}
		span.Status = sentry.HTTPtoSpanStatus(status)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("wompi webhook body too large")
			finish(http.StatusRequestEntityTooLarge, "too_large")
			writeError(w, logger, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		logger.Error("failed to read wompi webhook body", "error", err)
		finish(http.StatusBadRequest, "unreadable")
		writeError(w, logger, http.StatusBadRequest, "invalid payload")
		return
	}

	event, err := wompi.ParseEvent(body)
	if err != nil {
		logger.Warn("malformed wompi webhook", "error", err)
		finish(http.StatusBadRequest, "malformed")
		writeError(w, logger, http.StatusBadRequest, "invalid payload")
		return
	}

	if err := h.verifier.Verify(event); err != nil {
		logger.Warn("wompi webhook rejected", "error", err, "event", event.Event)
		finish(http.StatusUnauthorized, "unauthorized")
		writeError(w, logger, http.StatusUnauthorized, "invalid signature")
		return
	}
	if h.verifier.Permissive() {
		logger.Warn("webhook signature not verified", "event", event.Event)
	}

	if event.Event != wompi.EventTransactionUpdated {
		logger.Info("ignoring wompi event", "event", event.Event)
		finish(http.StatusOK, "ignored")
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	txn, err := event.Transaction()
	if err != nil || txn == nil || txn.ID == "" || txn.Reference == "" {
		logger.Warn("wompi webhook missing transaction id or reference", "error", err)
		finish(http.StatusBadRequest, "malformed")
		writeError(w, logger, http.StatusBadRequest, "missing transaction id or reference")
		return
	}
	logger = logger.With("transaction_id", txn.ID, "order_number", txn.Reference, "provider_status", txn.Status)

	cacheKey := cache.WebhookKey("wompi", deliveryKey(event, txn))
	seen, err := cache.Seen(ctx, h.cacheProvider, cacheKey)
	if err != nil {
		logger.Warn("webhook dedup lookup failed, processing anyway", "error", err)
	}
	if seen {
		logger.Info("webhook already processed")
		finish(http.StatusOK, "duplicate")
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	outcome, err := h.payments.Apply(ctx, services.SourceWebhook, txn.Record())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrOrderNotFound):
		logger.Warn("wompi webhook for unknown order")
		finish(http.StatusOK, "order_not_found")
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "order_not_found"})
		return
	case errors.Is(err, services.ErrMalformedPayload):
		logger.Warn("wompi webhook payload rejected", "error", err)
		finish(http.StatusBadRequest, "malformed")
		writeError(w, logger, http.StatusBadRequest, "invalid transaction")
		return
	default:
		logger.Error("failed to process wompi webhook", "error", err)
		finish(http.StatusInternalServerError, "failed")
		writeError(w, logger, http.StatusInternalServerError, "processing failed")
		return
	}

	if err := cache.MarkSeen(ctx, h.cacheProvider, cacheKey); err != nil {
		logger.Error("failed to mark webhook as processed in cache", "error", err)
	}

	result := "processed"
	if !outcome.Consistent() {
		result = "inconsistent"
	}
	finish(http.StatusOK, result)
	writeJSON(w, logger, http.StatusOK, map[string]string{
		"status": result,
		"action": string(outcome.Action),
	})
}

// deliveryKey identifies one delivery. Signed events use their checksum; unsigned ones
// fall back to what the checksum would have covered.
func deliveryKey(event *wompi.Event, txn *wompi.Transaction) string {
	if event.Signature.Checksum != "" {
		return strings.ToLower(event.Signature.Checksum)
	}
	return fmt.Sprintf("%s:%s:%s", txn.ID, txn.Status, event.TimestampText())
}
