package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/gitshopapp/checkout/internal/services"
)

const (
	maxReconcileBodyBytes = 4 << 10
	maxReconcileHours     = 24 * 30

	defaultReconcileBudget = 5 * time.Minute
)

type reconcileRequest struct {
	OrderNumber string `json:"order_number"`
	Hours       int    `json:"hours"`
	DryRun      bool   `json:"dry_run"`
}

// Reconcile lets operators trigger a reconciliation pass over HTTP. Requests carry an
// HS256 bearer token signed with the admin secret; the route is disabled without one.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	span := sentry.StartSpan(
		r.Context(),
		"handler.reconcile",
		sentry.WithOpName("handler.admin"),
		sentry.WithDescription("Reconcile"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx := span.Context()
	logger := h.loggerFromContext(ctx)

	if h.config.AdminTokenSecret == "" {
		span.Status = sentry.SpanStatusNotFound
		writeError(w, logger, http.StatusNotFound, "not found")
		return
	}

	subject, err := h.authorizeAdmin(r)
	if err != nil {
		logger.Warn("reconcile request rejected", "error", err)
		span.Status = sentry.SpanStatusUnauthenticated
		writeError(w, logger, http.StatusUnauthorized, "unauthorized")
		return
	}
	logger = logger.With("admin_subject", subject)

	var req reconcileRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxReconcileBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		span.Status = sentry.SpanStatusInvalidArgument
		writeError(w, logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Hours < 0 || req.Hours > maxReconcileHours {
		span.Status = sentry.SpanStatusInvalidArgument
		writeError(w, logger, http.StatusBadRequest, fmt.Sprintf("hours must be between 0 and %d", maxReconcileHours))
		return
	}

	opts := services.ReconcileOptions{
		OrderNumber: strings.TrimSpace(req.OrderNumber),
		DryRun:      req.DryRun,
		Trigger:     services.TriggerAdmin,
	}
	if req.Hours > 0 {
		opts.Window = time.Duration(req.Hours) * time.Hour
	}

	// A batch of provider fetches outlives the server-wide write deadline.
	budget := h.config.ReconcileRequestTimeout
	if budget <= 0 {
		budget = defaultReconcileBudget
	}
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(budget)); err != nil {
		logger.Debug("could not extend write deadline for reconcile", "error", err)
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	logger.Info("reconcile triggered", "order_number", opts.OrderNumber, "window", opts.Window, "dry_run", opts.DryRun)
	report, err := h.reconciler.Run(ctx, opts)
	if err != nil {
		logger.Error("reconcile run failed", "error", err)
		span.Status = sentry.SpanStatusInternalError
		writeError(w, logger, http.StatusInternalServerError, "reconcile failed")
		return
	}

	span.Status = sentry.SpanStatusOK
	writeJSON(w, logger, http.StatusOK, report)
}

// authorizeAdmin validates the bearer token and returns its subject.
func (h *Handlers) authorizeAdmin(r *http.Request) (string, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return "", err
	}
	claims, err := parseHS256(raw, h.config.AdminTokenSecret)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
