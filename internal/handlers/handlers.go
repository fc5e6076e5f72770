package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gitshopapp/checkout/internal/cache"
	"github.com/gitshopapp/checkout/internal/config"
	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/metrics"
	"github.com/gitshopapp/checkout/internal/services"
	"github.com/gitshopapp/checkout/internal/session"
	"github.com/gitshopapp/checkout/internal/store"
	"github.com/gitshopapp/checkout/internal/wompi"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

// Handlers provides the payment-facing HTTP endpoints.
type Handlers struct {
	config         *config.Config
	store          store.Store
	cacheProvider  cache.Provider
	sessionManager *session.Manager
	verifier       *wompi.Verifier
	fetcher        services.TransactionFetcher
	payments       *services.PaymentService
	reconciler     services.ReconcileRunner
	metrics        *metrics.Payments
	metricsHandler http.Handler
	logger         *slog.Logger
}

type Dependencies struct {
	Config         *config.Config
	Store          store.Store
	CacheProvider  cache.Provider
	SessionManager *session.Manager
	Verifier       *wompi.Verifier
	Fetcher        services.TransactionFetcher
	Payments       *services.PaymentService
	Reconciler     services.ReconcileRunner
	Metrics        *metrics.Payments
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("handlers dependencies: store is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.SessionManager == nil {
		return nil, fmt.Errorf("handlers dependencies: sessionManager is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("handlers dependencies: verifier is required")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("handlers dependencies: fetcher is required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("handlers dependencies: payments is required")
	}
	if deps.Reconciler == nil {
		return nil, fmt.Errorf("handlers dependencies: reconciler is required")
	}

	return &Handlers{
		config:         deps.Config,
		store:          deps.Store,
		cacheProvider:  deps.CacheProvider,
		sessionManager: deps.SessionManager,
		verifier:       deps.Verifier,
		fetcher:        deps.Fetcher,
		payments:       deps.Payments,
		reconciler:     deps.Reconciler,
		metrics:        deps.Metrics,
		metricsHandler: deps.MetricsHandler,
		logger:         logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.store.Ping(ctx); err != nil {
		logger.Error("store health check failed", "error", err)
		http.Error(w, "Store unhealthy", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, logger, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, map[string]string{"service": "checkout"})
}

// Metrics serves the Prometheus scrape endpoint.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.metricsHandler == nil {
		http.NotFound(w, r)
		return
	}
	h.metricsHandler.ServeHTTP(w, r)
}

// SessionMiddleware adds session data to the request context
func (h *Handlers) SessionMiddleware(next http.Handler) http.Handler {
	return h.sessionManager.Middleware(next)
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	writeJSON(w, logger, status, map[string]string{"error": message})
}
