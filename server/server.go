package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/checkout/internal/config"
	"github.com/gitshopapp/checkout/internal/handlers"
)

const defaultWriteTimeout = 30 * time.Second

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	writeTimeout := cfg.HTTPWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	if cfg.WompiTimeout > 0 && writeTimeout < cfg.WompiTimeout+config.ResponseMargin {
		return nil, fmt.Errorf("write timeout %s leaves no room after the %s provider timeout", writeTimeout, cfg.WompiTimeout)
	}

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.MetricsContext)
	r.Use(h.SecurityHeaders)
	r.HandleFunc("/", h.Root).Methods("GET").Name("root")
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.HandleFunc("/metrics", h.Metrics).Methods("GET").Name("metrics")
	r.HandleFunc("/webhooks/wompi", h.WompiWebhook).Methods("POST").Name("webhooks.wompi")
	r.HandleFunc("/internal/reconcile", h.Reconcile).Methods("POST").Name("internal.reconcile")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}` + "\n"))
	})

	// Buyer-facing routes read the checkout session to decide what to disclose.
	paymentsRouter := r.PathPrefix("/payments").Subrouter()
	paymentsRouter.Use(h.SessionMiddleware)
	paymentsRouter.HandleFunc("/claim", h.PaymentClaim).Methods("GET").Name("payments.claim")
	paymentsRouter.HandleFunc("/return", h.PaymentReturn).Methods("GET").Name("payments.return")
	paymentsRouter.HandleFunc("/status/{order_number}", h.PaymentStatus).Methods("GET").Name("payments.status")
	paymentsRouter.HandleFunc("/{order_number}/checkout", h.PaymentCheckout).Methods("GET").Name("payments.checkout")

	return r
}
