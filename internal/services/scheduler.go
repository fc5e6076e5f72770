package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gitshopapp/checkout/internal/logging"
)

// ReconcileRunner runs one reconciliation pass.
type ReconcileRunner interface {
	Run(ctx context.Context, opts ReconcileOptions) (*ReconcileReport, error)
}

// ReconcileScheduler runs reconciliation on a fixed interval until its context ends.
type ReconcileScheduler struct {
	runner   ReconcileRunner
	interval time.Duration
	window   time.Duration
	logger   *slog.Logger
}

func NewReconcileScheduler(runner ReconcileRunner, interval, window time.Duration, logger *slog.Logger) (*ReconcileScheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("reconcile runner is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("reconcile interval must be positive")
	}
	return &ReconcileScheduler{
		runner:   runner,
		interval: interval,
		window:   window,
		logger:   logger,
	}, nil
}

func (s *ReconcileScheduler) Run(ctx context.Context) {
	logger := logging.FromContext(ctx, s.logger)
	logger.Info("reconcile scheduler started", "interval", s.interval, "window", s.window)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconcile scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.runner.Run(ctx, ReconcileOptions{Window: s.window, Trigger: TriggerScheduler}); err != nil {
				logger.Error("scheduled reconciliation failed", "error", err)
			}
		}
	}
}
