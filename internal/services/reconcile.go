package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"

	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/metrics"
	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/store"
	"github.com/gitshopapp/checkout/internal/wompi"
)

const (
	DefaultReconcileWindow      = 24 * time.Hour
	DefaultReconcileConcurrency = 4

	TriggerCLI       = "cli"
	TriggerAdmin     = "admin"
	TriggerScheduler = "scheduler"
)

// Item actions that are not pipeline actions.
const (
	ReconcileUnchanged     = "unchanged"
	ReconcileNoTransaction = "no_transaction"
	ReconcileError         = "error"
)

// TransactionFetcher reads a transaction's current state from the payment provider.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, id string) (*wompi.Transaction, error)
}

type ReconcileOptions struct {
	// OrderNumber restricts the run to one order and disables the window.
	OrderNumber string
	Window      time.Duration
	DryRun      bool
	Trigger     string
}

type ReconcileItem struct {
	OrderNumber    string                   `json:"order_number" yaml:"order_number"`
	TransactionID  string                   `json:"transaction_id,omitempty" yaml:"transaction_id,omitempty"`
	ProviderStatus models.TransactionStatus `json:"provider_status,omitempty" yaml:"provider_status,omitempty"`
	Action         string                   `json:"action" yaml:"action"`
	Error          string                   `json:"error,omitempty" yaml:"error,omitempty"`
	Err            error                    `json:"-" yaml:"-"`
}

type ReconcileReport struct {
	StartedAt   time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time       `json:"finished_at" yaml:"finished_at"`
	DryRun      bool            `json:"dry_run" yaml:"dry_run"`
	OrderNumber string          `json:"order_number,omitempty" yaml:"order_number,omitempty"`
	Window      string          `json:"window,omitempty" yaml:"window,omitempty"`
	Items       []ReconcileItem `json:"items" yaml:"items"`
	Updated     int             `json:"updated" yaml:"updated"`
	Skipped     int             `json:"skipped" yaml:"skipped"`
	Errors      int             `json:"errors" yaml:"errors"`
}

type ReconcileService struct {
	store       store.Store
	payments    *PaymentService
	fetcher     TransactionFetcher
	concurrency int
	metrics     *metrics.Payments
	logger      *slog.Logger
	now         func() time.Time
}

func NewReconcileService(st store.Store, payments *PaymentService, fetcher TransactionFetcher, concurrency int, m *metrics.Payments, logger *slog.Logger) (*ReconcileService, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment service is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("transaction fetcher is required")
	}
	if concurrency <= 0 {
		concurrency = DefaultReconcileConcurrency
	}
	return &ReconcileService{
		store:       st,
		payments:    payments,
		fetcher:     fetcher,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *ReconcileService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Run re-derives the state of pending orders from the provider. Per-order failures
// are reported on their item; only selection failures abort the run.
func (s *ReconcileService) Run(ctx context.Context, opts ReconcileOptions) (*ReconcileReport, error) {
	span := sentry.StartSpan(ctx, "service.reconcile.run", sentry.WithOpName("service.reconcile"), sentry.WithDescription("Run"), sentry.WithSpanOrigin(sentry.SpanOriginManual))
	defer span.Finish()
	ctx = span.Context()

	if opts.Trigger == "" {
		opts.Trigger = TriggerCLI
	}
	report := &ReconcileReport{
		StartedAt:   s.now(),
		DryRun:      opts.DryRun,
		OrderNumber: opts.OrderNumber,
	}

	filter := store.PendingFilter{OrderNumber: opts.OrderNumber}
	if opts.OrderNumber == "" {
		window := opts.Window
		if window <= 0 {
			window = DefaultReconcileWindow
		}
		filter.Since = report.StartedAt.Add(-window)
		report.Window = window.String()
	}

	logger := s.loggerFromContext(ctx).With("trigger", opts.Trigger, "dry_run", opts.DryRun)
	s.metrics.ObserveReconcileRun(opts.Trigger, opts.DryRun)

	orders, err := s.store.Orders().ListPendingWithTransactions(ctx, filter)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}

	items := make([]ReconcileItem, len(orders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, order := range orders {
		g.Go(func() error {
			items[i] = s.reconcileOrder(gctx, order.OrderNumber, opts.DryRun)
			return nil
		})
	}
	_ = g.Wait()

	report.Items = items
	for _, item := range items {
		s.metrics.ObserveReconcileItem(item.Action)
		switch {
		case item.Err != nil:
			report.Errors++
			logger.Error("reconcile item failed", "order_number", item.OrderNumber, "error", item.Err)
		case isUpdate(item.Action):
			report.Updated++
		default:
			report.Skipped++
		}
	}
	report.FinishedAt = s.now()

	logger.Info("reconciliation finished",
		"orders", len(items),
		"updated", report.Updated,
		"skipped", report.Skipped,
		"errors", report.Errors,
	)
	span.Status = sentry.SpanStatusOK
	return report, nil
}

func (s *ReconcileService) reconcileOrder(ctx context.Context, orderNumber string, dryRun bool) ReconcileItem {
	item := ReconcileItem{OrderNumber: orderNumber}
	fail := func(err error) ReconcileItem {
		item.Action = ReconcileError
		item.Err = err
		item.Error = err.Error()
		return item
	}

	latest, err := s.store.Transactions().LatestForOrder(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			item.Action = ReconcileNoTransaction
			return item
		}
		return fail(fmt.Errorf("failed to load latest transaction: %w", err))
	}
	item.TransactionID = latest.ProviderTransactionID

	started := time.Now()
	fetched, err := s.fetcher.GetTransaction(ctx, latest.ProviderTransactionID)
	s.metrics.ObserveProviderFetch(time.Since(started), err)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrProviderFetchFailed, err))
	}

	record := fetched.Record()
	if record.Reference == "" {
		record.Reference = orderNumber
	}
	item.ProviderStatus = record.Status

	if latest.Status == models.TransactionPending && record.Status == models.TransactionPending {
		item.Action = ReconcileUnchanged
		return item
	}

	if dryRun {
		outcome, err := s.payments.Plan(ctx, SourceReconcile, record)
		if err != nil {
			return fail(err)
		}
		item.Action = "would " + string(outcome.Action)
		return item
	}

	outcome, err := s.payments.Apply(ctx, SourceReconcile, record)
	if err != nil {
		return fail(err)
	}
	item.Action = string(outcome.Action)
	return item
}

func isUpdate(action string) bool {
	action, _ = strings.CutPrefix(action, "would ")
	return Action(action).Mutates()
}
