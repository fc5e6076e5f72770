package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go/attribute"

	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/observability"
)

const defaultDispatchTimeout = 30 * time.Second

// Dispatcher delivers notifications in the background so callers never wait on, or fail
// because of, an external sink. It satisfies Notifier and always returns nil.
type Dispatcher struct {
	next    Notifier
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(next Notifier, logger *slog.Logger, timeout time.Duration) (*Dispatcher, error) {
	if next == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Dispatcher{
		next:    next,
		logger:  logger.With("component", "notify_dispatcher"),
		timeout: timeout,
	}, nil
}

func (d *Dispatcher) PaymentApproved(ctx context.Context, order *models.Order) error {
	order = order.Clone()
	d.dispatch(ctx, "payment_approved", order.OrderNumber, func(ctx context.Context) error {
		return d.next.PaymentApproved(ctx, order)
	})
	return nil
}

func (d *Dispatcher) PaymentFailed(ctx context.Context, order *models.Order) error {
	order = order.Clone()
	d.dispatch(ctx, "payment_failed", order.OrderNumber, func(ctx context.Context) error {
		return d.next.PaymentFailed(ctx, order)
	})
	return nil
}

func (d *Dispatcher) LowStock(ctx context.Context, items []models.StockLevel) error {
	if len(items) == 0 {
		return nil
	}
	items = append([]models.StockLevel(nil), items...)
	d.dispatch(ctx, "low_stock", "", func(ctx context.Context) error {
		return d.next.LowStock(ctx, items)
	})
	return nil
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatch(parent context.Context, kind, orderNumber string, send func(ctx context.Context) error) {
	// The caller's request may finish before delivery does.
	base := context.WithoutCancel(parent)
	logger := logging.FromContext(parent, d.logger)
	if logger != d.logger {
		logger = logger.With("component", "notify_dispatcher")
	}
	logger = logger.With("notification", kind)
	if orderNumber != "" {
		logger = logger.With("order_number", orderNumber)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		ctx = observability.WithAttributes(ctx, attribute.String("notification", kind))
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "notification panicked", "panic", r)
				observability.Count(ctx, "notifications.failed", 1)
			}
		}()

		if err := send(ctx); err != nil {
			logger.ErrorContext(ctx, "notification failed", "error", err)
			observability.Count(ctx, "notifications.failed", 1)
			return
		}
		logger.DebugContext(ctx, "notification delivered")
		observability.Count(ctx, "notifications.sent", 1)
	}()
}
