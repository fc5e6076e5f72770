// Package notify delivers payment and stock notifications to external collaborators.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gitshopapp/checkout/internal/models"
)

type Notifier interface {
	PaymentApproved(ctx context.Context, order *models.Order) error
	PaymentFailed(ctx context.Context, order *models.Order) error
	LowStock(ctx context.Context, items []models.StockLevel) error
}

type Nop struct{}

func (Nop) PaymentApproved(context.Context, *models.Order) error { return nil }
func (Nop) PaymentFailed(context.Context, *models.Order) error   { return nil }
func (Nop) LowStock(context.Context, []models.StockLevel) error  { return nil }

// LogNotifier only logs. It stands in when no email or Kafka sink is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify_log")}
}

func (n *LogNotifier) PaymentApproved(ctx context.Context, order *models.Order) error {
	n.logger.InfoContext(ctx, "payment approved notification", "order_number", order.OrderNumber, "email", order.BillingEmail)
	return nil
}

func (n *LogNotifier) PaymentFailed(ctx context.Context, order *models.Order) error {
	n.logger.InfoContext(ctx, "payment failed notification", "order_number", order.OrderNumber, "email", order.BillingEmail)
	return nil
}

func (n *LogNotifier) LowStock(ctx context.Context, items []models.StockLevel) error {
	for _, item := range items {
		n.logger.WarnContext(ctx, "low stock notification",
			"product_id", item.ProductID,
			"variant_id", item.VariantID,
			"name", item.Name,
			"remaining", item.Remaining,
			"threshold", item.Threshold,
		)
	}
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) PaymentApproved(ctx context.Context, order *models.Order) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.PaymentApproved(ctx, order))
	}
	return errors.Join(errs...)
}

func (m Multi) PaymentFailed(ctx context.Context, order *models.Order) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.PaymentFailed(ctx, order))
	}
	return errors.Join(errs...)
}

func (m Multi) LowStock(ctx context.Context, items []models.StockLevel) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.LowStock(ctx, items))
	}
	return errors.Join(errs...)
}
