package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/metrics"
	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/notify"
	"github.com/gitshopapp/checkout/internal/observability"
	"github.com/gitshopapp/checkout/internal/store"
)

const DefaultLowStockThreshold = 5

type FulfillmentResult struct {
	OrderNumber      string
	AlreadyFulfilled bool
	Order            *models.Order
	StockLevels      []models.StockLevel
	LowStock         []models.StockLevel
	CouponApplied    bool
}

type FulfillmentEngine struct {
	orders            store.Orders
	notifier          notify.Notifier
	lowStockThreshold int
	metrics           *metrics.Payments
	logger            *slog.Logger
}

func NewFulfillmentEngine(orders store.Orders, notifier notify.Notifier, lowStockThreshold int, m *metrics.Payments, logger *slog.Logger) (*FulfillmentEngine, error) {
	if orders == nil {
		return nil, fmt.Errorf("order store is required")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if lowStockThreshold < 0 {
		return nil, fmt.Errorf("low stock threshold must not be negative")
	}
	return &FulfillmentEngine{
		orders:            orders,
		notifier:          notifier,
		lowStockThreshold: lowStockThreshold,
		metrics:           m,
		logger:            logger,
	}, nil
}

func (e *FulfillmentEngine) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, e.logger)
}

// Fulfill applies the side effects of an approved payment exactly once per order.
// Repeated or concurrent calls after the first commit report AlreadyFulfilled.
func (e *FulfillmentEngine) Fulfill(ctx context.Context, orderNumber string, txn *models.Transaction) (*FulfillmentResult, error) {
	if orderNumber == "" {
		return nil, fmt.Errorf("order number is required")
	}
	if txn == nil || txn.Status != models.TransactionApproved {
		return nil, fmt.Errorf("fulfillment requires an approved transaction")
	}

	span := sentry.StartSpan(ctx, "service.fulfillment.fulfill", sentry.WithOpName("service.fulfillment"), sentry.WithDescription("Fulfill"), sentry.WithSpanOrigin(sentry.SpanOriginManual))
	defer span.Finish()
	ctx = span.Context()
	span.SetData("order_number", orderNumber)

	logger := e.loggerFromContext(ctx).With("order_number", orderNumber, "transaction_id", txn.ProviderTransactionID)
	result := &FulfillmentResult{OrderNumber: orderNumber}

	err := e.orders.WithOrderLock(ctx, orderNumber, func(ctx context.Context, tx store.OrderTx) error {
		order := tx.Order()
		if order.IsPaid() {
			result.AlreadyFulfilled = true
			result.Order = order
			return nil
		}

		if err := tx.MarkPaid(ctx); err != nil {
			if errors.Is(err, store.ErrInvalidStatusTransition) {
				result.AlreadyFulfilled = true
				result.Order = order
				return nil
			}
			return fmt.Errorf("failed to mark order paid: %w", err)
		}

		for _, item := range order.Items {
			level, err := tx.DecrementStock(ctx, item)
			if err != nil {
				return fmt.Errorf("failed to decrement stock for product %d: %w", item.ProductID, err)
			}
			if !level.ThresholdSet {
				level.Threshold = e.lowStockThreshold
			}
			if level.Clamped {
				e.metrics.ObserveStockClamped()
				logger.Warn("stock shortfall, clamped to zero",
					"product_id", level.ProductID,
					"variant_id", level.VariantID,
					"requested", level.Requested,
				)
			}
			result.StockLevels = append(result.StockLevels, level)
			if level.IsLow() {
				result.LowStock = append(result.LowStock, level)
			}
		}

		if order.CouponCode != "" {
			applied, err := tx.IncrementCouponUsage(ctx, order.CouponCode)
			if err != nil {
				return fmt.Errorf("failed to increment coupon usage: %w", err)
			}
			if !applied {
				logger.Warn("coupon not found, usage not incremented", "coupon_code", order.CouponCode)
			}
			result.CouponApplied = applied
		}

		order.PaymentStatus = models.PaymentPaid
		order.Status = models.StatusProcessing
		order.ReviewReason = ""
		result.Order = order
		return nil
	})
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}

	if result.AlreadyFulfilled {
		logger.Info("order already fulfilled")
		return result, nil
	}

	observability.Count(ctx, "orders.fulfilled", 1)
	if len(result.LowStock) > 0 {
		observability.Count(ctx, "stock.low", int64(len(result.LowStock)), attribute.String("order_number", orderNumber))
	}
	logger.Info("order fulfilled", "items", len(result.StockLevels), "low_stock", len(result.LowStock))

	// Delivery failures never undo a committed fulfillment.
	if err := e.notifier.PaymentApproved(ctx, result.Order.Clone()); err != nil {
		logger.Error("failed to send payment approved notification", "error", err)
	}
	if len(result.LowStock) > 0 {
		if err := e.notifier.LowStock(ctx, append([]models.StockLevel(nil), result.LowStock...)); err != nil {
			logger.Error("failed to send low stock notification", "error", err)
		}
	}
	return result, nil
}
