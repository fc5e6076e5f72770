// Package store defines the persistence contracts shared by the payment entry points.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gitshopapp/checkout/internal/models"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrInvalidStatusTransition = errors.New("invalid payment status transition")
)

// PendingFilter narrows the orders picked up by reconciliation.
// A non-empty OrderNumber takes precedence over Since.
type PendingFilter struct {
	OrderNumber string
	Since       time.Time
	Limit       int
}

type Orders interface {
	GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	// ListPendingWithTransactions returns orders whose payment is pending and that
	// have at least one recorded provider transaction.
	ListPendingWithTransactions(ctx context.Context, filter PendingFilter) ([]*models.Order, error)
	// MarkPaymentFailed moves payment_status to failed unless it is already paid or failed.
	// It reports whether the transition happened.
	MarkPaymentFailed(ctx context.Context, orderNumber string) (bool, error)
	FlagForReview(ctx context.Context, orderNumber, reason string) error
	// WithOrderLock runs fn while holding an exclusive, order-scoped lock. Writes made through
	// the OrderTx are committed together when fn returns nil and discarded otherwise.
	WithOrderLock(ctx context.Context, orderNumber string, fn func(ctx context.Context, tx OrderTx) error) error
}

// OrderTx is the fulfillment critical section's view of storage.
type OrderTx interface {
	// Order is the order as re-read under the lock.
	Order() *models.Order
	MarkPaid(ctx context.Context) error
	DecrementStock(ctx context.Context, item models.OrderItem) (models.StockLevel, error)
	IncrementCouponUsage(ctx context.Context, code string) (bool, error)
}

type Transactions interface {
	// Upsert inserts or updates the record keyed by ProviderTransactionID and reports whether
	// anything changed. Repeating an identical observation is a no-op.
	Upsert(ctx context.Context, txn *models.Transaction) (*models.Transaction, bool, error)
	GetByProviderID(ctx context.Context, providerTransactionID string) (*models.Transaction, error)
	LatestForOrder(ctx context.Context, orderNumber string) (*models.Transaction, error)
}

// Store bundles the contracts an entry point needs.
type Store interface {
	Orders() Orders
	Transactions() Transactions
	Ping(ctx context.Context) error
	Close()
}
