package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gitshopapp/checkout/internal/models"
)

// MemoryStore is an in-process Store used for local development and tests.
// Critical sections run under a single store-wide lock, which trivially satisfies
// the per-order exclusivity contract.
type MemoryStore struct {
	mu           sync.RWMutex
	orders       map[string]*models.Order
	products     map[int64]*models.Product
	variants     map[int64]*models.ProductVariant
	coupons      map[string]*models.Coupon
	transactions map[string]*memoryTransaction
	seq          int64
	now          func() time.Time
}

type memoryTransaction struct {
	record *models.Transaction
	seq    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:       make(map[string]*models.Order),
		products:     make(map[int64]*models.Product),
		variants:     make(map[int64]*models.ProductVariant),
		coupons:      make(map[string]*models.Coupon),
		transactions: make(map[string]*memoryTransaction),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Orders() Orders             { return memoryOrders{s} }
func (s *MemoryStore) Transactions() Transactions { return memoryTransactions{s} }
func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close()                     {}

func (s *MemoryStore) AddOrder(order *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := order.Clone()
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = s.now()
	}
	if cloned.Status == "" {
		cloned.Status = models.StatusPending
	}
	if cloned.PaymentStatus == "" {
		cloned.PaymentStatus = models.PaymentPending
	}
	s.orders[cloned.OrderNumber] = cloned
}

func (s *MemoryStore) AddProduct(product models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = &product
}

func (s *MemoryStore) AddVariant(variant models.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[variant.ID] = &variant
}

func (s *MemoryStore) AddCoupon(coupon models.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[coupon.Code] = &coupon
}

func (s *MemoryStore) Product(id int64) (models.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[id]
	if !ok {
		return models.Product{}, false
	}
	return *product, true
}

func (s *MemoryStore) Variant(id int64) (models.ProductVariant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	variant, ok := s.variants[id]
	if !ok {
		return models.ProductVariant{}, false
	}
	return *variant, true
}

func (s *MemoryStore) Coupon(code string) (models.Coupon, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coupon, ok := s.coupons[code]
	if !ok {
		return models.Coupon{}, false
	}
	return *coupon, true
}

// TransactionCount returns the number of distinct provider transactions recorded.
func (s *MemoryStore) TransactionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transactions)
}

type memoryOrders struct{ s *MemoryStore }

func (o memoryOrders) GetByNumber(_ context.Context, orderNumber string) (*models.Order, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	order, ok := o.s.orders[orderNumber]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (o memoryOrders) ListPendingWithTransactions(_ context.Context, filter PendingFilter) ([]*models.Order, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()

	withTransactions := make(map[string]struct{})
	for _, txn := range o.s.transactions {
		withTransactions[txn.record.OrderNumber] = struct{}{}
	}

	var result []*models.Order
	for number, order := range o.s.orders {
		if order.PaymentStatus != models.PaymentPending {
			continue
		}
		if _, ok := withTransactions[number]; !ok {
			continue
		}
		if filter.OrderNumber != "" {
			if number != filter.OrderNumber {
				continue
			}
		} else if !filter.Since.IsZero() && order.CreatedAt.Before(filter.Since) {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].OrderNumber < result[j].OrderNumber
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (o memoryOrders) MarkPaymentFailed(_ context.Context, orderNumber string) (bool, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	order, ok := o.s.orders[orderNumber]
	if !ok {
		return false, ErrOrderNotFound
	}
	if order.PaymentStatus == models.PaymentPaid || order.PaymentStatus == models.PaymentFailed {
		return false, nil
	}
	order.PaymentStatus = models.PaymentFailed
	order.UpdatedAt = o.s.now()
	return true, nil
}

func (o memoryOrders) FlagForReview(_ context.Context, orderNumber, reason string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	order, ok := o.s.orders[orderNumber]
	if !ok {
		return ErrOrderNotFound
	}
	order.ReviewReason = reason
	order.ReviewFlaggedAt = o.s.now()
	order.UpdatedAt = order.ReviewFlaggedAt
	return nil
}

func (o memoryOrders) WithOrderLock(ctx context.Context, orderNumber string, fn func(ctx context.Context, tx OrderTx) error) error {
	if fn == nil {
		return fmt.Errorf("critical section is required")
	}
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	order, ok := o.s.orders[orderNumber]
	if !ok {
		return ErrOrderNotFound
	}

	tx := &memoryOrderTx{s: o.s, order: order, snapshot: order.Clone()}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memoryOrderTx mutates the store in place and keeps an undo log so a failing
// critical section leaves no trace.
type memoryOrderTx struct {
	s        *MemoryStore
	order    *models.Order
	snapshot *models.Order
	undo     []func()
}

func (t *memoryOrderTx) Order() *models.Order {
	return t.snapshot.Clone()
}

func (t *memoryOrderTx) MarkPaid(_ context.Context) error {
	if t.order.PaymentStatus == models.PaymentPaid {
		return fmt.Errorf("%w: already paid", ErrInvalidStatusTransition)
	}
	previous := *t.order
	t.undo = append(t.undo, func() { *t.order = previous })

	now := t.s.now()
	t.order.PaymentStatus = models.PaymentPaid
	t.order.Status = models.StatusProcessing
	t.order.PaidAt = now
	t.order.UpdatedAt = now
	t.order.ReviewReason = ""
	t.order.ReviewFlaggedAt = time.Time{}
	return nil
}

func (t *memoryOrderTx) DecrementStock(_ context.Context, item models.OrderItem) (models.StockLevel, error) {
	level := models.StockLevel{
		ProductID: item.ProductID,
		VariantID: item.VariantID,
		Name:      item.ProductName,
		Requested: item.Quantity,
	}

	product, productOK := t.s.products[item.ProductID]
	if productOK && product.LowStockThreshold != nil {
		level.Threshold = *product.LowStockThreshold
		level.ThresholdSet = true
	}

	if item.VariantID != 0 {
		variant, ok := t.s.variants[item.VariantID]
		if !ok {
			return level, nil
		}
		previous := variant.StockQuantity
		t.undo = append(t.undo, func() { variant.StockQuantity = previous })
		variant.StockQuantity, level.Clamped = clampedDecrement(variant.StockQuantity, item.Quantity)
		level.Tracked = true
		level.Remaining = variant.StockQuantity
		level.SKU = variant.SKU
		return level, nil
	}

	if !productOK || !product.ManageStock {
		return level, nil
	}
	previous := product.StockQuantity
	t.undo = append(t.undo, func() { product.StockQuantity = previous })
	product.StockQuantity, level.Clamped = clampedDecrement(product.StockQuantity, item.Quantity)
	level.Tracked = true
	level.Remaining = product.StockQuantity
	level.SKU = product.SKU
	return level, nil
}

func (t *memoryOrderTx) IncrementCouponUsage(_ context.Context, code string) (bool, error) {
	coupon, ok := t.s.coupons[code]
	if !ok {
		return false, nil
	}
	previous := coupon.UsageCount
	t.undo = append(t.undo, func() { coupon.UsageCount = previous })
	coupon.UsageCount++
	return true, nil
}

func (t *memoryOrderTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func clampedDecrement(stock, quantity int) (int, bool) {
	if stock >= quantity {
		return stock - quantity, false
	}
	return 0, true
}

type memoryTransactions struct{ s *MemoryStore }

func (m memoryTransactions) Upsert(_ context.Context, txn *models.Transaction) (*models.Transaction, bool, error) {
	if txn == nil || txn.ProviderTransactionID == "" {
		return nil, false, fmt.Errorf("provider transaction id is required")
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.orders[txn.OrderNumber]; !ok {
		return nil, false, ErrOrderNotFound
	}

	now := m.s.now()
	existing, ok := m.s.transactions[txn.ProviderTransactionID]
	if ok {
		if existing.record.SameObservation(txn) {
			return existing.record.Clone(), false, nil
		}
		updated := txn.Clone()
		updated.CreatedAt = existing.record.CreatedAt
		updated.UpdatedAt = now
		existing.record = updated
		return updated.Clone(), true, nil
	}

	m.s.seq++
	record := txn.Clone()
	record.CreatedAt = now
	record.UpdatedAt = now
	m.s.transactions[txn.ProviderTransactionID] = &memoryTransaction{record: record, seq: m.s.seq}
	return record.Clone(), true, nil
}

func (m memoryTransactions) GetByProviderID(_ context.Context, providerTransactionID string) (*models.Transaction, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	txn, ok := m.s.transactions[providerTransactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return txn.record.Clone(), nil
}

func (m memoryTransactions) LatestForOrder(_ context.Context, orderNumber string) (*models.Transaction, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var latest *memoryTransaction
	for _, txn := range m.s.transactions {
		if txn.record.OrderNumber != orderNumber {
			continue
		}
		if latest == nil || txn.seq > latest.seq {
			latest = txn
		}
	}
	if latest == nil {
		return nil, ErrTransactionNotFound
	}
	return latest.record.Clone(), nil
}
