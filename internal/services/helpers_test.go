package services

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/store"
)

const testCurrency = "COP"

type recordingNotifier struct {
	mu       sync.Mutex
	approved []string
	failed   []string
	lowStock [][]models.StockLevel
}

func (n *recordingNotifier) PaymentApproved(_ context.Context, order *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approved = append(n.approved, order.OrderNumber)
	return nil
}

func (n *recordingNotifier) PaymentFailed(_ context.Context, order *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, order.OrderNumber)
	return nil
}

func (n *recordingNotifier) LowStock(_ context.Context, items []models.StockLevel) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lowStock = append(n.lowStock, items)
	return nil
}

func (n *recordingNotifier) counts() (approved, failed, lowStock int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.approved), len(n.failed), len(n.lowStock)
}

type testOrder struct {
	number   string
	total    string
	quantity int
	stock    int
	coupon   string
	status   models.PaymentStatus
}

// seedOrder adds an order with one line item for product 1, which tracks stock.
func seedOrder(t *testing.T, st *store.MemoryStore, o testOrder) {
	t.Helper()
	if o.quantity == 0 {
		o.quantity = 1
	}
	st.AddProduct(models.Product{ID: 1, Name: "Mug", SKU: "MUG-1", ManageStock: true, StockQuantity: o.stock})
	if o.coupon != "" {
		st.AddCoupon(models.Coupon{Code: o.coupon})
	}
	total := decimal.RequireFromString(o.total)
	st.AddOrder(&models.Order{
		OrderNumber:   o.number,
		PaymentStatus: o.status,
		BillingEmail:  "buyer@example.com",
		Subtotal:      total,
		Total:         total,
		CouponCode:    o.coupon,
		Items: []models.OrderItem{{
			ProductID:   1,
			ProductName: "Mug",
			Quantity:    o.quantity,
			UnitPrice:   total.Div(decimal.NewFromInt(int64(o.quantity))),
			LineTotal:   total,
		}},
	})
}

func approvedTxn(id, reference string, amount int64) *models.Transaction {
	return &models.Transaction{
		ProviderTransactionID: id,
		Reference:             reference,
		Status:                models.TransactionApproved,
		AmountInCents:         amount,
		Currency:              testCurrency,
		PaymentMethodType:     "CARD",
	}
}

func withStatus(txn *models.Transaction, status models.TransactionStatus) *models.Transaction {
	cloned := txn.Clone()
	cloned.Status = status
	return cloned
}

func newTestPaymentService(t *testing.T, st *store.MemoryStore, notifier *recordingNotifier) *PaymentService {
	t.Helper()
	engine, err := NewFulfillmentEngine(st.Orders(), notifier, DefaultLowStockThreshold, nil, nil)
	if err != nil {
		t.Fatalf("NewFulfillmentEngine() error = %v", err)
	}
	svc, err := NewPaymentService(st, ConsistencyValidator{Currency: testCurrency}, engine, notifier, nil, nil)
	if err != nil {
		t.Fatalf("NewPaymentService() error = %v", err)
	}
	return svc
}

func mustOrder(t *testing.T, st *store.MemoryStore, number string) *models.Order {
	t.Helper()
	order, err := st.Orders().GetByNumber(context.Background(), number)
	if err != nil {
		t.Fatalf("GetByNumber(%s) error = %v", number, err)
	}
	return order
}

func productStock(t *testing.T, st *store.MemoryStore) int {
	t.Helper()
	product, ok := st.Product(1)
	if !ok {
		t.Fatal("product 1 not seeded")
	}
	return product.StockQuantity
}
