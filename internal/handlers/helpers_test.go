package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/checkout/internal/cache"
	"github.com/gitshopapp/checkout/internal/config"
	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/services"
	"github.com/gitshopapp/checkout/internal/session"
	"github.com/gitshopapp/checkout/internal/store"
	"github.com/gitshopapp/checkout/internal/wompi"
)

const (
	testEventsSecret = "test_events_secret"
	testOrderNumber  = "ORD-20260224-ABC123"
	testAmount       = int64(4490000)
	testClaimSecret  = "claim-secret-for-tests-0123456789"
)

type fakeFetcher struct {
	mu    sync.Mutex
	txns  map[string]*wompi.Transaction
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) GetTransaction(_ context.Context, id string) (*wompi.Transaction, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	txn, ok := f.txns[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	cloned := *txn
	return &cloned, nil
}

type approvals struct {
	mu     sync.Mutex
	orders []string
}

func (a *approvals) PaymentApproved(_ context.Context, order *models.Order) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders = append(a.orders, order.OrderNumber)
	return nil
}

func (a *approvals) PaymentFailed(context.Context, *models.Order) error  { return nil }
func (a *approvals) LowStock(context.Context, []models.StockLevel) error { return nil }

func (a *approvals) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.orders)
}

type testEnv struct {
	handlers *Handlers
	store    *store.MemoryStore
	fetcher  *fakeFetcher
	sessions *session.Manager
	notifier *approvals
	config   *config.Config
}

type envOption func(*config.Config)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := &config.Config{
		AppEnv:               "development",
		BaseURL:              "http://localhost:8080",
		StoreCurrency:        "COP",
		WompiPublicKey:       "pub_test_123",
		WompiIntegritySecret: "test_integrity_123",
		WompiEventsSecret:    testEventsSecret,
		WompiTimeout:         time.Second,
		AdminTokenSecret:     "admin-secret-for-tests-0123456789",
		ClaimTokenSecret:     testClaimSecret,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	st := store.NewMemoryStore()
	notifier := &approvals{}
	engine, err := services.NewFulfillmentEngine(st.Orders(), notifier, services.DefaultLowStockThreshold, nil, nil)
	if err != nil {
		t.Fatalf("NewFulfillmentEngine() error = %v", err)
	}
	payments, err := services.NewPaymentService(st, services.ConsistencyValidator{Currency: cfg.StoreCurrency}, engine, notifier, nil, nil)
	if err != nil {
		t.Fatalf("NewPaymentService() error = %v", err)
	}
	fetcher := &fakeFetcher{txns: map[string]*wompi.Transaction{}}
	reconciler, err := services.NewReconcileService(st, payments, fetcher, 2, nil, nil)
	if err != nil {
		t.Fatalf("NewReconcileService() error = %v", err)
	}
	verifier, err := wompi.NewVerifier(cfg.WompiEventsSecret, false)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	cacheProvider, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("NewMemoryProvider() error = %v", err)
	}
	sessions := session.NewManager(session.NewMemoryStore(), false)

	h, err := New(Dependencies{
		Config:         cfg,
		Store:          st,
		CacheProvider:  cacheProvider,
		SessionManager: sessions,
		Verifier:       verifier,
		Fetcher:        fetcher,
		Payments:       payments,
		Reconciler:     reconciler,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{handlers: h, store: st, fetcher: fetcher, sessions: sessions, notifier: notifier, config: cfg}
}

// seedGuestOrder adds an unpaid guest order for two mugs totalling 44,900.00.
func (e *testEnv) seedGuestOrder(number string, stock int) {
	e.store.AddProduct(models.Product{ID: 1, Name: "Mug", SKU: "MUG-1", ManageStock: true, StockQuantity: stock})
	total := decimal.RequireFromString("44900.00")
	e.store.AddOrder(&models.Order{
		OrderNumber:   number,
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentPending,
		BillingEmail:  "buyer@example.com",
		Subtotal:      total,
		Total:         total,
		Items: []models.OrderItem{{
			ProductID:   1,
			ProductName: "Mug",
			Quantity:    2,
			UnitPrice:   total.Div(decimal.NewFromInt(2)),
			LineTotal:   total,
		}},
	})
}

func (e *testEnv) order(t *testing.T, number string) *models.Order {
	t.Helper()
	order, err := e.store.Orders().GetByNumber(context.Background(), number)
	if err != nil {
		t.Fatalf("GetByNumber(%s) error = %v", number, err)
	}
	return order
}

func (e *testEnv) stock(t *testing.T) int {
	t.Helper()
	product, ok := e.store.Product(1)
	if !ok {
		t.Fatal("product 1 not seeded")
	}
	return product.StockQuantity
}

// ownerCookie returns a session cookie for a guest session that placed the given orders.
func (e *testEnv) ownerCookie(t *testing.T, orders ...string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if _, err := e.sessions.CreateSession(context.Background(), rec, &session.Data{GuestOrders: orders}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie")
	}
	return cookies[0]
}

// signedEvent returns a transaction.updated body signed with secret.
func signedEvent(t *testing.T, secret, id, status string, amount int64) []byte {
	t.Helper()
	unsigned := eventBody(id, status, amount, "")
	event, err := wompi.ParseEvent(unsigned)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	checksum, err := wompi.Checksum(event, secret)
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	return eventBody(id, status, amount, checksum)
}

func eventBody(id, status string, amount int64, checksum string) []byte {
	return fmt.Appendf(nil, `{
		"event": "transaction.updated",
		"data": {
			"transaction": {
				"id": %q,
				"amount_in_cents": %d,
				"reference": %q,
				"currency": "COP",
				"payment_method_type": "NEQUI",
				"status": %q
			}
		},
		"environment": "test",
		"signature": {
			"properties": ["transaction.id", "transaction.status", "transaction.amount_in_cents"],
			"checksum": %q
		},
		"timestamp": 1771934400,
		"sent_at": "2026-02-24T12:00:00.000Z"
	}`, id, amount, testOrderNumber, status, checksum)
}
