package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/store"
	"github.com/gitshopapp/checkout/internal/wompi"
)

type fakeFetcher struct {
	transactions map[string]*wompi.Transaction
	calls        atomic.Int32
}

func (f *fakeFetcher) GetTransaction(_ context.Context, id string) (*wompi.Transaction, error) {
	f.calls.Add(1)
	txn, ok := f.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", wompi.ErrTransactionNotFound, id)
	}
	return txn, nil
}

type reconcileFixture struct {
	store    *store.MemoryStore
	notifier *recordingNotifier
	fetcher  *fakeFetcher
	service  *ReconcileService
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	st := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	fetcher := &fakeFetcher{transactions: map[string]*wompi.Transaction{}}
	svc, err := NewReconcileService(st, newTestPaymentService(t, st, notifier), fetcher, 2, nil, nil)
	if err != nil {
		t.Fatalf("NewReconcileService() error = %v", err)
	}
	return &reconcileFixture{store: st, notifier: notifier, fetcher: fetcher, service: svc}
}

// pendingOrder seeds an order that has one recorded PENDING attempt and sets what the provider reports now.
func (f *reconcileFixture) pendingOrder(t *testing.T, number, txnID, providerStatus string) {
	t.Helper()
	seedOrder(t, f.store, testOrder{number: number, total: "10000", stock: 5})
	pending := withStatus(approvedTxn(txnID, number, 1000000), models.TransactionPending)
	pending.OrderNumber = number
	if _, _, err := f.store.Transactions().Upsert(context.Background(), pending); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if providerStatus == "" {
		return
	}
	f.fetcher.transactions[txnID] = &wompi.Transaction{
		ID:                txnID,
		Status:            providerStatus,
		Reference:         number,
		AmountInCents:     1000000,
		Currency:          testCurrency,
		PaymentMethodType: "CARD",
	}
}

func itemsByOrder(report *ReconcileReport) map[string]ReconcileItem {
	items := make(map[string]ReconcileItem, len(report.Items))
	for _, item := range report.Items {
		items[item.OrderNumber] = item
	}
	return items
}

func TestReconcileService_Run(t *testing.T) {
	t.Parallel()

	f := newReconcileFixture(t)
	f.pendingOrder(t, "ORD-APPROVED", "t-approved", "APPROVED")
	f.pendingOrder(t, "ORD-DECLINED", "t-declined", "DECLINED")
	f.pendingOrder(t, "ORD-PENDING", "t-pending", "PENDING")
	f.pendingOrder(t, "ORD-MISSING", "t-missing", "")

	report, err := f.service.Run(context.Background(), ReconcileOptions{Window: time.Hour})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	items := itemsByOrder(report)
	want := map[string]string{
		"ORD-APPROVED": string(ActionFulfill),
		"ORD-DECLINED": string(ActionMarkFailed),
		"ORD-PENDING":  ReconcileUnchanged,
		"ORD-MISSING":  ReconcileError,
	}
	for number, action := range want {
		if got := items[number].Action; got != action {
			t.Errorf("%s action = %q, want %q", number, got, action)
		}
	}
	if !errors.Is(items["ORD-MISSING"].Err, ErrProviderFetchFailed) {
		t.Fatalf("missing item error = %v, want ErrProviderFetchFailed", items["ORD-MISSING"].Err)
	}
	if report.Updated != 2 || report.Skipped != 1 || report.Errors != 1 {
		t.Fatalf("totals updated=%d skipped=%d errors=%d, want 2/1/1", report.Updated, report.Skipped, report.Errors)
	}

	if got := mustOrder(t, f.store, "ORD-APPROVED").PaymentStatus; got != models.PaymentPaid {
		t.Fatalf("approved order payment status = %s, want paid", got)
	}
	if got := mustOrder(t, f.store, "ORD-DECLINED").PaymentStatus; got != models.PaymentFailed {
		t.Fatalf("declined order payment status = %s, want failed", got)
	}
	if got := mustOrder(t, f.store, "ORD-MISSING").PaymentStatus; got != models.PaymentPending {
		t.Fatalf("order with failed fetch payment status = %s, want pending", got)
	}
}

func TestReconcileService_Run_DryRunDoesNotWrite(t *testing.T) {
	t.Parallel()

	f := newReconcileFixture(t)
	f.pendingOrder(t, "ORD-1", "t-1", "APPROVED")

	report, err := f.service.Run(context.Background(), ReconcileOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Items) != 1 || report.Items[0].Action != "would fulfill" {
		t.Fatalf("items = %+v, want one 'would fulfill'", report.Items)
	}
	if report.Updated != 1 {
		t.Fatalf("updated = %d, want 1", report.Updated)
	}
	if got := mustOrder(t, f.store, "ORD-1").PaymentStatus; got != models.PaymentPending {
		t.Fatalf("payment status = %s, want pending", got)
	}
	if got := productStock(t, f.store); got != 5 {
		t.Fatalf("stock = %d, want 5", got)
	}
	if approved, _, _ := f.notifier.counts(); approved != 0 {
		t.Fatalf("approval notifications = %d, want 0", approved)
	}
}

func TestReconcileService_Run_SingleOrderIgnoresWindow(t *testing.T) {
	t.Parallel()

	f := newReconcileFixture(t)
	f.pendingOrder(t, "ORD-1", "t-1", "APPROVED")
	f.pendingOrder(t, "ORD-2", "t-2", "APPROVED")

	report, err := f.service.Run(context.Background(), ReconcileOptions{OrderNumber: "ORD-2", Window: time.Nanosecond})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Items) != 1 || report.Items[0].OrderNumber != "ORD-2" {
		t.Fatalf("items = %+v, want only ORD-2", report.Items)
	}
	if got := f.fetcher.calls.Load(); got != 1 {
		t.Fatalf("provider fetches = %d, want 1", got)
	}
	if got := mustOrder(t, f.store, "ORD-1").PaymentStatus; got != models.PaymentPending {
		t.Fatalf("ORD-1 payment status = %s, want pending", got)
	}
}

func TestReconcileService_Run_SkipsOrdersWithoutTransactions(t *testing.T) {
	t.Parallel()

	f := newReconcileFixture(t)
	seedOrder(t, f.store, testOrder{number: "ORD-NEW", total: "10000", stock: 5})

	report, err := f.service.Run(context.Background(), ReconcileOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Items) != 0 {
		t.Fatalf("items = %+v, want none", report.Items)
	}
	if got := f.fetcher.calls.Load(); got != 0 {
		t.Fatalf("provider fetches = %d, want 0", got)
	}
}

func TestReconcileService_reconcileOrder_NoTransaction(t *testing.T) {
	t.Parallel()

	f := newReconcileFixture(t)
	seedOrder(t, f.store, testOrder{number: "ORD-NEW", total: "10000", stock: 5})

	item := f.service.reconcileOrder(context.Background(), "ORD-NEW", false)
	if item.Action != ReconcileNoTransaction || item.Err != nil {
		t.Fatalf("item = %+v, want no_transaction without error", item)
	}
}
