package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/checkout/internal/models"
)

func TestConsistencyValidator_Check(t *testing.T) {
	t.Parallel()

	order := &models.Order{OrderNumber: "ORD-1", Total: decimal.RequireFromString("57900")}
	validator := ConsistencyValidator{Currency: "COP"}

	tests := []struct {
		name       string
		txn        *models.Transaction
		mismatches []string
	}{
		{
			name: "matching transaction",
			txn:  &models.Transaction{ProviderTransactionID: "t1", Reference: "ORD-1", AmountInCents: 5790000, Currency: "COP"},
		},
		{
			name:       "amount differs",
			txn:        &models.Transaction{ProviderTransactionID: "t1", Reference: "ORD-1", AmountInCents: 4000000, Currency: "COP"},
			mismatches: []string{"amount expected 5790000 got 4000000"},
		},
		{
			name:       "currency differs",
			txn:        &models.Transaction{ProviderTransactionID: "t1", Reference: "ORD-1", AmountInCents: 5790000, Currency: "USD"},
			mismatches: []string{`currency expected "COP" got "USD"`},
		},
		{
			name: "every check fails",
			txn:  &models.Transaction{ProviderTransactionID: "t1", Reference: "ORD-2", AmountInCents: 1, Currency: "USD"},
			mismatches: []string{
				`reference expected "ORD-1" got "ORD-2"`,
				`currency expected "COP" got "USD"`,
				"amount expected 5790000 got 1",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := validator.Check(order, tc.txn)
			if len(tc.mismatches) == 0 {
				if err != nil {
					t.Fatalf("Check() error = %v, want nil", err)
				}
				if !validator.IsConsistent(order, tc.txn) {
					t.Fatal("IsConsistent() = false, want true")
				}
				return
			}
			if !errors.Is(err, ErrInconsistentTransaction) {
				t.Fatalf("Check() error = %v, want ErrInconsistentTransaction", err)
			}
			var inconsistency *InconsistencyError
			if !errors.As(err, &inconsistency) {
				t.Fatalf("Check() error type = %T, want *InconsistencyError", err)
			}
			if strings.Join(inconsistency.Mismatches, "|") != strings.Join(tc.mismatches, "|") {
				t.Fatalf("mismatches = %q, want %q", inconsistency.Mismatches, tc.mismatches)
			}
			if validator.IsConsistent(order, tc.txn) {
				t.Fatal("IsConsistent() = true, want false")
			}
		})
	}
}

func TestConsistencyValidator_RoundsTotalToMinorUnits(t *testing.T) {
	t.Parallel()

	order := &models.Order{OrderNumber: "ORD-1", Total: decimal.RequireFromString("18300.00")}
	txn := &models.Transaction{Reference: "ORD-1", AmountInCents: 1830000, Currency: "COP"}
	if err := (ConsistencyValidator{Currency: "COP"}).Check(order, txn); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
}
