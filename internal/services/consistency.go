package services

import (
	"fmt"
	"strings"

	"github.com/gitshopapp/checkout/internal/models"
)

// ConsistencyValidator checks a provider transaction against the order it claims to pay.
type ConsistencyValidator struct {
	Currency string
}

// InconsistencyError lists every check a transaction failed.
type InconsistencyError struct {
	OrderNumber   string
	TransactionID string
	Mismatches    []string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("transaction %s inconsistent with order %s: %s",
		e.TransactionID, e.OrderNumber, strings.Join(e.Mismatches, "; "))
}

func (e *InconsistencyError) Unwrap() error {
	return ErrInconsistentTransaction
}

func (v ConsistencyValidator) Check(order *models.Order, txn *models.Transaction) error {
	if order == nil || txn == nil {
		return fmt.Errorf("%w: order and transaction are required", ErrInconsistentTransaction)
	}

	var mismatches []string
	if txn.Reference != order.OrderNumber {
		mismatches = append(mismatches, fmt.Sprintf("reference expected %q got %q", order.OrderNumber, txn.Reference))
	}
	if txn.Currency != v.Currency {
		mismatches = append(mismatches, fmt.Sprintf("currency expected %q got %q", v.Currency, txn.Currency))
	}
	if expected := order.MinorUnits(); txn.AmountInCents != expected {
		mismatches = append(mismatches, fmt.Sprintf("amount expected %d got %d", expected, txn.AmountInCents))
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &InconsistencyError{
		OrderNumber:   order.OrderNumber,
		TransactionID: txn.ProviderTransactionID,
		Mismatches:    mismatches,
	}
}

func (v ConsistencyValidator) IsConsistent(order *models.Order, txn *models.Transaction) bool {
	return v.Check(order, txn) == nil
}
