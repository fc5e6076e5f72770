package models

import (
	"encoding/json"
	"time"
)

type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "PENDING"
	TransactionApproved TransactionStatus = "APPROVED"
	TransactionDeclined TransactionStatus = "DECLINED"
	TransactionVoided   TransactionStatus = "VOIDED"
	TransactionError    TransactionStatus = "ERROR"
)

// IsFailure reports whether the provider considers the attempt finished without payment.
func (s TransactionStatus) IsFailure() bool {
	switch s {
	case TransactionDeclined, TransactionVoided, TransactionError:
		return true
	default:
		return false
	}
}

func (s TransactionStatus) Known() bool {
	switch s {
	case TransactionPending, TransactionApproved, TransactionDeclined, TransactionVoided, TransactionError:
		return true
	default:
		return false
	}
}

// Transaction is one provider-reported payment attempt, keyed by the provider's transaction id.
type Transaction struct {
	ProviderTransactionID string            `json:"provider_transaction_id"`
	OrderNumber           string            `json:"order_number"`
	Reference             string            `json:"reference"`
	Status                TransactionStatus `json:"status"`
	AmountInCents         int64             `json:"amount_in_cents"`
	Currency              string            `json:"currency"`
	PaymentMethodType     string            `json:"payment_method_type"`
	RawPayload            json.RawMessage   `json:"raw_payload,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// SameObservation reports whether two records carry identical provider-observed fields.
// RawPayload is ignored: webhook events and the transactions API describe the same
// transaction with differently shaped JSON.
func (t *Transaction) SameObservation(other *Transaction) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.OrderNumber == other.OrderNumber &&
		t.Reference == other.Reference &&
		t.Status == other.Status &&
		t.AmountInCents == other.AmountInCents &&
		t.Currency == other.Currency &&
		t.PaymentMethodType == other.PaymentMethodType
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	cloned := *t
	if t.RawPayload != nil {
		cloned.RawPayload = append(json.RawMessage(nil), t.RawPayload...)
	}
	return &cloned
}
