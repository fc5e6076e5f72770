package wompi

import (
	"encoding/json"

	"github.com/gitshopapp/checkout/internal/models"
)

// Transaction is the provider's view of one payment attempt, shared by pushed events and the fetch API.
type Transaction struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	StatusMessage     string `json:"status_message,omitempty"`
	Reference         string `json:"reference"`
	AmountInCents     int64  `json:"amount_in_cents"`
	Currency          string `json:"currency"`
	PaymentMethodType string `json:"payment_method_type"`
	CustomerEmail     string `json:"customer_email,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	FinalizedAt       string `json:"finalized_at,omitempty"`

	// Raw keeps the payload as received for audit.
	Raw json.RawMessage `json:"-"`
}

func decodeTransaction(raw json.RawMessage) (*Transaction, error) {
	var txn Transaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		return nil, err
	}
	txn.Raw = append(json.RawMessage(nil), raw...)
	return &txn, nil
}

// Record converts the provider payload into the stored transaction shape.
// The reference doubles as the local order number.
func (t *Transaction) Record() *models.Transaction {
	if t == nil {
		return nil
	}
	return &models.Transaction{
		ProviderTransactionID: t.ID,
		OrderNumber:           t.Reference,
		Reference:             t.Reference,
		Status:                models.TransactionStatus(t.Status),
		AmountInCents:         t.AmountInCents,
		Currency:              t.Currency,
		PaymentMethodType:     t.PaymentMethodType,
		RawPayload:            append(json.RawMessage(nil), t.Raw...),
	}
}
