package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/store"
)

const transactionColumns = `
	provider_transaction_id, order_number, reference, status, amount_in_cents,
	currency, payment_method_type, raw_payload, created_at, updated_at`

type TransactionStore struct {
	pool *pgxpool.Pool
}

func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Upsert writes the observation and reports whether the stored row changed.
// The conflict branch only fires when a provider-observed field differs.
func (s *TransactionStore) Upsert(ctx context.Context, txn *models.Transaction) (*models.Transaction, bool, error) {
	if txn == nil || txn.ProviderTransactionID == "" {
		return nil, false, errors.New("provider transaction id is required")
	}

	var payload []byte
	if len(txn.RawPayload) > 0 {
		payload = txn.RawPayload
	}

	query := `
		INSERT INTO payment_transactions (
			provider_transaction_id, order_number, reference, status, amount_in_cents,
			currency, payment_method_type, raw_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider_transaction_id) DO UPDATE SET
			order_number = EXCLUDED.order_number,
			reference = EXCLUDED.reference,
			status = EXCLUDED.status,
			amount_in_cents = EXCLUDED.amount_in_cents,
			currency = EXCLUDED.currency,
			payment_method_type = EXCLUDED.payment_method_type,
			raw_payload = EXCLUDED.raw_payload,
			updated_at = NOW()
		WHERE (
			payment_transactions.order_number, payment_transactions.reference, payment_transactions.status,
			payment_transactions.amount_in_cents, payment_transactions.currency,
			payment_transactions.payment_method_type
		) IS DISTINCT FROM (
			EXCLUDED.order_number, EXCLUDED.reference, EXCLUDED.status,
			EXCLUDED.amount_in_cents, EXCLUDED.currency,
			EXCLUDED.payment_method_type
		)
		RETURNING` + transactionColumns

	saved, err := scanTransaction(s.pool.QueryRow(ctx, query,
		txn.ProviderTransactionID,
		txn.OrderNumber,
		txn.Reference,
		string(txn.Status),
		txn.AmountInCents,
		txn.Currency,
		txn.PaymentMethodType,
		payload,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := s.GetByProviderID(ctx, txn.ProviderTransactionID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if isForeignKeyViolation(err) {
		return nil, false, store.ErrOrderNotFound
	}
	if err != nil {
		return nil, false, err
	}
	return saved, true, nil
}

func (s *TransactionStore) GetByProviderID(ctx context.Context, providerTransactionID string) (*models.Transaction, error) {
	txn, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT`+transactionColumns+` FROM payment_transactions WHERE provider_transaction_id = $1`,
		providerTransactionID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrTransactionNotFound
	}
	return txn, err
}

func (s *TransactionStore) LatestForOrder(ctx context.Context, orderNumber string) (*models.Transaction, error) {
	txn, err := scanTransaction(s.pool.QueryRow(ctx, `SELECT`+transactionColumns+`
		FROM payment_transactions
		WHERE order_number = $1
		ORDER BY created_at DESC, updated_at DESC
		LIMIT 1`,
		orderNumber,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrTransactionNotFound
	}
	return txn, err
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		txn     models.Transaction
		status  string
		payload []byte
	)
	if err := row.Scan(
		&txn.ProviderTransactionID,
		&txn.OrderNumber,
		&txn.Reference,
		&status,
		&txn.AmountInCents,
		&txn.Currency,
		&txn.PaymentMethodType,
		&payload,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	); err != nil {
		return nil, err
	}
	txn.Status = models.TransactionStatus(status)
	if len(payload) > 0 {
		txn.RawPayload = payload
	}
	return &txn, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

var _ store.Transactions = (*TransactionStore)(nil)
