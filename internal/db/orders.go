package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/store"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderColumns = `
	id, order_number, user_id, status, payment_status, billing_email,
	subtotal::text, discount_total::text, shipping_total::text, tax_total::text, total::text,
	coupon_code, review_reason, review_flagged_at, paid_at, created_at, updated_at`

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

func (s *OrderStore) GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return getOrder(ctx, s.pool, `SELECT`+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber)
}

func (s *OrderStore) ListPendingWithTransactions(ctx context.Context, filter store.PendingFilter) ([]*models.Order, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT` + orderColumns + `
		FROM orders o
		WHERE o.payment_status = 'pending'
		  AND EXISTS (SELECT 1 FROM payment_transactions t WHERE t.order_number = o.order_number)`)

	switch {
	case filter.OrderNumber != "":
		args = append(args, filter.OrderNumber)
		fmt.Fprintf(&query, " AND o.order_number = $%d", len(args))
	case !filter.Since.IsZero():
		args = append(args, filter.Since)
		fmt.Fprintf(&query, " AND o.created_at >= $%d", len(args))
	}
	query.WriteString(" ORDER BY o.created_at ASC, o.order_number ASC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&query, " LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, order := range orders {
		if err := loadItems(ctx, s.pool, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *OrderStore) MarkPaymentFailed(ctx context.Context, orderNumber string) (bool, error) {
	query := `
		UPDATE orders
		SET payment_status = $1, updated_at = NOW()
		WHERE order_number = $2 AND payment_status NOT IN ('paid', 'failed')
	`
	cmdTag, err := s.pool.Exec(ctx, query, models.PaymentFailed, orderNumber)
	if err != nil {
		return false, err
	}
	if cmdTag.RowsAffected() == 0 {
		if err := s.ensureExists(ctx, orderNumber); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *OrderStore) FlagForReview(ctx context.Context, orderNumber, reason string) error {
	query := `
		UPDATE orders
		SET review_reason = $1, review_flagged_at = NOW(), updated_at = NOW()
		WHERE order_number = $2
	`
	cmdTag, err := s.pool.Exec(ctx, query, reason, orderNumber)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return store.ErrOrderNotFound
	}
	return nil
}

// WithOrderLock holds a row lock on the order for the life of one database transaction.
func (s *OrderStore) WithOrderLock(ctx context.Context, orderNumber string, fn func(ctx context.Context, tx store.OrderTx) error) (err error) {
	if fn == nil {
		return fmt.Errorf("critical section is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	order, err := getOrder(ctx, tx, `SELECT`+orderColumns+` FROM orders WHERE order_number = $1 FOR UPDATE`, orderNumber)
	if err != nil {
		return err
	}

	if err = fn(ctx, &orderTx{tx: tx, order: order}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *OrderStore) ensureExists(ctx context.Context, orderNumber string) error {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM orders WHERE order_number = $1`, orderNumber).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrOrderNotFound
	}
	return err
}

type orderTx struct {
	tx    pgx.Tx
	order *models.Order
}

func (t *orderTx) Order() *models.Order {
	return t.order.Clone()
}

func (t *orderTx) MarkPaid(ctx context.Context) error {
	query := `
		UPDATE orders
		SET payment_status = $1, status = $2, paid_at = NOW(), updated_at = NOW(),
		    review_reason = NULL, review_flagged_at = NULL
		WHERE id = $3 AND payment_status <> 'paid'
	`
	cmdTag, err := t.tx.Exec(ctx, query, models.PaymentPaid, models.StatusProcessing, t.order.ID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected unpaid order", store.ErrInvalidStatusTransition)
	}
	return nil
}

func (t *orderTx) DecrementStock(ctx context.Context, item models.OrderItem) (models.StockLevel, error) {
	level := models.StockLevel{
		ProductID: item.ProductID,
		VariantID: item.VariantID,
		Name:      item.ProductName,
		Requested: item.Quantity,
	}

	var (
		manageStock bool
		productSKU  string
		threshold   pgtype.Int4
	)
	err := t.tx.QueryRow(ctx,
		`SELECT manage_stock, sku, low_stock_threshold FROM products WHERE id = $1`,
		item.ProductID,
	).Scan(&manageStock, &productSKU, &threshold)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return level, nil
	case err != nil:
		return level, err
	}
	if threshold.Valid {
		level.Threshold = int(threshold.Int32)
		level.ThresholdSet = true
	}

	table, id := "products", item.ProductID
	if item.VariantID != 0 {
		table, id = "product_variants", item.VariantID
	} else if !manageStock {
		return level, nil
	}

	conditional := `UPDATE ` + table + `
		SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity >= $2
		RETURNING stock_quantity, sku`
	err = t.tx.QueryRow(ctx, conditional, id, item.Quantity).Scan(&level.Remaining, &level.SKU)
	if errors.Is(err, pgx.ErrNoRows) {
		clamp := `UPDATE ` + table + `
			SET stock_quantity = 0, updated_at = NOW()
			WHERE id = $1
			RETURNING stock_quantity, sku`
		err = t.tx.QueryRow(ctx, clamp, id).Scan(&level.Remaining, &level.SKU)
		if errors.Is(err, pgx.ErrNoRows) {
			return level, nil
		}
		level.Clamped = true
	}
	if err != nil {
		return level, err
	}
	level.Tracked = true
	return level, nil
}

func (t *orderTx) IncrementCouponUsage(ctx context.Context, code string) (bool, error) {
	cmdTag, err := t.tx.Exec(ctx, `UPDATE coupons SET usage_count = usage_count + 1 WHERE code = $1`, code)
	if err != nil {
		return false, err
	}
	return cmdTag.RowsAffected() > 0, nil
}

type orderRow struct {
	ID              int64
	OrderNumber     string
	UserID          pgtype.Int8
	Status          string
	PaymentStatus   string
	BillingEmail    string
	Subtotal        string
	DiscountTotal   string
	ShippingTotal   string
	TaxTotal        string
	Total           string
	CouponCode      pgtype.Text
	ReviewReason    pgtype.Text
	ReviewFlaggedAt pgtype.Timestamptz
	PaidAt          pgtype.Timestamptz
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

func getOrder(ctx context.Context, q querier, query string, args ...any) (*models.Order, error) {
	order, err := scanOrder(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadItems(ctx, q, order); err != nil {
		return nil, err
	}
	return order, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var r orderRow
	if err := row.Scan(
		&r.ID, &r.OrderNumber, &r.UserID, &r.Status, &r.PaymentStatus, &r.BillingEmail,
		&r.Subtotal, &r.DiscountTotal, &r.ShippingTotal, &r.TaxTotal, &r.Total,
		&r.CouponCode, &r.ReviewReason, &r.ReviewFlaggedAt, &r.PaidAt, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return rowToOrder(r)
}

func rowToOrder(row orderRow) (*models.Order, error) {
	order := &models.Order{
		ID:            row.ID,
		OrderNumber:   row.OrderNumber,
		Status:        models.OrderStatus(row.Status),
		PaymentStatus: models.PaymentStatus(row.PaymentStatus),
		BillingEmail:  row.BillingEmail,
		CreatedAt:     row.CreatedAt.Time,
		UpdatedAt:     row.UpdatedAt.Time,
	}

	amounts := []struct {
		raw    string
		target *decimal.Decimal
	}{
		{row.Subtotal, &order.Subtotal},
		{row.DiscountTotal, &order.DiscountTotal},
		{row.ShippingTotal, &order.ShippingTotal},
		{row.TaxTotal, &order.TaxTotal},
		{row.Total, &order.Total},
	}
	for _, amount := range amounts {
		value, err := decimal.NewFromString(amount.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q on order %s: %w", amount.raw, row.OrderNumber, err)
		}
		*amount.target = value
	}

	if row.UserID.Valid {
		order.UserID = row.UserID.Int64
	}
	if row.CouponCode.Valid {
		order.CouponCode = row.CouponCode.String
	}
	if row.ReviewReason.Valid {
		order.ReviewReason = row.ReviewReason.String
	}
	if row.ReviewFlaggedAt.Valid {
		order.ReviewFlaggedAt = row.ReviewFlaggedAt.Time
	}
	if row.PaidAt.Valid {
		order.PaidAt = row.PaidAt.Time
	}
	return order, nil
}

func loadItems(ctx context.Context, q querier, order *models.Order) error {
	rows, err := q.Query(ctx, `
		SELECT id, product_id, variant_id, product_name, quantity, unit_price::text, line_total::text
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	order.Items = order.Items[:0]
	for rows.Next() {
		var (
			item      models.OrderItem
			variantID pgtype.Int8
			unitPrice string
			lineTotal string
		)
		if err := rows.Scan(&item.ID, &item.ProductID, &variantID, &item.ProductName, &item.Quantity, &unitPrice, &lineTotal); err != nil {
			return err
		}
		if variantID.Valid {
			item.VariantID = variantID.Int64
		}
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return fmt.Errorf("invalid unit price on order %s: %w", order.OrderNumber, err)
		}
		if item.LineTotal, err = decimal.NewFromString(lineTotal); err != nil {
			return fmt.Errorf("invalid line total on order %s: %w", order.OrderNumber, err)
		}
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

var _ store.Orders = (*OrderStore)(nil)
