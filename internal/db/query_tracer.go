package db

import (
	"context"
	"errors"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5"
)

type querySpanContextKey struct{}

// queryTracer opens a Sentry span per statement when the caller is already traced.
// Statements on the payment path are named so lock waits, stock updates and
// transaction upserts can be told apart without reading SQL.
type queryTracer struct{}

func newQueryTracer() *queryTracer {
	return &queryTracer{}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if sentry.SpanFromContext(ctx) == nil {
		return ctx
	}

	query := normalizeQuery(data.SQL)
	name := statementName(query)
	description := query
	if name != "" {
		description = name
	}

	span := sentry.StartSpan(
		ctx,
		"db.query",
		sentry.WithDescription(description),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	span.SetData("db.system", "postgresql")
	span.SetData("db.statement", query)
	if name != "" {
		span.SetData("db.statement.name", name)
	}
	if operation := queryOperation(query); operation != "" {
		span.SetData("db.operation", operation)
	}

	return context.WithValue(span.Context(), querySpanContextKey{}, span)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, _ := ctx.Value(querySpanContextKey{}).(*sentry.Span)
	if span == nil {
		return
	}

	switch {
	case data.Err == nil:
		span.Status = sentry.SpanStatusOK
	case errors.Is(data.Err, pgx.ErrNoRows):
		// Conditional stock updates report a shortfall this way.
		span.Status = sentry.SpanStatusOK
		span.SetData("db.no_rows", true)
	default:
		span.Status = sentry.SpanStatusInternalError
		span.SetData("db.error", data.Err.Error())
	}

	if rowsAffected := data.CommandTag.RowsAffected(); rowsAffected >= 0 {
		span.SetData("db.rows_affected", rowsAffected)
	}
	span.Finish()
}

// statementName labels the statements fulfillment and reconciliation depend on.
func statementName(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "from orders") && strings.HasSuffix(q, "for update"):
		return "order.lock"
	case strings.HasPrefix(q, "update orders") && strings.Contains(q, "paid_at"):
		return "order.mark_paid"
	case strings.HasPrefix(q, "update orders") && strings.Contains(q, "not in ('paid', 'failed')"):
		return "order.mark_failed"
	case strings.HasPrefix(q, "update orders") && strings.Contains(q, "review_flagged_at = now()"):
		return "order.flag_review"
	case (strings.HasPrefix(q, "update products") || strings.HasPrefix(q, "update product_variants")) && strings.Contains(q, "stock_quantity - "):
		return "stock.decrement"
	case (strings.HasPrefix(q, "update products") || strings.HasPrefix(q, "update product_variants")) && strings.Contains(q, "stock_quantity = 0"):
		return "stock.clamp"
	case strings.HasPrefix(q, "update coupons"):
		return "coupon.increment"
	case strings.HasPrefix(q, "insert into payment_transactions"):
		return "transaction.upsert"
	default:
		return ""
	}
}

func normalizeQuery(query string) string {
	normalized := strings.Join(strings.Fields(query), " ")
	if normalized == "" {
		return "sql.query"
	}

	const maxLen = 512
	if len(normalized) > maxLen {
		return normalized[:maxLen]
	}
	return normalized
}

func queryOperation(query string) string {
	parts := strings.Fields(query)
	if len(parts) == 0 {
		return ""
	}
	return strings.ToUpper(parts[0])
}
