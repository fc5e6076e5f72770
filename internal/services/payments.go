package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/metrics"
	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/notify"
	"github.com/gitshopapp/checkout/internal/observability"
	"github.com/gitshopapp/checkout/internal/store"
)

// Source names the entry point that observed a transaction.
type Source string

const (
	SourceWebhook   Source = "webhook"
	SourceReturn    Source = "return"
	SourceReconcile Source = "reconcile"
)

type Outcome struct {
	Source         Source
	OrderNumber    string
	TransactionID  string
	ProviderStatus models.TransactionStatus
	Action         Action
	// Recorded is true when the observation inserted or changed the transaction record.
	Recorded      bool
	Inconsistency error
	Order         *models.Order
	Fulfillment   *FulfillmentResult
}

// Consistent is false when the transaction failed the consistency check.
func (o *Outcome) Consistent() bool {
	return o.Inconsistency == nil
}

type PaymentService struct {
	store     store.Store
	validator ConsistencyValidator
	engine    *FulfillmentEngine
	notifier  notify.Notifier
	metrics   *metrics.Payments
	logger    *slog.Logger
}

func NewPaymentService(st store.Store, validator ConsistencyValidator, engine *FulfillmentEngine, notifier notify.Notifier, m *metrics.Payments, logger *slog.Logger) (*PaymentService, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("fulfillment engine is required")
	}
	if validator.Currency == "" {
		return nil, fmt.Errorf("store currency is required")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &PaymentService{
		store:     st,
		validator: validator,
		engine:    engine,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Apply records a provider observation and drives the order to the state it implies.
func (s *PaymentService) Apply(ctx context.Context, source Source, txn *models.Transaction) (*Outcome, error) {
	span := sentry.StartSpan(ctx, "service.payments.apply", sentry.WithOpName("service.payments"), sentry.WithDescription("Apply"), sentry.WithSpanOrigin(sentry.SpanOriginManual))
	defer span.Finish()
	ctx = span.Context()

	outcome, order, err := s.evaluate(ctx, source, txn)
	if err != nil {
		if outcome != nil {
			s.metrics.ObserveOutcome(string(source), string(outcome.Action))
		}
		switch {
		case errors.Is(err, ErrMalformedPayload):
			span.Status = sentry.SpanStatusInvalidArgument
		case errors.Is(err, store.ErrOrderNotFound):
			span.Status = sentry.SpanStatusNotFound
		default:
			span.Status = sentry.SpanStatusInternalError
		}
		return outcome, err
	}
	span.SetData("order_number", outcome.OrderNumber)

	// Fulfillment and notifications log with the same source and provider status.
	ctx, logger := logging.With(ctx, s.logger,
		"source", string(source),
		"provider_status", string(outcome.ProviderStatus),
	)
	logger = logger.With("order_number", outcome.OrderNumber, "transaction_id", outcome.TransactionID)
	ctx = observability.WithAttributes(ctx, attribute.String("payment.source", string(source)))

	record := txn.Clone()
	record.OrderNumber = order.OrderNumber
	_, changed, err := s.store.Transactions().Upsert(ctx, record)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return outcome, fmt.Errorf("failed to record transaction: %w", err)
	}
	outcome.Recorded = changed

	if err := s.execute(ctx, logger, outcome, order, record); err != nil {
		span.Status = sentry.SpanStatusInternalError
		return outcome, err
	}

	if outcome.Order == nil {
		outcome.Order = order
	}
	s.metrics.ObserveOutcome(string(source), string(outcome.Action))
	observability.Count(ctx, "payments.outcome", 1, attribute.String("action", string(outcome.Action)))
	span.Status = sentry.SpanStatusOK
	return outcome, nil
}

// Plan reports the action Apply would take without writing anything.
func (s *PaymentService) Plan(ctx context.Context, source Source, txn *models.Transaction) (*Outcome, error) {
	outcome, order, err := s.evaluate(ctx, source, txn)
	if err != nil {
		return outcome, err
	}
	outcome.Order = order
	return outcome, nil
}

func (s *PaymentService) evaluate(ctx context.Context, source Source, txn *models.Transaction) (*Outcome, *models.Order, error) {
	if txn == nil || txn.ProviderTransactionID == "" {
		return nil, nil, fmt.Errorf("%w: transaction id is required", ErrMalformedPayload)
	}
	if txn.Reference == "" {
		return nil, nil, fmt.Errorf("%w: transaction reference is required", ErrMalformedPayload)
	}

	outcome := &Outcome{
		Source:         source,
		OrderNumber:    txn.Reference,
		TransactionID:  txn.ProviderTransactionID,
		ProviderStatus: txn.Status,
	}

	order, err := s.store.Orders().GetByNumber(ctx, txn.Reference)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			outcome.Action = ActionOrderNotFound
			return outcome, nil, fmt.Errorf("order %s: %w", txn.Reference, err)
		}
		return nil, nil, fmt.Errorf("failed to load order %s: %w", txn.Reference, err)
	}

	outcome.Inconsistency = s.validator.Check(order, txn)
	outcome.Action = Decide(order, txn, outcome.Inconsistency == nil)
	return outcome, order, nil
}

func (s *PaymentService) execute(ctx context.Context, logger *slog.Logger, outcome *Outcome, order *models.Order, record *models.Transaction) error {
	switch outcome.Action {
	case ActionFulfill:
		result, err := s.engine.Fulfill(ctx, order.OrderNumber, record)
		if err != nil {
			return fmt.Errorf("failed to fulfill order: %w", err)
		}
		outcome.Fulfillment = result
		outcome.Order = result.Order
		if result.AlreadyFulfilled {
			outcome.Action = ActionAlreadyFulfilled
		}
	case ActionAlreadyFulfilled:
		logger.Info("approved transaction for an order that is already paid")
	case ActionFlagForReview:
		logger.Error("transaction inconsistent with order, flagged for review", "error", outcome.Inconsistency)
		if err := s.store.Orders().FlagForReview(ctx, order.OrderNumber, outcome.Inconsistency.Error()); err != nil {
			return fmt.Errorf("failed to flag order for review: %w", err)
		}
		flagged := order.Clone()
		flagged.ReviewReason = outcome.Inconsistency.Error()
		outcome.Order = flagged
	case ActionMarkFailed:
		changed, err := s.store.Orders().MarkPaymentFailed(ctx, order.OrderNumber)
		if err != nil {
			return fmt.Errorf("failed to mark payment failed: %w", err)
		}
		if !changed {
			outcome.Action = ActionIgnoreFailure
			refreshed, err := s.store.Orders().GetByNumber(ctx, order.OrderNumber)
			if err != nil {
				return fmt.Errorf("failed to reload order: %w", err)
			}
			outcome.Order = refreshed
			return nil
		}
		failed := order.Clone()
		failed.PaymentStatus = models.PaymentFailed
		outcome.Order = failed
		logger.Info("payment marked failed")
		if err := s.notifier.PaymentFailed(ctx, failed.Clone()); err != nil {
			logger.Error("failed to send payment failed notification", "error", err)
		}
	case ActionIgnoreFailure:
		logger.Info("failure observation ignored", "payment_status", string(order.PaymentStatus))
	case ActionAwaitProvider:
		logger.Debug("transaction still pending at provider")
	case ActionUnknownStatus:
		logger.Warn("unknown provider transaction status")
	}
	return nil
}
