package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/services"
	"github.com/gitshopapp/checkout/internal/store"
	"github.com/gitshopapp/checkout/internal/wompi"
)

const (
	stateApproved = "approved"
	statePending  = "pending"
	stateDeclined = "declined"
	stateVoided   = "voided"
	stateError    = "error"
)

type orderSummary struct {
	OrderNumber   string               `json:"order_number"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
}

type paymentResult struct {
	State         string        `json:"state"`
	Title         string        `json:"title"`
	Message       string        `json:"message"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Order         *orderSummary `json:"order,omitempty"`
}

// PaymentReturn handles the buyer's redirect back from the provider's checkout.
// The provider is queried directly; nothing is locked while waiting on it.
func (h *Handlers) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	transactionID := strings.TrimSpace(r.URL.Query().Get("id"))
	if transactionID == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	logger = logger.With("transaction_id", transactionID)

	fetched, err := h.fetchTransaction(ctx, transactionID)
	if err != nil {
		logger.Warn("failed to fetch transaction on return", "error", err)
		writeJSON(w, logger, http.StatusOK, pendingResult(transactionID))
		return
	}

	outcome, err := h.payments.Apply(ctx, services.SourceReturn, fetched.Record())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrOrderNotFound):
		logger.Warn("return redirect for unknown order", "reference", fetched.Reference)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	case errors.Is(err, services.ErrMalformedPayload):
		logger.Warn("provider returned an unusable transaction", "error", err)
		writeJSON(w, logger, http.StatusOK, paymentResult{
			State:         stateError,
			Title:         "We could not verify your payment",
			Message:       "Please contact the store with your transaction reference.",
			TransactionID: transactionID,
		})
		return
	default:
		logger.Error("failed to apply returned transaction", "error", err)
		writeJSON(w, logger, http.StatusOK, pendingResult(transactionID))
		return
	}

	result := resultForOutcome(outcome)
	result.TransactionID = transactionID
	if h.sessionFromRequest(ctx, r).Owns(outcome.Order) {
		result.Order = summarize(outcome.Order)
	}
	writeJSON(w, logger, http.StatusOK, result)
}

func (h *Handlers) fetchTransaction(ctx context.Context, id string) (*wompi.Transaction, error) {
	timeout := h.config.WompiTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	txn, err := h.fetcher.GetTransaction(ctx, id)
	h.metrics.ObserveProviderFetch(time.Since(started), err)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func resultForOutcome(outcome *services.Outcome) paymentResult {
	switch {
	case outcome.ProviderStatus == models.TransactionApproved && !outcome.Consistent():
		return paymentResult{
			State:   statePending,
			Title:   "Your payment is being reviewed",
			Message: "We received your payment and are confirming the details. You will get an email once it is confirmed.",
		}
	case outcome.ProviderStatus == models.TransactionApproved:
		return paymentResult{
			State:   stateApproved,
			Title:   "Payment approved",
			Message: "Thank you! Your order is being prepared.",
		}
	case outcome.ProviderStatus == models.TransactionPending:
		return pendingResult("")
	case outcome.ProviderStatus.IsFailure():
		if outcome.Order.IsPaid() {
			return paymentResult{
				State:   stateApproved,
				Title:   "Order already paid",
				Message: "This attempt did not go through, but your order was already paid.",
			}
		}
		return declinedResult(outcome.ProviderStatus)
	default:
		return paymentResult{
			State:   stateError,
			Title:   "Unexpected payment status",
			Message: "We could not determine the state of your payment. Please contact the store.",
		}
	}
}

func pendingResult(transactionID string) paymentResult {
	return paymentResult{
		State:         statePending,
		Title:         "Your payment is still processing",
		Message:       "This can take a few minutes. We will email you as soon as it is confirmed.",
		TransactionID: transactionID,
	}
}

func declinedResult(status models.TransactionStatus) paymentResult {
	result := paymentResult{State: stateDeclined, Title: "Payment declined", Message: "Your payment was not approved. You can try again with another payment method."}
	switch status {
	case models.TransactionVoided:
		result.State = stateVoided
		result.Title = "Payment voided"
		result.Message = "The payment was cancelled. You can try again."
	case models.TransactionError:
		result.Title = "Payment failed"
		result.Message = "The payment could not be processed. You can try again."
	}
	return result
}

func summarize(order *models.Order) *orderSummary {
	if order == nil {
		return nil
	}
	return &orderSummary{
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
	}
}
