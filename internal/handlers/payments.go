package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/store"
	"github.com/gitshopapp/checkout/internal/wompi"
)

type checkoutParams struct {
	PublicKey     string `json:"public_key"`
	Currency      string `json:"currency"`
	AmountInCents int64  `json:"amount_in_cents"`
	Reference     string `json:"reference"`
	RedirectURL   string `json:"redirect_url"`
	Signature     struct {
		Integrity string `json:"integrity"`
	} `json:"signature"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

type paymentStatus struct {
	OrderNumber   string               `json:"order_number"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	OrderStatus   models.OrderStatus   `json:"order_status"`
	UnderReview   bool                 `json:"under_review"`
}

// PaymentStatus is the polling endpoint the status page uses while a payment settles.
func (h *Handlers) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, paymentStatus{
		OrderNumber:   order.OrderNumber,
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.Status,
		UnderReview:   order.ReviewReason != "",
	})
}

// PaymentCheckout returns the signed parameters for the provider's checkout widget.
func (h *Handlers) PaymentCheckout(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	if order.IsPaid() {
		writeError(w, logger, http.StatusConflict, "order already paid")
		return
	}
	if h.config.WompiPublicKey == "" || h.config.WompiIntegritySecret == "" {
		logger.Error("checkout requested without wompi keys configured")
		writeError(w, logger, http.StatusServiceUnavailable, "payments unavailable")
		return
	}

	amount := order.MinorUnits()
	params := checkoutParams{
		PublicKey:     h.config.WompiPublicKey,
		Currency:      h.config.StoreCurrency,
		AmountInCents: amount,
		Reference:     order.OrderNumber,
		RedirectURL:   h.redirectURL(),
		CustomerEmail: order.BillingEmail,
	}
	params.Signature.Integrity = wompi.IntegritySignature(order.OrderNumber, amount, h.config.StoreCurrency, h.config.WompiIntegritySecret)
	writeJSON(w, logger, http.StatusOK, params)
}

func (h *Handlers) ownedOrder(w http.ResponseWriter, r *http.Request) (*models.Order, bool) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	orderNumber := strings.TrimSpace(mux.Vars(r)["order_number"])
	if orderNumber == "" {
		writeError(w, logger, http.StatusNotFound, "order not found")
		return nil, false
	}

	order, err := h.store.Orders().GetByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			writeError(w, logger, http.StatusNotFound, "order not found")
			return nil, false
		}
		logger.Error("failed to load order", "error", err, "order_number", orderNumber)
		writeError(w, logger, http.StatusInternalServerError, "failed to load order")
		return nil, false
	}

	if !h.sessionFromRequest(ctx, r).Owns(order) {
		logger.Warn("order requested by a session that does not own it", "order_number", orderNumber)
		writeError(w, logger, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return order, true
}

func (h *Handlers) redirectURL() string {
	if h.config.WompiRedirectURL != "" {
		return h.config.WompiRedirectURL
	}
	return strings.TrimRight(h.config.BaseURL, "/") + "/payments/return"
}
