package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gitshopapp/checkout/internal/store"
)

const (
	claimAudience    = "checkout.claim"
	maxClaimLifetime = time.Hour
)

// PaymentClaim binds an order to the buyer's browser session. The storefront links
// the buyer here right after placing the order, with a short-lived HS256 token whose
// subject is the order number. Guest orders are remembered on the session; orders
// of signed-in buyers bind the buyer's user id instead.
func (h *Handlers) PaymentClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if h.config.ClaimTokenSecret == "" {
		writeError(w, logger, http.StatusNotFound, "not found")
		return
	}

	claims, err := parseHS256(
		strings.TrimSpace(r.URL.Query().Get("token")),
		h.config.ClaimTokenSecret,
		jwt.WithAudience(claimAudience),
		jwt.WithIssuedAt(),
	)
	if err == nil && (claims.IssuedAt == nil || claims.ExpiresAt.Sub(claims.IssuedAt.Time) > maxClaimLifetime) {
		err = errors.New("claim token must be issued at most an hour before it expires")
	}
	orderNumber := ""
	if err == nil {
		orderNumber = strings.TrimSpace(claims.Subject)
		if orderNumber == "" {
			err = errors.New("claim token has no order number")
		}
	}
	if err != nil {
		logger.Warn("order claim rejected", "error", err)
		writeError(w, logger, http.StatusUnauthorized, "invalid claim token")
		return
	}
	logger = logger.With("order_number", orderNumber)

	order, err := h.store.Orders().GetByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			logger.Warn("claim for unknown order")
			writeError(w, logger, http.StatusNotFound, "order not found")
			return
		}
		logger.Error("failed to load claimed order", "error", err)
		writeError(w, logger, http.StatusInternalServerError, "failed to load order")
		return
	}

	if order.IsGuest() {
		err = h.sessionManager.RememberGuestOrder(ctx, w, r, order.OrderNumber)
	} else {
		err = h.sessionManager.RememberUser(ctx, w, r, order.UserID)
	}
	if err != nil {
		logger.Error("failed to bind order to session", "error", err)
		writeError(w, logger, http.StatusInternalServerError, "failed to bind order")
		return
	}

	logger.Info("order bound to session", "guest", order.IsGuest())
	http.Redirect(w, r, claimRedirect(r.URL.Query().Get("next"), order.OrderNumber), http.StatusSeeOther)
}

// claimRedirect keeps next only when it is a path on this host.
func claimRedirect(next, orderNumber string) string {
	next = strings.TrimSpace(next)
	if strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") && !strings.ContainsAny(next, "\\\r\n") {
		return next
	}
	return "/payments/status/" + url.PathEscape(orderNumber)
}
