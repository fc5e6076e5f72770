// Package session tracks which orders a browser may see payment details for.
package session

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/gitshopapp/checkout/internal/models"
)

const (
	cookieName = "checkout_session"
	ttl        = 24 * time.Hour
)

const maxGuestOrders = 20

// Data represents the data stored in a session
type Data struct {
	UserID      int64    `json:"user_id,omitempty"`
	GuestOrders []string `json:"guest_orders,omitempty"`
	CreatedAt   int64    `json:"created_at"`
}

// Owns reports whether the session may see the order. Signed-in users own their
// orders; anonymous sessions own the guest orders they placed.
func (d *Data) Owns(order *models.Order) bool {
	if d == nil || order == nil {
		return false
	}
	if d.UserID != 0 {
		return order.UserID == d.UserID
	}
	if !order.IsGuest() {
		return false
	}
	return slices.Contains(d.GuestOrders, order.OrderNumber)
}

// Manager handles session creation, validation, and storage
type Manager struct {
	store  Store
	secure bool
}

// Store defines the interface for session storage
type Store interface {
	Get(ctx context.Context, key string) (*Data, bool)
	Set(ctx context.Context, key string, data *Data, ttl time.Duration) error
	Delete(ctx context.Context, key string)
	Close() error
}

// NewManager creates a new session manager
func NewManager(store Store, secure bool) *Manager {
	return &Manager{
		store:  store,
		secure: secure,
	}
}

func (m *Manager) Close() error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Close()
}

// CreateSession creates a new session and sets the cookie
func (m *Manager) CreateSession(ctx context.Context, w http.ResponseWriter, data *Data) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context is required")
	}
	if data == nil {
		return "", fmt.Errorf("session data is required")
	}

	sessionID := generateSessionID()

	sessionData := cloneData(data)
	sessionData.CreatedAt = time.Now().Unix()
	if err := m.store.Set(ctx, sessionID, sessionData, ttl); err != nil {
		return "", err
	}

	cookie := &http.Cookie{
		Name:     cookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, cookie)

	return sessionID, nil
}

// GetSession retrieves the session data from the request
func (m *Manager) GetSession(ctx context.Context, r *http.Request) (*Data, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil, fmt.Errorf("no session cookie found: %w", err)
	}

	if ctx == nil {
		ctx = r.Context()
	}

	data, ok := m.store.Get(ctx, cookie.Value)
	if !ok {
		return nil, fmt.Errorf("session not found or expired")
	}

	// Check if session is expired
	if time.Now().Unix()-data.CreatedAt > int64(ttl.Seconds()) {
		m.store.Delete(ctx, cookie.Value)
		return nil, fmt.Errorf("session expired")
	}

	return data, nil
}

// UpdateSession updates the existing session data without changing the session ID
// The session ID is obtained from the request cookie
func (m *Manager) UpdateSession(ctx context.Context, r *http.Request, data *Data) error {
	if data == nil {
		return fmt.Errorf("session data is required")
	}

	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return fmt.Errorf("no session cookie found: %w", err)
	}

	if ctx == nil {
		ctx = r.Context()
	}

	// Update the timestamp
	sessionData := cloneData(data)
	sessionData.CreatedAt = time.Now().Unix()

	// Update in store using the existing session ID
	return m.store.Set(ctx, cookie.Value, sessionData, ttl)
}

// RememberGuestOrder records a guest order on the current session, creating the
// session when the request has none.
func (m *Manager) RememberGuestOrder(ctx context.Context, w http.ResponseWriter, r *http.Request, orderNumber string) error {
	if orderNumber == "" {
		return fmt.Errorf("order number is required")
	}

	data, err := m.GetSession(ctx, r)
	if err != nil {
		_, err := m.CreateSession(ctx, w, &Data{GuestOrders: []string{orderNumber}})
		return err
	}
	if slices.Contains(data.GuestOrders, orderNumber) {
		return nil
	}

	data.GuestOrders = append(data.GuestOrders, orderNumber)
	if len(data.GuestOrders) > maxGuestOrders {
		data.GuestOrders = data.GuestOrders[len(data.GuestOrders)-maxGuestOrders:]
	}
	return m.UpdateSession(ctx, r, data)
}

// RememberUser binds a signed-in buyer to a fresh session id, carrying over the
// guest orders of the current session.
func (m *Manager) RememberUser(ctx context.Context, w http.ResponseWriter, r *http.Request, userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("user id is required")
	}

	data := &Data{UserID: userID}
	if current, err := m.GetSession(ctx, r); err == nil {
		if current.UserID == userID {
			return nil
		}
		data.GuestOrders = current.GuestOrders
		if cookie, err := r.Cookie(cookieName); err == nil {
			m.store.Delete(ctx, cookie.Value)
		}
	}

	_, err := m.CreateSession(ctx, w, data)
	return err
}

// generateSessionID generates a session ID.
func generateSessionID() string {
	return uuid.NewString()
}

func cloneData(data *Data) *Data {
	if data == nil {
		return nil
	}
	cloned := *data
	cloned.GuestOrders = slices.Clone(data.GuestOrders)
	return &cloned
}
