package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gitshopapp/checkout/internal/email"
	"github.com/gitshopapp/checkout/internal/models"
)

// EmailNotifier mails buyers about payment outcomes and staff about low stock.
type EmailNotifier struct {
	provider email.Provider
	renderer *email.Renderer
	staff    []string
	baseURL  string
	currency string
}

func NewEmailNotifier(provider email.Provider, staff []string, baseURL, currency string) (*EmailNotifier, error) {
	if provider == nil {
		return nil, fmt.Errorf("email provider is required")
	}
	renderer, err := email.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	recipients := make([]string, 0, len(staff))
	for _, address := range staff {
		if address = strings.TrimSpace(address); address != "" {
			recipients = append(recipients, address)
		}
	}

	return &EmailNotifier{
		provider: provider,
		renderer: renderer,
		staff:    recipients,
		baseURL:  strings.TrimRight(baseURL, "/"),
		currency: currency,
	}, nil
}

func (n *EmailNotifier) PaymentApproved(ctx context.Context, order *models.Order) error {
	return n.sendToBuyer(ctx, email.TemplatePaymentApproved, order, "/payments/status/")
}

func (n *EmailNotifier) PaymentFailed(ctx context.Context, order *models.Order) error {
	return n.sendToBuyer(ctx, email.TemplatePaymentFailed, order, "")
}

func (n *EmailNotifier) LowStock(ctx context.Context, items []models.StockLevel) error {
	if len(items) == 0 || len(n.staff) == 0 {
		return nil
	}

	info := &email.LowStockInfo{Items: make([]email.StockLine, 0, len(items))}
	for _, item := range items {
		info.Items = append(info.Items, email.StockLine{
			Name:      item.Name,
			SKU:       item.SKU,
			Remaining: item.Remaining,
			Threshold: item.Threshold,
		})
	}

	var errs []error
	for _, recipient := range n.staff {
		message, err := n.renderer.Render(email.TemplateLowStock, recipient, info)
		if err != nil {
			return err
		}
		if err := n.provider.SendEmail(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("low stock email to %s: %w", recipient, err))
		}
	}
	return errors.Join(errs...)
}

func (n *EmailNotifier) sendToBuyer(ctx context.Context, template string, order *models.Order, statusPath string) error {
	if order == nil || strings.TrimSpace(order.BillingEmail) == "" {
		return nil
	}

	info := &email.PaymentInfo{
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.BillingEmail,
		Total:         order.Total.StringFixed(2),
		Currency:      n.currency,
	}
	for _, item := range order.Items {
		info.Items = append(info.Items, email.ItemLine{Name: item.ProductName, Quantity: item.Quantity})
	}
	if n.baseURL != "" {
		if statusPath != "" {
			info.OrderURL = n.baseURL + statusPath + order.OrderNumber
		} else {
			info.OrderURL = n.baseURL + "/payments/" + order.OrderNumber + "/checkout"
		}
	}

	message, err := n.renderer.Render(template, order.BillingEmail, info)
	if err != nil {
		return err
	}
	if err := n.provider.SendEmail(ctx, message); err != nil {
		return fmt.Errorf("%s email for order %s: %w", template, order.OrderNumber, err)
	}
	return nil
}
