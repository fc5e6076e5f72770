// Package email provides email templates.
package email

import (
	"bytes"
	"fmt"
	"text/template"
)

// PaymentInfo carries what payment emails show about an order.
type PaymentInfo struct {
	OrderNumber   string
	CustomerEmail string
	Total         string
	Currency      string
	Items         []ItemLine
	OrderURL      string
}

type ItemLine struct {
	Name     string
	SKU      string
	Quantity int
}

// LowStockInfo lists counters that ended at or below their threshold.
type LowStockInfo struct {
	Items []StockLine
}

type StockLine struct {
	Name      string
	SKU       string
	Remaining int
	Threshold int
}

const (
	TemplatePaymentApproved = "payment_approved"
	TemplatePaymentFailed   = "payment_failed"
	TemplateLowStock        = "low_stock"
)

type emailTemplate struct {
	Subject string
	Text    string
}

var emailTemplates = map[string]emailTemplate{
	TemplatePaymentApproved: {
		Subject: "Payment received - {{.OrderNumber}}",
		Text:    paymentApprovedText,
	},
	TemplatePaymentFailed: {
		Subject: "Payment not completed - {{.OrderNumber}}",
		Text:    paymentFailedText,
	},
	TemplateLowStock: {
		Subject: "Low stock: {{len .Items}} item(s)",
		Text:    lowStockText,
	},
}

// Renderer renders the plain-text payment templates.
type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl := template.New("email")
	for key, t := range emailTemplates {
		if _, err := tmpl.New(key + "_subject").Parse(t.Subject); err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", key, err)
		}
		if _, err := tmpl.New(key + "_text").Parse(t.Text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", key, err)
		}
	}
	return &Renderer{templates: tmpl}, nil
}

// Render executes a template for one recipient. data is a *PaymentInfo or *LowStockInfo.
func (r *Renderer) Render(templateName, to string, data any) (*Email, error) {
	if _, ok := emailTemplates[templateName]; !ok {
		return nil, fmt.Errorf("unknown email template %q", templateName)
	}

	var subject, text bytes.Buffer
	if err := r.templates.ExecuteTemplate(&subject, templateName+"_subject", data); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := r.templates.ExecuteTemplate(&text, templateName+"_text", data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}

	return &Email{
		To:      to,
		Subject: subject.String(),
		Text:    text.String(),
	}, nil
}

const paymentApprovedText = `Your payment was approved.

Order Number: {{.OrderNumber}}
Total: {{.Total}} {{.Currency}}

Items:
{{range .Items}}- {{.Name}} x{{.Quantity}}
{{end}}
We are preparing your order now.
{{if .OrderURL}}
Order details: {{.OrderURL}}
{{end}}`

const paymentFailedText = `We could not complete the payment for order {{.OrderNumber}}.

Total: {{.Total}} {{.Currency}}

No money was taken for this attempt. You can try again with another payment method.
{{if .OrderURL}}
Retry payment: {{.OrderURL}}
{{end}}`

const lowStockText = `The following items are at or below their low-stock threshold:

{{range .Items}}- {{.Name}}{{if .SKU}} ({{.SKU}}){{end}}: {{.Remaining}} left (threshold {{.Threshold}})
{{end}}`
