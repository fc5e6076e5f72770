package models

// StockLevel is the result of decrementing one line item's product or variant counter.
type StockLevel struct {
	ProductID    int64  `json:"product_id"`
	VariantID    int64  `json:"variant_id,omitempty"`
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Tracked      bool   `json:"tracked"`
	Requested    int    `json:"requested"`
	Remaining    int    `json:"remaining"`
	Threshold    int    `json:"threshold"`
	ThresholdSet bool   `json:"-"`
	Clamped      bool   `json:"clamped"`
}

// IsLow reports whether a tracked counter ended at or below its low-stock threshold.
func (s StockLevel) IsLow() bool {
	return s.Tracked && s.Remaining <= s.Threshold
}

type Product struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	SKU               string `json:"sku"`
	ManageStock       bool   `json:"manage_stock"`
	StockQuantity     int    `json:"stock_quantity"`
	LowStockThreshold *int   `json:"low_stock_threshold,omitempty"`
}

type ProductVariant struct {
	ID            int64  `json:"id"`
	ProductID     int64  `json:"product_id"`
	Name          string `json:"name"`
	SKU           string `json:"sku"`
	StockQuantity int    `json:"stock_quantity"`
}

type Coupon struct {
	Code       string `json:"code"`
	UsageCount int    `json:"usage_count"`
	UsageLimit *int   `json:"usage_limit,omitempty"`
}
