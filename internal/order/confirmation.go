package order

import (
	"strings"

	"github.com/noah-isme/payment-relay/internal/money"
)

// Status is the order outcome forwarded downstream.
type Status string

const (
	StatusPaid   Status = "paid"
	StatusFailed Status = "failed"
)

// UnknownBrand is recorded when the processor reports no card brand.
const UnknownBrand = "unknown"

// Confirmation is the canonical record sent to the order system for one
// verified payment. Amounts are decimals in the settlement currency.
type Confirmation struct {
	PaymentIntentID string        `json:"payment_intent_id"`
	CustomerID      string        `json:"customer_id"`
	CartID          string        `json:"cart_id"`
	ShippingFee     *money.Amount `json:"shipping_fee"`
	Amount          money.Amount  `json:"amountPHP"`
	Currency        string        `json:"currency"`
	ReceiptURL      *string       `json:"receipt_url"`
	PaymentMethod   string        `json:"payment_method"`
	Status          Status        `json:"status"`
}

// Normalized fills defaults the downstream relies on.
func (c Confirmation) Normalized() Confirmation {
	c.PaymentIntentID = strings.TrimSpace(c.PaymentIntentID)
	c.Currency = strings.ToLower(strings.TrimSpace(c.Currency))
	if strings.TrimSpace(c.PaymentMethod) == "" {
		c.PaymentMethod = UnknownBrand
	}
	if c.Status == "" {
		c.Status = StatusPaid
	}
	if c.ReceiptURL != nil && strings.TrimSpace(*c.ReceiptURL) == "" {
		c.ReceiptURL = nil
	}
	return c
}
