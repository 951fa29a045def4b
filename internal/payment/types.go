package payment

import (
	"strings"

	"github.com/noah-isme/payment-relay/internal/money"
)

// SettlementMode selects which currency intents are charged in.
type SettlementMode string

const (
	// SettlementDirect charges in the source currency.
	SettlementDirect SettlementMode = "direct"
	// SettlementConverted converts the source amount before charging.
	SettlementConverted SettlementMode = "converted"
)

// Metadata keys written to every intent.
const (
	MetaCustomerID     = "customer_id"
	MetaCartID         = "cart_id"
	MetaShippingFee    = "shipping_fee"
	MetaSourceAmount   = "source_amount"
	MetaSourceCurrency = "source_currency"
)

// IntentRequest is the body of POST /create-payment. Amount is in the source
// currency.
type IntentRequest struct {
	Amount      *money.Amount `json:"amountPHP" validate:"required"`
	CustomerID  string        `json:"customer_id"`
	CartID      string        `json:"cart_id"`
	ShippingFee *money.Amount `json:"shipping_fee"`
}

// IntentHandle identifies a created intent to the client.
type IntentHandle struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// VerifyRequest is the body of POST /verify-payment.
type VerifyRequest struct {
	PaymentIntentID string `json:"paymentIntentId" validate:"required"`
}

// IntentStatus is the processor's current view of an intent. Amount is in
// SourceCurrency; Currency is the currency the intent was charged in.
type IntentStatus struct {
	Status         string       `json:"status"`
	Amount         money.Amount `json:"amountPHP"`
	SourceCurrency string       `json:"source_currency"`
	Currency       string       `json:"currency"`
	ReceiptURL     *string      `json:"receipt_url"`
	PaymentMethod  string       `json:"payment_method"`
}

func metadataFor(req IntentRequest, sourceCurrency string) map[string]string {
	meta := map[string]string{
		MetaSourceAmount:   req.Amount.String(),
		MetaSourceCurrency: strings.ToLower(sourceCurrency),
	}
	if v := strings.TrimSpace(req.CustomerID); v != "" {
		meta[MetaCustomerID] = v
	}
	if v := strings.TrimSpace(req.CartID); v != "" {
		meta[MetaCartID] = v
	}
	if req.ShippingFee != nil {
		meta[MetaShippingFee] = req.ShippingFee.String()
	}
	return meta
}
