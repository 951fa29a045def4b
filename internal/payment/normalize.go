package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"

	"github.com/noah-isme/payment-relay/internal/money"
	"github.com/noah-isme/payment-relay/internal/order"
)

// intentObject is the subset of a payment intent read from webhook payloads.
// It is decoded by hand so payloads pinned to older API versions, which still
// carry charges.data, normalize the same way as current ones.
type intentObject struct {
	ID            string            `json:"id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
	LatestCharge  json.RawMessage   `json:"latest_charge"`
	PaymentMethod json.RawMessage   `json:"payment_method"`
	Charges       *struct {
		Data []chargeObject `json:"data"`
	} `json:"charges"`
}

type chargeObject struct {
	ReceiptURL           string `json:"receipt_url"`
	PaymentMethodDetails *struct {
		Card *cardObject `json:"card"`
	} `json:"payment_method_details"`
}

type paymentMethodObject struct {
	Card *cardObject `json:"card"`
}

type cardObject struct {
	Brand string `json:"brand"`
}

// Normalize turns a verified payment_intent.succeeded event into a paid
// confirmation. ok is false for every other event type. Missing metadata
// yields empty fields, never an error.
func Normalize(event stripe.Event) (c order.Confirmation, ok bool, err error) {
	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		return order.Confirmation{}, false, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return order.Confirmation{}, true, fmt.Errorf("%w: event %s has no data object", ErrInvalidRequest, event.ID)
	}
	var pi intentObject
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return order.Confirmation{}, true, fmt.Errorf("%w: decode payment intent: %w", ErrInvalidRequest, err)
	}
	if pi.ID == "" {
		return order.Confirmation{}, true, fmt.Errorf("%w: event %s carries no payment intent id", ErrInvalidRequest, event.ID)
	}

	c = order.Confirmation{
		PaymentIntentID: pi.ID,
		CustomerID:      pi.Metadata[MetaCustomerID],
		CartID:          pi.Metadata[MetaCartID],
		ShippingFee:     parseOptionalAmount(pi.Metadata[MetaShippingFee]),
		Amount:          money.FromMinor(pi.Amount),
		Currency:        strings.ToLower(pi.Currency),
		PaymentMethod:   order.UnknownBrand,
		Status:          order.StatusPaid,
	}

	charge := pi.charge()
	if charge != nil {
		if charge.ReceiptURL != "" {
			receipt := charge.ReceiptURL
			c.ReceiptURL = &receipt
		}
		if d := charge.PaymentMethodDetails; d != nil && d.Card != nil && d.Card.Brand != "" {
			c.PaymentMethod = d.Card.Brand
		}
	}
	if c.PaymentMethod == order.UnknownBrand {
		var pm paymentMethodObject
		if isObject(pi.PaymentMethod) && json.Unmarshal(pi.PaymentMethod, &pm) == nil && pm.Card != nil && pm.Card.Brand != "" {
			c.PaymentMethod = pm.Card.Brand
		}
	}
	return c, true, nil
}

// charge returns the expanded latest charge, else the first legacy charge.
func (pi intentObject) charge() *chargeObject {
	if isObject(pi.LatestCharge) {
		var ch chargeObject
		if json.Unmarshal(pi.LatestCharge, &ch) == nil {
			return &ch
		}
	}
	if pi.Charges != nil && len(pi.Charges.Data) > 0 {
		return &pi.Charges.Data[0]
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func parseOptionalAmount(v string) *money.Amount {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	a, err := money.Parse(v)
	if err != nil {
		return nil
	}
	return &a
}
