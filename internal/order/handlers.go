package order

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/common"
	"github.com/noah-isme/payment-relay/internal/money"
	"github.com/noah-isme/payment-relay/internal/obs"
)

// ConfirmRequest is the body accepted by POST /confirm-order.
type ConfirmRequest struct {
	PaymentIntentID string        `json:"payment_intent_id" validate:"required"`
	CustomerID      string        `json:"customer_id"`
	CartID          string        `json:"cart_id"`
	ShippingFee     *money.Amount `json:"shipping_fee"`
	Amount          *money.Amount `json:"amountPHP" validate:"required"`
	ReceiptURL      *string       `json:"receipt_url" validate:"omitempty,url"`
	Currency        string        `json:"currency"`
	PaymentMethod   string        `json:"payment_method"`
	Status          Status        `json:"status" validate:"omitempty,oneof=paid failed"`
}

// Handler serves the order receiver endpoint backed by a Store.
type Handler struct {
	Store Store
	// APIKey, when set, must match the X-API-Key request header.
	APIKey          string
	DefaultCurrency string
	Logger          zerolog.Logger
}

// Authorize rejects requests without the configured API key.
func (h Handler) Authorize(next http.Handler) http.Handler {
	if h.APIKey == "" {
		return next
	}
	expected := []byte(h.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := []byte(strings.TrimSpace(r.Header.Get("X-API-Key")))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "invalid api key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Confirm upserts the posted confirmation.
func (h Handler) Confirm(w http.ResponseWriter, r *http.Request, req ConfirmRequest) {
	c := Confirmation{
		PaymentIntentID: req.PaymentIntentID,
		CustomerID:      strings.TrimSpace(req.CustomerID),
		CartID:          strings.TrimSpace(req.CartID),
		ShippingFee:     req.ShippingFee,
		Amount:          *req.Amount,
		Currency:        req.Currency,
		ReceiptURL:      req.ReceiptURL,
		PaymentMethod:   req.PaymentMethod,
		Status:          req.Status,
	}
	if strings.TrimSpace(c.Currency) == "" {
		c.Currency = h.DefaultCurrency
	}
	c = c.Normalized()

	logger := obs.Log(r.Context(), h.Logger)
	if err := h.Store.Upsert(r.Context(), c); err != nil {
		logger.Error().Err(err).Str("payment_intent_id", c.PaymentIntentID).Msg("order_store_failed")
		common.WriteError(w, common.NewAppError(common.CodeStorage, "failed to store order", http.StatusInternalServerError, err))
		return
	}
	logger.Info().
		Str("payment_intent_id", c.PaymentIntentID).
		Str("status", string(c.Status)).
		Msg("order_confirmed")
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
