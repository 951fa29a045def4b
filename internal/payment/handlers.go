package payment

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/common"
	"github.com/noah-isme/payment-relay/internal/obs"
)

// IntentGateway is implemented by Gateway.
type IntentGateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (IntentHandle, error)
	RetrievePaymentIntent(ctx context.Context, id string) (IntentStatus, error)
}

// Handler exposes the client-facing intent endpoints.
type Handler struct {
	Gateway IntentGateway
	Logger  zerolog.Logger
}

// Create serves POST /create-payment.
func (h Handler) Create(w http.ResponseWriter, r *http.Request, req IntentRequest) {
	handle, err := h.Gateway.CreatePaymentIntent(r.Context(), req)
	if err != nil {
		obs.Log(r.Context(), h.Logger).Error().Err(err).Msg("create_payment_failed")
		common.WriteError(w, appError(err))
		return
	}
	common.JSON(w, http.StatusOK, handle)
}

// Verify serves POST /verify-payment.
func (h Handler) Verify(w http.ResponseWriter, r *http.Request, req VerifyRequest) {
	status, err := h.Gateway.RetrievePaymentIntent(r.Context(), req.PaymentIntentID)
	if err != nil {
		obs.Log(r.Context(), h.Logger).Warn().Err(err).Str("payment_intent_id", req.PaymentIntentID).Msg("verify_payment_failed")
		common.WriteError(w, appError(err))
		return
	}
	common.JSON(w, http.StatusOK, status)
}
