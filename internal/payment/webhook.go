package payment

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"

	"github.com/noah-isme/payment-relay/internal/common"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/order"
)

// FallbackSaver persists confirmations the notifier could not deliver and
// returns where they were written, or "" when that failed too.
type FallbackSaver interface {
	Save(ctx context.Context, c order.Confirmation, cause error) string
}

// Webhook handles Stripe event deliveries. It must be mounted behind a raw
// body stage so the signature is checked against the exact bytes received.
type Webhook struct {
	Verifier Verifier
	Notifier order.Notifier
	Fallback FallbackSaver
	// Replay is optional; without it redelivered events are forwarded again
	// and rely on the downstream upsert being idempotent.
	Replay ReplayGuard
	Logger zerolog.Logger
}

// WebhookAck is the body returned once a delivery is authenticated.
type WebhookAck struct {
	Received      bool   `json:"received"`
	FallbackSaved string `json:"fallback_saved,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

// Handle implements common.RawHandler.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request, body []byte) {
	ctx := r.Context()
	logger := obs.Log(ctx, h.Logger)

	event, err := h.Verifier.Verify(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		obs.PaymentWebhookTotal.WithLabelValues("unknown", "rejected").Inc()
		logger.Warn().Err(err).Msg("webhook_rejected")
		common.WriteError(w, appError(err))
		return
	}
	eventType := string(event.Type)
	log := logger.With().Str("event_id", event.ID).Str("event_type", eventType).Logger()
	log.Info().Msg("webhook_received")

	// durable stays false until the event has an outcome a redelivery must
	// not repeat. A claimed event that ends any other way, a panic included,
	// is released.
	durable := false
	if h.Replay != nil {
		first, err := h.Replay.Claim(ctx, event.ID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("webhook_replay_check_failed")
		case !first:
			obs.PaymentWebhookTotal.WithLabelValues(eventType, "duplicate").Inc()
			log.Info().Msg("webhook_duplicate")
			common.JSON(w, http.StatusOK, WebhookAck{Received: true, Duplicate: true})
			return
		default:
			defer func() { h.settle(ctx, &log, event.ID, durable) }()
		}
	}

	ack := WebhookAck{Received: true}
	result := "ignored"
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		ack.FallbackSaved, result = h.forward(ctx, &log, event)
	case stripe.EventTypePaymentIntentPaymentFailed:
		result = "payment_failed"
		log.Warn().Msg("payment_failed")
	default:
		log.Debug().Msg("webhook_ignored")
	}
	durable = result != "lost"
	obs.PaymentWebhookTotal.WithLabelValues(eventType, result).Inc()
	common.JSON(w, http.StatusOK, ack)
}

// settle commits or releases a replay claim once Handle is done with it.
func (h Webhook) settle(ctx context.Context, log *zerolog.Logger, id string, durable bool) {
	ctx = context.WithoutCancel(ctx)
	if durable {
		if err := h.Replay.Commit(ctx, id); err != nil {
			log.Warn().Err(err).Msg("webhook_replay_commit_failed")
		}
		return
	}
	if err := h.Replay.Release(ctx, id); err != nil {
		log.Warn().Err(err).Msg("webhook_replay_release_failed")
	}
}

// forward normalizes a succeeded event and delivers it downstream, falling
// back to the local log. It returns the fallback path and a metric label.
func (h Webhook) forward(ctx context.Context, log *zerolog.Logger, event stripe.Event) (string, string) {
	c, _, err := Normalize(event)
	if err != nil {
		log.Error().Err(err).Msg("webhook_normalize_failed")
		return "", "malformed"
	}
	log.UpdateContext(func(zc zerolog.Context) zerolog.Context {
		return zc.Str("payment_intent_id", c.PaymentIntentID)
	})

	deliveryErr := h.Notifier.Notify(ctx, c)
	if deliveryErr == nil {
		log.Info().Str("amount", c.Amount.String()).Str("currency", c.Currency).Msg("downstream_delivered")
		return "", "delivered"
	}
	log.Error().Err(deliveryErr).Msg("downstream_delivery_failed")

	path := h.Fallback.Save(ctx, c, deliveryErr)
	if path == "" {
		return "", "lost"
	}
	return path, "fallback"
}
