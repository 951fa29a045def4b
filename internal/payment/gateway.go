package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/payment-relay/internal/money"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/order"
)

// IntentAPI is the part of the Stripe client's payment intent service the
// gateway uses. stripe.Client.V1PaymentIntents satisfies it.
type IntentAPI interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
}

// MaxIntentMinor is the largest amount, in minor units, the processor accepts
// for a single intent.
const MaxIntentMinor = 99999999

// Gateway creates and inspects payment intents.
type Gateway struct {
	Intents            IntentAPI
	Rates              RateLookup
	Mode               SettlementMode
	SourceCurrency     string
	SettlementCurrency string
	Timeout            time.Duration
	Logger             zerolog.Logger
}

// CreatePaymentIntent opens an intent for req.Amount in the settlement currency.
func (g Gateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (handle IntentHandle, err error) {
	ctx, span := obs.Tracer("payment").Start(ctx, "Gateway.CreatePaymentIntent")
	mode := g.mode()
	defer func() {
		obs.PaymentIntentTotal.WithLabelValues(string(mode), obs.Outcome(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create intent failed")
		}
		span.End()
	}()

	if req.Amount == nil || !req.Amount.Positive() {
		return IntentHandle{}, fmt.Errorf("%w: amountPHP must be greater than zero", ErrInvalidRequest)
	}
	if req.ShippingFee != nil && req.ShippingFee.IsNegative() {
		return IntentHandle{}, fmt.Errorf("%w: shipping_fee must not be negative", ErrInvalidRequest)
	}

	settlement := *req.Amount
	currency := strings.ToLower(g.SourceCurrency)
	if mode == SettlementConverted {
		currency = strings.ToLower(g.SettlementCurrency)
		rate, err := g.Rates.Rate(ctx, g.SourceCurrency, g.SettlementCurrency)
		if err != nil {
			return IntentHandle{}, err
		}
		settlement = req.Amount.Convert(rate)
		span.SetAttributes(attribute.String("payment.rate", rate.String()))
	}
	minor, ok := settlement.Minor()
	if !ok || minor > MaxIntentMinor {
		return IntentHandle{}, fmt.Errorf("%w: amount %s %s exceeds the processor maximum", ErrInvalidRequest, settlement, currency)
	}
	if minor <= 0 {
		return IntentHandle{}, fmt.Errorf("%w: amount %s %s rounds to zero", ErrInvalidRequest, settlement, currency)
	}
	span.SetAttributes(
		attribute.String("payment.settlement_mode", string(mode)),
		attribute.String("payment.currency", currency),
		attribute.Int64("payment.amount_minor", minor),
	)

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: metadataFor(req, g.SourceCurrency),
	}
	callCtx, cancel := g.callContext(ctx)
	defer cancel()
	pi, err := g.Intents.Create(callCtx, params)
	if err != nil {
		return IntentHandle{}, processorFailure(err)
	}
	g.Logger.Info().
		Str("payment_intent_id", pi.ID).
		Int64("amount_minor", minor).
		Str("currency", currency).
		Msg("payment_intent_created")
	return IntentHandle{ClientSecret: pi.ClientSecret, PaymentIntentID: pi.ID}, nil
}

// RetrievePaymentIntent reports the processor's view of intent id.
func (g Gateway) RetrievePaymentIntent(ctx context.Context, id string) (IntentStatus, error) {
	ctx, span := obs.Tracer("payment").Start(ctx, "Gateway.RetrievePaymentIntent")
	defer span.End()
	span.SetAttributes(attribute.String("payment.intent_id", id))

	id = strings.TrimSpace(id)
	if id == "" {
		return IntentStatus{}, fmt.Errorf("%w: paymentIntentId is required", ErrInvalidRequest)
	}
	params := &stripe.PaymentIntentRetrieveParams{}
	params.AddExpand("latest_charge")
	params.AddExpand("payment_method")

	callCtx, cancel := g.callContext(ctx)
	defer cancel()
	pi, err := g.Intents.Retrieve(callCtx, id, params)
	if err != nil {
		err = processorFailure(err)
		span.RecordError(err)
		return IntentStatus{}, err
	}

	status := IntentStatus{
		Status:         string(pi.Status),
		Amount:         money.FromMinor(pi.Amount),
		SourceCurrency: strings.ToLower(string(pi.Currency)),
		Currency:       strings.ToLower(string(pi.Currency)),
		PaymentMethod:  order.UnknownBrand,
	}
	if src := parseOptionalAmount(pi.Metadata[MetaSourceAmount]); src != nil {
		status.Amount = *src
		if cur := strings.ToLower(strings.TrimSpace(pi.Metadata[MetaSourceCurrency])); cur != "" {
			status.SourceCurrency = cur
		}
	}
	if ch := pi.LatestCharge; ch != nil {
		if ch.ReceiptURL != "" {
			receipt := ch.ReceiptURL
			status.ReceiptURL = &receipt
		}
		if d := ch.PaymentMethodDetails; d != nil && d.Card != nil && d.Card.Brand != "" {
			status.PaymentMethod = string(d.Card.Brand)
		}
	}
	if status.PaymentMethod == order.UnknownBrand {
		if pm := pi.PaymentMethod; pm != nil && pm.Card != nil && pm.Card.Brand != "" {
			status.PaymentMethod = string(pm.Card.Brand)
		}
	}
	return status, nil
}

func (g Gateway) mode() SettlementMode {
	if g.Mode == "" {
		return SettlementDirect
	}
	return g.Mode
}

func (g Gateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// processorFailure classifies an error returned by the Stripe client.
func processorFailure(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("%w: %s", ErrNotFound, serr.Msg)
		}
		msg := serr.Msg
		if msg == "" {
			msg = serr.Error()
		}
		return &processorError{msg: msg, err: err}
	}
	return &processorError{msg: "payment processor unavailable", err: err}
}
