package order

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/resilience"
)

// ErrDelivery wraps every failure to hand a confirmation to the order system.
var ErrDelivery = errors.New("order: downstream delivery failed")

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// Notifier delivers a confirmation to the order system.
type Notifier interface {
	Notify(ctx context.Context, c Confirmation) error
}

// HTTPNotifier POSTs confirmations as JSON to the order API.
type HTTPNotifier struct {
	Client resilience.HTTPClient
	URL    string
	APIKey string
}

// NewHTTPNotifier builds a notifier with a single bounded attempt per call.
// Redelivery is left to the processor's webhook retries.
func NewHTTPNotifier(hc *http.Client, url, apiKey string, timeout time.Duration, breaker *resilience.Breaker) HTTPNotifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return HTTPNotifier{
		Client: resilience.HTTPClient{
			Client:  hc,
			Breaker: breaker,
			Timeout: timeout,
		},
		URL:    url,
		APIKey: apiKey,
	}
}

// Notify implements Notifier. Any non-2xx response is a failure.
func (n HTTPNotifier) Notify(ctx context.Context, c Confirmation) (err error) {
	ctx, done := observe(ctx, "http", c)
	defer func() { done(err) }()

	body, err := json.Marshal(c.Normalized())
	if err != nil {
		return fmt.Errorf("%w: encode confirmation: %v", ErrDelivery, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.APIKey != "" {
		req.Header.Set("X-API-Key", n.APIKey)
	}
	resp, err := n.Client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: order api responded %s", ErrDelivery, resp.Status)
	}
	return nil
}

// DBNotifier upserts confirmations straight into the order database.
type DBNotifier struct {
	Store   Store
	Breaker *resilience.Breaker
	Timeout time.Duration
}

// Notify implements Notifier.
func (n DBNotifier) Notify(ctx context.Context, c Confirmation) (err error) {
	ctx, done := observe(ctx, "database", c)
	defer func() { done(err) }()

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	upsert := func(ctx context.Context) error { return n.Store.Upsert(ctx, c) }
	if n.Breaker != nil {
		err = n.Breaker.Execute(ctx, upsert, nil)
	} else {
		err = upsert(ctx)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

func observe(ctx context.Context, mode string, c Confirmation) (context.Context, func(error)) {
	ctx, span := obs.Tracer("order").Start(ctx, "order.Notify")
	span.SetAttributes(
		attribute.String("order.delivery_mode", mode),
		attribute.String("payment.intent_id", c.PaymentIntentID),
	)
	start := time.Now()
	return ctx, func(err error) {
		obs.DownstreamDeliveryTotal.WithLabelValues(mode, obs.Outcome(err)).Inc()
		obs.DownstreamDeliveryLatency.WithLabelValues(mode).Observe(obs.DurationMillis(time.Since(start)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
		}
		span.End()
	}
}
