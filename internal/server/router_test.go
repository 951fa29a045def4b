package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-relay/internal/fallback"
	"github.com/noah-isme/payment-relay/internal/health"
	"github.com/noah-isme/payment-relay/internal/money"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/order"
	"github.com/noah-isme/payment-relay/internal/payment"
	"github.com/noah-isme/payment-relay/internal/ratelimit"
)

const webhookSecret = "whsec_router"

type stubGateway struct {
	created int
}

func (s *stubGateway) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (payment.IntentHandle, error) {
	s.created++
	return payment.IntentHandle{ClientSecret: "secret_" + req.Amount.String(), PaymentIntentID: "pi_stub"}, nil
}

func (s *stubGateway) RetrievePaymentIntent(_ context.Context, id string) (payment.IntentStatus, error) {
	return payment.IntentStatus{
		Status:         "succeeded",
		Amount:         money.MustParse("500"),
		SourceCurrency: "php",
		Currency:       "php",
		PaymentMethod:  order.UnknownBrand,
	}, nil
}

type fixture struct {
	handler http.Handler
	store   *order.MemoryStore
	log     *fallback.FileLog
	gateway *stubGateway
}

func newFixture(t *testing.T, mutate func(*Deps)) fixture {
	t.Helper()
	store := order.NewMemoryStore()
	log := fallback.NewFileLog(filepath.Join(t.TempDir(), "fallback_orders.json"))
	gateway := &stubGateway{}
	d := Deps{
		Logger:   zerolog.Nop(),
		Payments: payment.Handler{Gateway: gateway, Logger: zerolog.Nop()},
		Webhook: payment.Webhook{
			Verifier: payment.Verifier{Secret: webhookSecret},
			Notifier: order.DBNotifier{Store: store},
			Fallback: fallback.Persister{Log: log, Logger: zerolog.Nop()},
			Logger:   zerolog.Nop(),
		},
		Orders: &order.Handler{Store: store, APIKey: "confirm-key", DefaultCurrency: "php", Logger: zerolog.Nop()},
	}
	if mutate != nil {
		mutate(&d)
	}
	return fixture{handler: NewRouter(d), store: store, log: log, gateway: gateway}
}

func (f fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func sign(payload string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

const succeededEvent = `{"id":"evt_router","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_router","amount":50000,"currency":"php","metadata":{"customer_id":"cus_1","cart_id":"cart_1"},"latest_charge":{"receipt_url":"https://pay.stripe.com/r/1","payment_method_details":{"card":{"brand":"visa"}}}}}}`

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health/ready", "", nil).Code)
}

func TestCreateAndVerifyPayment(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(http.MethodPost, "/create-payment", `{"amountPHP":500}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"clientSecret":"secret_500.00","paymentIntentId":"pi_stub"}`, rr.Body.String())

	rr = f.do(http.MethodPost, "/create-payment", `{"customer_id":"c"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPost, "/verify-payment", `{"paymentIntentId":"pi_stub"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"succeeded","amountPHP":500.00,"source_currency":"php","currency":"php","receipt_url":null,"payment_method":"unknown"}`, rr.Body.String())
}

func TestWebhookStoresOrderOnce(t *testing.T) {
	f := newFixture(t, nil)
	headers := map[string]string{"Stripe-Signature": sign(succeededEvent), "Content-Type": "application/json"}

	for i := 0; i < 2; i++ {
		rr := f.do(http.MethodPost, "/webhook", succeededEvent, headers)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	}

	assert.Equal(t, 1, f.store.Len())
	rec, err := f.store.Get(context.Background(), "pi_router")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, rec.Status)
	assert.Equal(t, "500.00", rec.Amount.String())
	assert.Equal(t, "visa", rec.PaymentMethod)

	entries, err := f.log.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t, nil)
	tampered := strings.Replace(succeededEvent, "50000", "50001", 1)

	rr := f.do(http.MethodPost, "/webhook", tampered, map[string]string{"Stripe-Signature": sign(succeededEvent)})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, f.store.Len())

	entries, err := f.log.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.BodyLimit = 64 })
	body := `{"amountPHP":500,"customer_id":"` + strings.Repeat("x", 128) + `"}`

	rr := f.do(http.MethodPost, "/create-payment", body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Zero(t, f.gateway.created)
}

func TestConfirmOrderRoute(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"payment_intent_id":"pi_c","amountPHP":"120.50"}`

	rr := f.do(http.MethodPost, "/confirm-order", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(http.MethodPost, "/confirm-order", body, map[string]string{"X-API-Key": "confirm-key"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, f.store.Len())
}

func TestConfirmOrderUnmountedWithoutStore(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Orders = nil })

	rr := f.do(http.MethodPost, "/confirm-order", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreatePaymentRateLimited(t *testing.T) {
	limiter, err := ratelimit.NewMemory("1-M")
	require.NoError(t, err)
	f := newFixture(t, func(d *Deps) { d.CreateLimiter = limiter })

	first := f.do(http.MethodPost, "/create-payment", `{"amountPHP":10}`, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(http.MethodPost, "/create-payment", `{"amountPHP":10}`, nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "RATE_LIMITED")
	assert.Equal(t, 1, f.gateway.created)

	// Other routes share no bucket with /create-payment.
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/verify-payment", `{"paymentIntentId":"pi"}`, nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics(obs.Namespace, nil, reg)
	f := newFixture(t, func(d *Deps) {
		d.Metrics = metrics
		d.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	})

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/", "", nil).Code)
	rr := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "payment_relay_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.AllowedOrigins = []string{"https://shop.example.com"} })

	req := httptest.NewRequest(http.MethodOptions, "/create-payment", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://shop.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestReadyReportsDraining(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Health = health.Handler{Probes: map[string]health.Probe{
			"db": func(context.Context, time.Duration) error { return nil },
		}}
	})
	health.SetReady(false)
	t.Cleanup(func() { health.SetReady(true) })

	rr := f.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
