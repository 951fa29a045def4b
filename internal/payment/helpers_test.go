package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"github.com/noah-isme/payment-relay/internal/order"
)

const testSecret = "whsec_test_secret"

func signPayload(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","api_version":"2024-06-20","type":%q,"data":{"object":%s}}`, id, eventType, object))
}

const succeededIntent = `{
	"id": "pi_123",
	"object": "payment_intent",
	"amount": 50000,
	"currency": "php",
	"status": "succeeded",
	"metadata": {"customer_id": "cus_9", "cart_id": "cart_7", "shipping_fee": "49.50"},
	"latest_charge": {
		"id": "ch_1",
		"receipt_url": "https://pay.stripe.com/receipts/ch_1",
		"payment_method_details": {"card": {"brand": "visa"}}
	}
}`

type fakeIntents struct {
	mu        sync.Mutex
	created   []*stripe.PaymentIntentCreateParams
	retrieved []string
	pi        *stripe.PaymentIntent
	err       error
}

func (f *fakeIntents) Create(_ context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, params)
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{ID: "pi_new", ClientSecret: "pi_new_secret_abc"}, nil
}

func (f *fakeIntents) Retrieve(_ context.Context, id string, _ *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieved = append(f.retrieved, id)
	if f.err != nil {
		return nil, f.err
	}
	return f.pi, nil
}

type fixedRate struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (f *fixedRate) Rate(context.Context, string, string) (decimal.Decimal, error) {
	f.calls++
	return f.rate, f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	got    []order.Confirmation
	err    error
	panics int
}

func (n *recordingNotifier) Notify(_ context.Context, c order.Confirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, c)
	if n.panics > 0 {
		n.panics--
		panic("notifier crashed")
	}
	return n.err
}

func (n *recordingNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.got)
}
