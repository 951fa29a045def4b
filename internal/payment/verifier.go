package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// DefaultTolerance is the accepted skew between the signature timestamp and now.
const DefaultTolerance = 300 * time.Second

// Verifier authenticates Stripe webhook deliveries.
type Verifier struct {
	Secret    string
	Tolerance time.Duration
}

// Verify checks header against the exact payload bytes and decodes the event.
// Signature problems wrap ErrInvalidSignature; a correctly signed payload that
// is not an event wraps ErrInvalidRequest.
func (v Verifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, fmt.Errorf("%w: %w", ErrInvalidSignature, webhook.ErrNotSigned)
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, v.Secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrTooOld):
			return stripe.Event{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		default:
			return stripe.Event{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	return event, nil
}
