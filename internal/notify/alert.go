package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/payment-relay/internal/common"
	"github.com/noah-isme/payment-relay/internal/fallback"
	"github.com/noah-isme/payment-relay/internal/obs"
)

// AdminAlerter emails an administrator whenever a confirmation lands in the
// fallback log.
type AdminAlerter struct {
	Mail      common.EmailSender
	To        string
	Transport string
}

// Alert implements fallback.Alerter.
func (a AdminAlerter) Alert(ctx context.Context, entry fallback.Entry, path string, cause error) error {
	if a.Mail == nil || strings.TrimSpace(a.To) == "" {
		return nil
	}
	err := a.Mail.Send(ctx, common.Email{
		To:      a.To,
		Subject: subjectFor(entry),
		Text:    bodyFor(entry, path, cause),
	})
	transport := a.Transport
	if transport == "" {
		transport = "unknown"
	}
	obs.AdminAlertsTotal.WithLabelValues(transport, obs.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("send admin alert: %w", err)
	}
	return nil
}

func subjectFor(entry fallback.Entry) string {
	return fmt.Sprintf("[payment-relay] Order delivery failed for %s", entry.Payload.PaymentIntentID)
}

func bodyFor(entry fallback.Entry, path string, cause error) string {
	c := entry.Payload
	var b strings.Builder
	fmt.Fprintf(&b, "A paid order could not be delivered to the order system and was saved to %s.\n\n", path)
	fmt.Fprintf(&b, "Entry ID: %s\n", entry.ID)
	fmt.Fprintf(&b, "Received at: %s\n", entry.ReceivedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Payment intent: %s\n", c.PaymentIntentID)
	fmt.Fprintf(&b, "Amount: %s %s\n", c.Amount.String(), strings.ToUpper(c.Currency))
	if c.CustomerID != "" {
		fmt.Fprintf(&b, "Customer: %s\n", c.CustomerID)
	}
	if c.CartID != "" {
		fmt.Fprintf(&b, "Cart: %s\n", c.CartID)
	}
	if c.ReceiptURL != nil {
		fmt.Fprintf(&b, "Receipt: %s\n", *c.ReceiptURL)
	}
	if cause != nil {
		fmt.Fprintf(&b, "\nDelivery error: %v\n", cause)
	}
	b.WriteString("\nReplay the entry once the order system is reachable.\n")
	return b.String()
}
