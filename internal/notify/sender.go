package notify

import (
	"fmt"

	"github.com/noah-isme/payment-relay/internal/common"
)

// Transport names accepted by NewSender.
const (
	TransportSMTP     = "smtp"
	TransportSendGrid = "sendgrid"
)

// SenderConfig selects and configures the mail transport used for alerts.
type SenderConfig struct {
	Transport      string
	SMTP           SMTPSender
	SendGridAPIKey string
	From           string
}

// NewSender returns the EmailSender for cfg.Transport.
func NewSender(cfg SenderConfig) (common.EmailSender, error) {
	switch cfg.Transport {
	case TransportSMTP:
		s := cfg.SMTP
		if s.From == "" {
			s.From = cfg.From
		}
		if s.Host == "" {
			return nil, fmt.Errorf("notify: smtp transport needs a host")
		}
		return s, nil
	case TransportSendGrid:
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("notify: sendgrid transport needs an api key")
		}
		return NewSendGridSender(cfg.SendGridAPIKey, cfg.From), nil
	default:
		return nil, fmt.Errorf("notify: unknown mail transport %q", cfg.Transport)
	}
}
