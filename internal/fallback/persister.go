package fallback

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/order"
)

// Alerter tells an administrator that an entry was written to the log.
type Alerter interface {
	Alert(ctx context.Context, entry Entry, path string, cause error) error
}

// Persister records undeliverable confirmations and raises an alert.
type Persister struct {
	Log          *FileLog
	Alerter      Alerter
	AlertTimeout time.Duration
	Logger       zerolog.Logger
}

// Save appends c to the log and returns the log path, or "" when the write
// failed. Errors are logged and never returned: the webhook must still be
// acknowledged. cause is the delivery error that triggered the fallback.
func (p Persister) Save(ctx context.Context, c order.Confirmation, cause error) string {
	logger := obs.Log(ctx, p.Logger)
	entry, err := p.Log.Append(ctx, c)
	obs.FallbackWritesTotal.WithLabelValues(obs.Outcome(err)).Inc()
	if err != nil {
		logger.Error().Err(err).
			Str("payment_intent_id", c.PaymentIntentID).
			Str("path", p.Log.Path()).
			Msg("fallback_persist_failed")
		return ""
	}
	logger.Warn().
		Str("payment_intent_id", c.PaymentIntentID).
		Str("entry_id", entry.ID).
		Str("path", p.Log.Path()).
		Msg("fallback_saved")

	if p.Alerter != nil {
		p.alert(ctx, logger, entry, cause)
	}
	return p.Log.Path()
}

func (p Persister) alert(ctx context.Context, logger *zerolog.Logger, entry Entry, cause error) {
	timeout := p.AlertTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// The alert outlives a cancelled webhook request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := p.Alerter.Alert(ctx, entry, p.Log.Path(), cause); err != nil {
		logger.Error().Err(err).Str("entry_id", entry.ID).Msg("admin_alert_failed")
		return
	}
	logger.Info().Str("entry_id", entry.ID).Msg("admin_alert_sent")
}
