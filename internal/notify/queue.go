package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/common"
)

// TypeAdminEmail is the asynq task type carrying a queued admin email.
const TypeAdminEmail = "alert:admin_email"

// AlertQueue is the asynq queue alert tasks are placed on.
const AlertQueue = "alerts"

// Enqueuer is the subset of asynq.Client used by QueueSender.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSender implements common.EmailSender by handing the message to the
// worker process, which retries delivery independently of the webhook.
type QueueSender struct {
	Client     Enqueuer
	MaxRetry   int
	RetryAfter time.Duration
}

// Send implements common.EmailSender.
func (q QueueSender) Send(ctx context.Context, msg common.Email) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode alert task: %w", err)
	}
	maxRetry := q.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 8
	}
	info, err := q.Client.EnqueueContext(ctx, asynq.NewTask(TypeAdminEmail, payload),
		asynq.Queue(AlertQueue),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(30*time.Second),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("enqueue alert task: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("task_id", info.ID).Msg("admin_alert_enqueued")
	return nil
}

// AlertWorker delivers queued admin emails.
type AlertWorker struct {
	Mail   common.EmailSender
	Logger zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (w AlertWorker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var msg common.Email
	if err := json.Unmarshal(task.Payload(), &msg); err != nil {
		return fmt.Errorf("decode alert task: %w: %w", err, asynq.SkipRetry)
	}
	if err := w.Mail.Send(ctx, msg); err != nil {
		w.Logger.Warn().Err(err).Str("to", msg.To).Msg("admin_alert_delivery_failed")
		return err
	}
	w.Logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("admin_alert_delivered")
	return nil
}

// NewServeMux routes alert tasks to w.
func NewServeMux(w AlertWorker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeAdminEmail, w)
	return mux
}
