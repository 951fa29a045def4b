package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/config"
	"github.com/noah-isme/payment-relay/internal/notify"
	"github.com/noah-isme/payment-relay/internal/obs"
)

// The worker delivers admin alerts the API enqueued while ALERT_QUEUE_ENABLED
// is set. It needs the same mail transport settings as the API.
func main() {
	cfg := config.MustLoad(config.LoadWorker)

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mail, err := notify.NewSender(notify.SenderConfig{
		Transport: cfg.AlertTransport,
		SMTP: notify.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
		},
		SendGridAPIKey: cfg.SendGridAPIKey,
		From:           cfg.AlertSender(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise alert transport")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     2,
		Queues:          map[string]int{notify.AlertQueue: 1},
		ShutdownTimeout: cfg.ShutdownDeadline,
		Logger:          asynqLogger{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn().Err(err).
				Str("task_type", task.Type()).
				Int("retry", retried).
				Int("max_retry", maxRetry).
				Msg("alert_task_failed")
		}),
	})

	mux := notify.NewServeMux(notify.AlertWorker{Mail: mail, Logger: logger})

	logger.Info().Str("transport", cfg.AlertTransport).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// asynqLogger adapts zerolog to asynq's logger interface.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(sprint(args)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(sprint(args)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(sprint(args)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(sprint(args)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(sprint(args)) }

func sprint(args []interface{}) string {
	return fmt.Sprint(args...)
}
