package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"

	"github.com/noah-isme/payment-relay/internal/common"
	"github.com/noah-isme/payment-relay/internal/config"
	"github.com/noah-isme/payment-relay/internal/fallback"
	"github.com/noah-isme/payment-relay/internal/notify"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/order"
)

// mustInitDatabase connects when a DSN is configured and returns nil otherwise.
func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		return nil
	}
	if cfg.DBRunMigrations {
		if err := order.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = obs.ServiceName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

// mustInitRedis connects when REDIS_URL is set and returns nil otherwise.
func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if cfg.TracingEnabled {
		if err := redisotel.InstrumentTracing(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func newStripeClient(cfg *config.Config, hc *http.Client, logger zerolog.Logger) *stripe.Client {
	backendCfg := &stripe.BackendConfig{
		HTTPClient: hc,
		// Redelivery is the processor's job; the relay never retries itself.
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     stripeLogger{logger: logger.With().Str("component", "stripe").Logger()},
	}
	if cfg.StripeAPIURL != "" {
		backendCfg.URL = stripe.String(cfg.StripeAPIURL)
	}
	return stripe.NewClient(cfg.StripeSecretKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendCfg)))
}

// stripeLogger routes the SDK's own logging through zerolog.
type stripeLogger struct {
	logger zerolog.Logger
}

func (l stripeLogger) Debugf(format string, v ...interface{}) { l.logger.Debug().Msgf(format, v...) }
func (l stripeLogger) Infof(format string, v ...interface{})  { l.logger.Debug().Msgf(format, v...) }
func (l stripeLogger) Warnf(format string, v ...interface{})  { l.logger.Warn().Msgf(format, v...) }
func (l stripeLogger) Errorf(format string, v ...interface{}) { l.logger.Error().Msgf(format, v...) }

func newNotifier(cfg *config.Config, store order.Store, hc *http.Client, logger zerolog.Logger) (order.Notifier, error) {
	breaker := newBreaker(cfg, "downstream", logger)
	switch cfg.DownstreamMode {
	case config.DownstreamDatabase:
		if store == nil {
			return nil, fmt.Errorf("database mode needs a configured database")
		}
		return order.DBNotifier{Store: store, Breaker: breaker, Timeout: cfg.DownstreamTimeout}, nil
	case config.DownstreamHTTP:
		return order.NewHTTPNotifier(hc, cfg.DownstreamURL, cfg.DownstreamAPIKey, cfg.DownstreamTimeout, breaker), nil
	default:
		return nil, fmt.Errorf("unknown downstream mode %q", cfg.DownstreamMode)
	}
}

// newAlerter returns nil when alerts are disabled. With the queue enabled the
// webhook only enqueues; cmd/worker performs delivery.
func newAlerter(cfg *config.Config, logger zerolog.Logger) (fallback.Alerter, func()) {
	noop := func() {}
	if !cfg.AlertsEnabled() {
		return nil, noop
	}
	if cfg.AlertQueue {
		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse alert queue redis url")
		}
		client := asynq.NewClient(opt)
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("close alert queue client")
			}
		}
		return notify.AdminAlerter{
			Mail:      notify.QueueSender{Client: client},
			To:        cfg.AdminEmail,
			Transport: "queue",
		}, closeFn
	}
	mail, err := mailSender(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise alert transport")
	}
	return notify.AdminAlerter{Mail: mail, To: cfg.AdminEmail, Transport: cfg.AlertTransport}, noop
}

func mailSender(cfg *config.Config) (common.EmailSender, error) {
	return notify.NewSender(notify.SenderConfig{
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
}
