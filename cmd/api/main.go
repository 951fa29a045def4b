package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/payment-relay/internal/config"
	"github.com/noah-isme/payment-relay/internal/fallback"
	"github.com/noah-isme/payment-relay/internal/health"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/order"
	"github.com/noah-isme/payment-relay/internal/payment"
	"github.com/noah-isme/payment-relay/internal/ratelimit"
	"github.com/noah-isme/payment-relay/internal/resilience"
	"github.com/noah-isme/payment-relay/internal/server"
)

func main() {
	cfg := config.MustLoad(config.Load)

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(prometheus.DefaultRegisterer)
	}
	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			Endpoint:      cfg.OTLPEndpoint,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.TracingEnabled = false
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	probes := map[string]health.Probe{}

	pool := mustInitDatabase(ctx, cfg, logger)
	var store order.Store
	var orders *order.Handler
	if pool != nil {
		defer pool.Close()
		probes["db"] = func(ctx context.Context, timeout time.Duration) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return pool.Ping(ctx)
		}
		store = order.PGStore{DB: pool}
		orders = &order.Handler{
			Store:           store,
			APIKey:          cfg.ConfirmOrderKey,
			DefaultCurrency: cfg.SettlementCurrency,
			Logger:          logger.With().Str("component", "confirm_order").Logger(),
		}
	}

	redisClient := mustInitRedis(ctx, cfg, logger)
	var replay payment.ReplayGuard
	var createLimiter ratelimit.Limiter
	var err error
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		probes["redis"] = func(ctx context.Context, timeout time.Duration) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		}
		replay = payment.RedisReplayGuard{Client: redisClient, TTL: cfg.WebhookReplayTTL, ClaimTTL: cfg.WebhookClaimTTL}
		if createLimiter, err = ratelimit.NewRedis(redisClient, cfg.CreatePayRate); err != nil {
			logger.Fatal().Err(err).Msg("initialise rate limiter")
		}
	} else if createLimiter, err = ratelimit.NewMemory(cfg.CreatePayRate); err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	outbound := resilience.NewTracedClient(30 * time.Second)

	gateway := payment.Gateway{
		Intents:            newStripeClient(cfg, outbound, logger).V1PaymentIntents,
		Mode:               payment.SettlementMode(cfg.SettlementMode),
		SourceCurrency:     cfg.SourceCurrency,
		SettlementCurrency: cfg.SettlementCurrency,
		Logger:             logger.With().Str("component", "gateway").Logger(),
	}
	if gateway.Mode == payment.SettlementConverted {
		gateway.Rates = payment.HTTPRates{
			Client: resilience.HTTPClient{
				Client:  outbound,
				Breaker: newBreaker(cfg, "rates", logger),
				Timeout: cfg.RateTimeout,
			},
			URL: cfg.RateAPIURL,
		}
	}

	notifier, err := newNotifier(cfg, store, outbound, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise downstream notifier")
	}

	alerter, closeAlerts := newAlerter(cfg, logger)
	defer closeAlerts()

	persister := fallback.Persister{
		Log:     fallback.NewFileLog(cfg.FallbackLogPath),
		Alerter: alerter,
		Logger:  logger.With().Str("component", "fallback").Logger(),
	}

	var httpMetrics *obs.HTTPMetrics
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(obs.Namespace, nil, nil)
		metricsHandler = promhttp.Handler()
	}

	router := server.NewRouter(server.Deps{
		Logger:         logger,
		BodyLimit:      cfg.BodyLimitBytes,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Payments:       payment.Handler{Gateway: gateway, Logger: logger},
		Webhook: payment.Webhook{
			Verifier: payment.Verifier{Secret: cfg.StripeWebhookSecret, Tolerance: cfg.WebhookTolerance},
			Notifier: notifier,
			Fallback: persister,
			Replay:   replay,
			Logger:   logger.With().Str("component", "webhook").Logger(),
		},
		Orders:         orders,
		Health:         health.Handler{Probes: probes},
		CreateLimiter:  createLimiter,
		Metrics:        httpMetrics,
		MetricsHandler: metricsHandler,
		Tracing:        cfg.TracingEnabled,
		HSTS:           cfg.AppEnv == "production",
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Str("settlement_mode", cfg.SettlementMode).
			Str("downstream_mode", cfg.DownstreamMode).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)
		logger.Info().Msg("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server exited unexpectedly")
		return
	}
	logger.Info().Msg("server shutdown complete")
}

func newBreaker(cfg *config.Config, target string, logger zerolog.Logger) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		Target:       target,
		MinCalls:     cfg.CircuitMinReq,
		FailureRatio: cfg.CircuitFailRatio,
		Cooloff:      cfg.CircuitOpenFor,
		Logger:       &logger,
	})
}
