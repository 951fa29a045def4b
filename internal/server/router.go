package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/common"
	"github.com/noah-isme/payment-relay/internal/health"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/order"
	"github.com/noah-isme/payment-relay/internal/payment"
	"github.com/noah-isme/payment-relay/internal/ratelimit"
	"github.com/noah-isme/payment-relay/internal/security"
)

// Deps carries the handlers and cross-cutting pieces the router mounts.
type Deps struct {
	Logger    zerolog.Logger
	BodyLimit int64
	// AllowedOrigins defaults to "*".
	AllowedOrigins []string

	Payments payment.Handler
	Webhook  payment.Webhook
	// Orders mounts /confirm-order when set.
	Orders *order.Handler
	Health health.Handler

	// CreateLimiter throttles /create-payment per client IP when set.
	CreateLimiter ratelimit.Limiter

	Metrics        *obs.HTTPMetrics
	MetricsHandler http.Handler
	Tracing        bool
	HSTS           bool
}

// NewRouter builds the relay's HTTP surface. Each body-carrying route picks
// its own body stage; nothing upstream of the handlers reads the body.
func NewRouter(d Deps) http.Handler {
	validate := common.NewValidator()
	limit := d.BodyLimit
	if limit <= 0 {
		limit = common.DefaultBodyLimit
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if d.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: d.HSTS}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(d.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Stripe-Signature", "X-API-Key", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/", d.Health.Root)
	r.Get("/health/live", d.Health.Live)
	r.Get("/health/ready", d.Health.Ready)
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}

	mountPayments(r, d, limit, validate)
	if d.Orders != nil {
		r.With(d.Orders.Authorize).Post("/confirm-order", common.Parsed(limit, validate, d.Orders.Confirm))
	}
	return r
}

func mountPayments(r chi.Router, d Deps, limit int64, validate *validator.Validate) {
	throttle := ratelimit.Handler{
		Limiter: d.CreateLimiter,
		OnError: func(err error) {
			d.Logger.Warn().Err(err).Msg("rate_limit_backend_failed")
		},
	}
	r.With(throttle.Middleware).Post("/create-payment", common.Parsed(limit, validate, d.Payments.Create))
	r.Post("/verify-payment", common.Parsed(limit, validate, d.Payments.Verify))
	r.Post("/webhook", common.Raw(limit, d.Webhook.Handle))
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
