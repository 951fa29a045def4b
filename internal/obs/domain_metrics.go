package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentIntentTotal counts payment intent creation outcomes.
	PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "payment_intent_total",
		Help:      "Count of payment intent creation outcomes.",
	}, []string{"settlement_mode", "result"})
	// PaymentWebhookTotal counts inbound Stripe webhook outcomes.
	PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "payment_webhook_total",
		Help:      "Count of processed payment webhooks by event type and outcome.",
	}, []string{"event_type", "result"})
	// DownstreamDeliveryTotal counts order confirmation deliveries.
	DownstreamDeliveryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "downstream_delivery_total",
		Help:      "Count of order confirmation deliveries by mode and outcome.",
	}, []string{"mode", "result"})
	// DownstreamDeliveryLatency records delivery latency in milliseconds.
	DownstreamDeliveryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "downstream_delivery_duration_ms",
		Help:      "Latency of order confirmation deliveries in milliseconds.",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"mode"})
	// FallbackWritesTotal counts records appended to the fallback log.
	FallbackWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "fallback_writes_total",
		Help:      "Count of fallback log append attempts by outcome.",
	}, []string{"result"})
	// AdminAlertsTotal counts administrator alert attempts.
	AdminAlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "admin_alerts_total",
		Help:      "Count of administrator alert attempts by transport and outcome.",
	}, []string{"transport", "result"})
	// RateLookupTotal counts exchange rate lookups.
	RateLookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "rate_lookup_total",
		Help:      "Count of exchange rate lookups by outcome.",
	}, []string{"result"})
)

// MustRegisterDomainMetrics registers relay-specific collectors once.
func MustRegisterDomainMetrics(reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentIntentTotal = register(reg, PaymentIntentTotal)
		PaymentWebhookTotal = register(reg, PaymentWebhookTotal)
		DownstreamDeliveryTotal = register(reg, DownstreamDeliveryTotal)
		DownstreamDeliveryLatency = register(reg, DownstreamDeliveryLatency)
		FallbackWritesTotal = register(reg, FallbackWritesTotal)
		AdminAlertsTotal = register(reg, AdminAlertsTotal)
		RateLookupTotal = register(reg, RateLookupTotal)
	})
}

// Outcome maps an error to the "ok"/"error" result label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
