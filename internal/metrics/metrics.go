package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Payment link issuance, by outcome (reused, created, unavailable, not_configured)
	PaymentLinksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_links_total",
			Help: "Total number of payment link requests by outcome",
		},
		[]string{"outcome"},
	)

	// Verification attempts, by outcome
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Total number of payment verifications by outcome",
		},
		[]string{"outcome"},
	)

	// Join requests, by gate decision
	JoinRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "join_requests_total",
			Help: "Total number of chat join requests by decision",
		},
		[]string{"decision"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_provider_request_duration_seconds",
			Help:    "Duration of payment provider API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_subscriptions",
			Help: "Number of subscriptions active at the last scheduler report",
		},
	)
)

// InitMetrics registers all collectors with the default registry. Call once.
func InitMetrics() {
	prometheus.MustRegister(PaymentLinksTotal)
	prometheus.MustRegister(VerificationsTotal)
	prometheus.MustRegister(JoinRequestsTotal)
	prometheus.MustRegister(ProviderRequestDuration)
	prometheus.MustRegister(ActiveSubscriptions)
}
