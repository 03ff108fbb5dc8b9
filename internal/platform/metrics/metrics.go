package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	LoginsTotal        *prometheus.CounterVec
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyDuration      prometheus.Histogram
	BreakerTransitions *prometheus.CounterVec
	SessionRefreshes   *prometheus.CounterVec
	StoreDegraded      prometheus.Gauge
}

// New creates all gateway metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoginsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_logins_total",
			Help: "Upstream login attempts by outcome.",
		}, []string{"outcome"}),
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_proxy_requests_total",
			Help: "Proxied requests by upstream status class.",
		}, []string{"status_class"}),
		ProxyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_proxy_duration_seconds",
			Help:    "Latency of forwarded upstream calls.",
			Buckets: prometheus.DefBuckets,
		}),
		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_breaker_transitions_total",
			Help: "Circuit breaker transitions by dependency and direction.",
		}, []string{"dependency", "transition"}),
		SessionRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_identity_refreshes_total",
			Help: "Identity session refresh attempts by outcome.",
		}, []string{"outcome"}),
		StoreDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_session_store_degraded",
			Help: "1 when the local fallback session store is in use.",
		}),
	}
}
