// Package metrics defines the prometheus collectors exported by both binaries.
// Every method is safe on a nil *Metrics so components can run uninstrumented.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	assertions      *prometheus.CounterVec
	keySetRequests  *prometheus.CounterVec
	corsRejects     *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	logins          *prometheus.CounterVec
	gateAttempts    *prometheus.CounterVec
	gateInFlight    prometheus.Gauge
	identityLatency *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		assertions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partner_assertions_total",
			Help:      "Partner assertion issuance attempts, by result.",
		}, []string{"result"}),
		keySetRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_requests_total",
			Help:      "JWKS requests, by result.",
		}, []string{"result"}),
		corsRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cors_rejects_total",
			Help:      "Requests rejected because of their Origin, by route.",
		}, []string{"route"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests answered 429, by route.",
		}, []string{"route"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_logins_total",
			Help:      "Login attempts, by result.",
		}, []string{"result"}),
		gateAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_attempts_total",
			Help:      "Resource gate attempts, by credential type and outcome.",
		}, []string{"credential", "outcome"}),
		gateInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_verifications_in_flight",
			Help:      "Credential verifications currently pending.",
		}),
		identityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "identity_call_duration_seconds",
			Help:      "Latency of identity service calls, by operation.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
	}
	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.assertions,
		m.keySetRequests,
		m.corsRejects,
		m.rateLimited,
		m.logins,
		m.gateAttempts,
		m.gateInFlight,
		m.identityLatency,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) AssertionIssued(result string) {
	if m == nil {
		return
	}
	m.assertions.WithLabelValues(result).Inc()
}

func (m *Metrics) KeySetServed(result string) {
	if m == nil {
		return
	}
	m.keySetRequests.WithLabelValues(result).Inc()
}

// CORSRejected counts a rejected origin against route. The origin itself is
// client-chosen and is not recorded.
func (m *Metrics) CORSRejected(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.corsRejects.WithLabelValues(route).Inc()
}

func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) GateStarted() {
	if m == nil {
		return
	}
	m.gateInFlight.Inc()
}

func (m *Metrics) GateFinished(credential, outcome string) {
	if m == nil {
		return
	}
	m.gateInFlight.Dec()
	m.gateAttempts.WithLabelValues(credential, outcome).Inc()
}

func (m *Metrics) IdentityCall(op string, seconds float64) {
	if m == nil {
		return
	}
	m.identityLatency.WithLabelValues(op).Observe(seconds)
}
