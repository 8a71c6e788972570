// Package metrics exposes Prometheus instrumentation for the admission
// layer: admission outcomes, auth failures, token issuance, and live gauges
// over the rate-limit store size.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors. Construct once at startup with
// New and share the instance; a nil *Metrics is safe to call and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	admissions   *prometheus.CounterVec
	authFailures *prometheus.CounterVec
	tokensIssued prometheus.Counter
}

// New creates and registers all collectors on a private registry. The size
// functions are sampled at scrape time so the gauges never go stale.
func New(entrySize, ipSize func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.admissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pressgate",
		Subsystem: "ratelimit",
		Name:      "admissions_total",
		Help:      "Admission check outcomes by result and window",
	}, []string{"outcome", "window"})
	reg.MustRegister(m.admissions)

	m.authFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pressgate",
		Subsystem: "auth",
		Name:      "failures_total",
		Help:      "Authentication failures by reason",
	}, []string{"reason"})
	reg.MustRegister(m.authFailures)

	m.tokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pressgate",
		Subsystem: "auth",
		Name:      "tokens_issued_total",
		Help:      "Access tokens minted by the token endpoint",
	})
	reg.MustRegister(m.tokensIssued)

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "pressgate",
		Subsystem: "ratelimit",
		Name:      "entries",
		Help:      "Tracked rate-limit key entries",
	}, func() float64 { return float64(entrySize()) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "pressgate",
		Subsystem: "ratelimit",
		Name:      "ip_buckets",
		Help:      "Tracked pre-authentication IP buckets",
	}, func() float64 { return float64(ipSize()) }))

	return m
}

// RecordAdmission counts one admission check. window is empty for allowed
// requests.
func (m *Metrics) RecordAdmission(allowed bool, window string) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.admissions.WithLabelValues(outcome, window).Inc()
}

// RecordAuthFailure counts a failed authentication by reason:
// "invalid_request", "invalid_token", "insufficient_scope".
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// RecordTokenIssued counts a successful token mint.
func (m *Metrics) RecordTokenIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

// Handler serves the metrics in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
