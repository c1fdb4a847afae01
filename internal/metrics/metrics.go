package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for reconciliation runs.
type Metrics struct {
	identifiers   prometheus.Counter
	lookups       *prometheus.CounterVec
	rateRetries   *prometheus.CounterVec
	rateExhausted *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	alertsSent    prometheus.Counter
	alertsDropped prometheus.Counter
	errors        prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = New(prometheus.DefaultRegisterer)
	})
	return metrics
}

// New registers a fresh set of collectors on reg. Tests pass their own registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		identifiers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otc_reconciler_identifiers_processed_total",
			Help: "Total number of transaction identifiers reconciled",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otc_reconciler_lookups_total",
			Help: "Explorer lookups by network and result (found, not_found, error)",
		}, []string{"network", "result"}),
		rateRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otc_reconciler_rate_limit_retries_total",
			Help: "HTTP 429 answers that triggered a cooldown retry",
		}, []string{"host"}),
		rateExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otc_reconciler_rate_limit_exhausted_total",
			Help: "Lookups that failed because throttling outlasted the retries",
		}, []string{"network"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otc_reconciler_outcomes_total",
			Help: "Reconciliation outcomes by classification",
		}, []string{"classification"}),
		alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otc_reconciler_alerts_sent_total",
			Help: "Total number of alerts sent to sinks",
		}),
		alertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otc_reconciler_alerts_dropped_total",
			Help: "Total number of alerts dropped by dedupe",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otc_reconciler_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
	reg.MustRegister(
		m.identifiers,
		m.lookups,
		m.rateRetries,
		m.rateExhausted,
		m.outcomes,
		m.alertsSent,
		m.alertsDropped,
		m.errors,
	)
	return m
}

// IdentifierProcessed increments the identifiers counter.
func (m *Metrics) IdentifierProcessed() {
	if m != nil {
		m.identifiers.Inc()
	}
}

// Lookup counts one explorer lookup.
func (m *Metrics) Lookup(network, result string) {
	if m != nil {
		m.lookups.WithLabelValues(network, result).Inc()
	}
}

// RateLimitRetry counts one cooldown retry against host.
func (m *Metrics) RateLimitRetry(host string) {
	if m != nil {
		m.rateRetries.WithLabelValues(host).Inc()
	}
}

// RateLimited counts a lookup lost to throttling.
func (m *Metrics) RateLimited(network string) {
	if m != nil {
		m.rateExhausted.WithLabelValues(network).Inc()
	}
}

// Outcome counts one classified group.
func (m *Metrics) Outcome(classification string) {
	if m != nil {
		m.outcomes.WithLabelValues(classification).Inc()
	}
}

// AlertsSent increments the alerts sent counter.
func (m *Metrics) AlertsSent() {
	if m != nil {
		m.alertsSent.Inc()
	}
}

// AlertsDropped increments the alerts dropped counter.
func (m *Metrics) AlertsDropped() {
	if m != nil {
		m.alertsDropped.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
