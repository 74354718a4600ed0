// Package metrics holds the Prometheus collectors for the lifecycle service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics groups every collector the service and ledger adapters update.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	LedgerCalls     *prometheus.CounterVec
	LedgerLatency   *prometheus.HistogramVec
	Structural      *prometheus.CounterVec
	PublishFailures prometheus.Counter
	BestEffortFails *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg yields unregistered
// collectors, which is what most tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipts_transitions_total",
				Help: "Receipt status transitions committed, by origin, event and target status",
			},
			[]string{"from", "event", "to"},
		),
		LedgerCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipts_ledger_calls_total",
				Help: "Ledger client calls, by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		LedgerLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "receipts_ledger_call_duration_seconds",
				Help:    "Ledger client call latency",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"op"},
		),
		Structural: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipts_structural_operations_total",
				Help: "Structural operations executed, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		PublishFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "receipts_event_publish_errors_total",
				Help: "Status-change events that could not be published",
			},
		),
		BestEffortFails: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipts_best_effort_failures_total",
				Help: "Best-effort ledger calls that failed without blocking the operation",
			},
			[]string{"op"},
		),
	}
}

// ObserveTransition counts one committed transition.
func (m *Metrics) ObserveTransition(from, event, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, event, to).Inc()
}

// ObserveLedgerCall records the outcome and latency of one ledger call.
func (m *Metrics) ObserveLedgerCall(op string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.LedgerCalls.WithLabelValues(op, outcome(ok)).Inc()
	m.LedgerLatency.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveStructural counts one structural execution.
func (m *Metrics) ObserveStructural(kind string, ok bool) {
	if m == nil {
		return
	}
	m.Structural.WithLabelValues(kind, outcome(ok)).Inc()
}

// ObserveBestEffortFailure counts a swallowed best-effort failure.
func (m *Metrics) ObserveBestEffortFailure(op string) {
	if m == nil {
		return
	}
	m.BestEffortFails.WithLabelValues(op).Inc()
}

// ObservePublishFailure counts events that were not delivered.
func (m *Metrics) ObservePublishFailure(n int) {
	if m == nil {
		return
	}
	m.PublishFailures.Add(float64(n))
}

func outcome(ok bool) string {
	if ok {
		return OutcomeOK
	}
	return OutcomeError
}
