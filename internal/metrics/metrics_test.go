package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTransition("DRAFT", "approve", "PENDING_ONCHAIN")
	m.ObserveTransition("DRAFT", "approve", "PENDING_ONCHAIN")
	m.ObserveStructural("SPLIT", true)
	m.ObserveStructural("SPLIT", false)
	m.ObserveBestEffortFailure("submit_cancel")
	m.ObservePublishFailure(3)
	m.ObserveLedgerCall("submit_create", true, 20*time.Millisecond)
	m.ObserveLedgerCall("submit_create", false, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("DRAFT", "approve", "PENDING_ONCHAIN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Structural.WithLabelValues("SPLIT", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Structural.WithLabelValues("SPLIT", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BestEffortFails.WithLabelValues("submit_cancel")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PublishFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerCalls.WithLabelValues("submit_create", OutcomeError)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LedgerLatency))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "receipts_transitions_total")
	assert.Contains(t, names, "receipts_event_publish_errors_total")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("a", "b", "c")
		m.ObserveStructural("MERGE", true)
		m.ObserveBestEffortFailure("x")
		m.ObservePublishFailure(1)
		m.ObserveLedgerCall("x", true, time.Millisecond)
	})
}
