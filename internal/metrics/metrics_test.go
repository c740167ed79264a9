package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_AllVariablesNonNil(t *testing.T) {
	t.Parallel()

	vars := []struct {
		name string
		val  any
	}{
		{"ScannerSelectsTotal", ScannerSelectsTotal},
		{"ScannerBatchesDispatched", ScannerBatchesDispatched},
		{"ScannerUnitsDispatched", ScannerUnitsDispatched},
		{"ScannerEnqueueWait", ScannerEnqueueWait},
		{"ScannerCursorPosition", ScannerCursorPosition},
		{"WorkerBatchesTotal", WorkerBatchesTotal},
		{"WorkerUnitsTotal", WorkerUnitsTotal},
		{"WorkerMergeLatency", WorkerMergeLatency},
		{"WorkerRetriesTotal", WorkerRetriesTotal},
		{"WorkerBreakerState", WorkerBreakerState},
		{"WorkerPayerExhausted", WorkerPayerExhausted},
		{"WriterTransitionsTotal", WriterTransitionsTotal},
		{"WriterUnitsTotal", WriterUnitsTotal},
		{"WriterErrors", WriterErrors},
		{"WriterLatency", WriterLatency},
		{"LedgerUnitsByStatus", LedgerUnitsByStatus},
		{"PipelineChannelDepth", PipelineChannelDepth},
		{"PipelinePassesTotal", PipelinePassesTotal},
		{"PipelinePassDuration", PipelinePassDuration},
		{"DBPoolOpen", DBPoolOpen},
		{"DBPoolInUse", DBPoolInUse},
		{"DBPoolIdle", DBPoolIdle},
		{"DBPoolWaitCount", DBPoolWaitCount},
		{"DBPoolWaitDurationSeconds", DBPoolWaitDurationSeconds},
		{"RPCRateLimitWaits", RPCRateLimitWaits},
		{"RPCCallsTotal", RPCCallsTotal},
		{"RPCThrottlesTotal", RPCThrottlesTotal},
		{"IngestRowsRead", IngestRowsRead},
		{"IngestRowsInserted", IngestRowsInserted},
		{"IngestRowsSkipped", IngestRowsSkipped},
		{"AlertsSentTotal", AlertsSentTotal},
		{"AlertsCooldownSkipped", AlertsCooldownSkipped},
	}

	for _, v := range vars {
		assert.NotNilf(t, v.val, "%s should not be nil", v.name)
	}
}

func TestMetrics_CounterIncrementNoPanic(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { ScannerSelectsTotal.WithLabelValues("test-network").Inc() })
	assert.NotPanics(t, func() { ScannerBatchesDispatched.WithLabelValues("test-network").Inc() })
	assert.NotPanics(t, func() { ScannerUnitsDispatched.WithLabelValues("test-network").Add(250) })
	assert.NotPanics(t, func() { WorkerBatchesTotal.WithLabelValues("test-network", "0", "merged").Inc() })
	assert.NotPanics(t, func() { WorkerUnitsTotal.WithLabelValues("test-network", "0", "failed").Add(3) })
	assert.NotPanics(t, func() { WorkerRetriesTotal.WithLabelValues("test-network", "0").Inc() })
	assert.NotPanics(t, func() { WriterTransitionsTotal.WithLabelValues("test-network", "merged").Inc() })
	assert.NotPanics(t, func() { WriterErrors.WithLabelValues("test-network").Inc() })
	assert.NotPanics(t, func() { PipelinePassesTotal.WithLabelValues("test-network", "ok").Inc() })
	assert.NotPanics(t, func() { IngestRowsSkipped.WithLabelValues("csv", "payer").Inc() })
	assert.NotPanics(t, func() { RPCCallsTotal.WithLabelValues("sui", "suix_getCoins", "ok").Inc() })
}

func TestMetrics_HistogramObserveNoPanic(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { ScannerEnqueueWait.WithLabelValues("test-network").Observe(0.5) })
	assert.NotPanics(t, func() { WorkerMergeLatency.WithLabelValues("test-network", "1").Observe(1.5) })
	assert.NotPanics(t, func() { WriterLatency.WithLabelValues("test-network").Observe(0.01) })
	assert.NotPanics(t, func() { PipelinePassDuration.WithLabelValues("test-network").Observe(42) })
}

func TestMetrics_GaugeSetNoPanic(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { ScannerCursorPosition.WithLabelValues("test-network").Set(1001) })
	assert.NotPanics(t, func() { WorkerBreakerState.WithLabelValues("test-network", "0").Set(1) })
	assert.NotPanics(t, func() { WorkerPayerExhausted.WithLabelValues("test-network", "0").Set(1) })
	assert.NotPanics(t, func() { LedgerUnitsByStatus.WithLabelValues("test-network", "pending").Set(7) })
	assert.NotPanics(t, func() { PipelineChannelDepth.WithLabelValues("test-network", "results").Set(42.0) })
	assert.NotPanics(t, func() { DBPoolOpen.WithLabelValues("sqlite").Set(1) })
	assert.NotPanics(t, func() { DBPoolInUse.WithLabelValues("sqlite").Set(1) })
	assert.NotPanics(t, func() { DBPoolIdle.WithLabelValues("sqlite").Set(0) })
	assert.NotPanics(t, func() { DBPoolWaitCount.WithLabelValues("sqlite").Set(3) })
	assert.NotPanics(t, func() { DBPoolWaitDurationSeconds.WithLabelValues("sqlite").Set(0.2) })
}

func TestMetrics_GaugeValue(t *testing.T) {
	t.Parallel()

	g := LedgerUnitsByStatus.WithLabelValues("gauge-value-test", "merged")
	g.Set(1001)
	assert.Equal(t, 1001.0, testutil.ToFloat64(g))
}
