package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/snapqa/snaplat/internal/harness"
)

func TestMetricsImplementsRecorder(t *testing.T) {
	var _ harness.Recorder = New()
}

func TestMetricsCounters(t *testing.T) {
	m := New()

	m.IncOps(harness.OpChmod)
	m.IncOps(harness.OpChmod)
	m.IncOps(harness.OpCreate)
	m.IncWorkerFailure()
	m.IncSnapshotCycle()
	m.IncSyncCycle()
	m.SetPhase(harness.PhaseWaitBegin)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ops.WithLabelValues("chmod")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ops.WithLabelValues("create")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.workerFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.snapshotCycles))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.syncCycles))
	assert.Equal(t, float64(harness.PhaseWaitBegin), testutil.ToFloat64(m.phase))
}

func TestMetricsRegistryGathers(t *testing.T) {
	m := New()
	m.IncOps(harness.OpChmod)

	families, err := m.Registry().Gather()
	assert.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "snaplat_operations_total")
	assert.Contains(t, names, "snaplat_lifecycle_phase")
}
