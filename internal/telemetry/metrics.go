// Package telemetry exposes live run counters over Prometheus for
// long-running stress sessions. It is optional; the harness accepts
// any Recorder and defaults to a no-op.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/snapqa/snaplat/internal/harness"
)

// Metrics implements harness.Recorder on a private Prometheus
// registry and can serve it over HTTP at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	ops            *prometheus.CounterVec
	workerFailures prometheus.Counter
	snapshotCycles prometheus.Counter
	syncCycles     prometheus.Counter
	phase          prometheus.Gauge

	server *http.Server
}

// New builds the registry and instruments.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snaplat",
			Name:      "operations_total",
			Help:      "Instrumented filesystem operations completed, by kind.",
		}, []string{"kind"}),
		workerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snaplat",
			Name:      "worker_failures_total",
			Help:      "Workers that exited after a failed operation.",
		}),
		snapshotCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snaplat",
			Name:      "snapshot_cycles_total",
			Help:      "Fully completed snapshot cycles.",
		}),
		syncCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snaplat",
			Name:      "sync_cycles_total",
			Help:      "Fully completed sync cycles.",
		}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "snaplat",
			Name:      "lifecycle_phase",
			Help:      "Current lifecycle phase as published by the controller.",
		}),
	}
	m.registry.MustRegister(m.ops, m.workerFailures, m.snapshotCycles, m.syncCycles, m.phase)
	return m
}

func (m *Metrics) IncOps(kind harness.OpKind) {
	m.ops.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) IncWorkerFailure() { m.workerFailures.Inc() }
func (m *Metrics) IncSnapshotCycle() { m.snapshotCycles.Inc() }
func (m *Metrics) IncSyncCycle() { m.syncCycles.Inc() }

func (m *Metrics) SetPhase(p harness.Phase) {
	m.phase.Set(float64(p))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Serve starts the /metrics listener in the background. Errors after
// startup are logged, not fatal; the run does not depend on the
// listener.
func (m *Metrics) Serve(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info("metrics listener started", zap.String("addr", addr))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
}

// Shutdown stops the listener, if one was started.
func (m *Metrics) Shutdown() {
	if m.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = m.server.Shutdown(ctx)
}
