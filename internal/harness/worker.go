package harness

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OpKind selects the instrumented operation a worker performs on
// every loop iteration.
type OpKind int

const (
	// OpNone runs no worker pool at all (snapshot/sync-only runs).
	OpNone OpKind = iota
	// OpChmod rotates permission modes on a fixed target file.
	OpChmod
	// OpCreate creates uniquely-named empty files in the volume.
	OpCreate
)

func (k OpKind) String() string {
	switch k {
	case OpChmod:
		return "chmod"
	case OpCreate:
		return "create"
	default:
		return "none"
	}
}

// chmodModes is the rotating set of permission modes applied by
// chmod workers: setuid, setgid, sticky, then rwx for user, group
// and other, one bit per operation.
var chmodModes = [...]os.FileMode{
	os.ModeSetuid, os.ModeSetgid, os.ModeSticky,
	0o400, 0o200, 0o100,
	0o040, 0o020, 0o010,
	0o004, 0o002, 0o001,
}

// Recorder receives run-level observations from workers and the
// controller. Implementations must be safe for concurrent use; the
// telemetry package provides a Prometheus-backed one.
type Recorder interface {
	IncOps(kind OpKind)
	IncWorkerFailure()
	IncSnapshotCycle()
	IncSyncCycle()
	SetPhase(p Phase)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) IncOps(OpKind)     {}
func (NopRecorder) IncWorkerFailure() {}
func (NopRecorder) IncSnapshotCycle() {}
func (NopRecorder) IncSyncCycle()     {}
func (NopRecorder) SetPhase(Phase)    {}

// Worker repeatedly performs one instrumented filesystem operation,
// samples the lifecycle phase immediately before and after, and
// records the latency into its own histogram.
//
// The histogram is owned exclusively by the worker until Run
// returns; the aggregator reads it only after the controller has
// joined all workers.
type Worker struct {
	id     int
	kind   OpKind
	dir    string
	target string

	signal  *PhaseSignal
	version *VersionCounter
	stop    *StopFlag
	rec     Recorder
	log     *zap.Logger

	hist *Histogram
	ops  uint64
}

// NewWorker builds a worker. dir is the volume directory (used by
// create workers), target the chmod target path. All shared state is
// handed over at construction.
func NewWorker(id int, kind OpKind, dir, target string, signal *PhaseSignal, version *VersionCounter, stop *StopFlag, rec Recorder, log *zap.Logger) *Worker {
	return &Worker{
		id:      id,
		kind:    kind,
		dir:     dir,
		target:  target,
		signal:  signal,
		version: version,
		stop:    stop,
		rec:     rec,
		log:     log.With(zap.Int("worker", id), zap.Stringer("op", kind)),
		hist:    NewHistogram(),
	}
}

// Histogram returns the worker's histogram. Callers must not touch
// it until the worker has been joined.
func (w *Worker) Histogram() *Histogram { return w.hist }

// Ops returns the number of successfully completed operations. Only
// meaningful after the worker has been joined.
func (w *Worker) Ops() uint64 { return w.ops }

// ID returns the worker's index within the pool.
func (w *Worker) ID() int { return w.id }

// Run executes the instrumented loop until the stop flag is set or
// an operation fails. A failed operation ends only this worker: it
// is logged, not recorded, and does not touch the global stop flag.
func (w *Worker) Run() {
	var i int
	for {
		startPhase := w.signal.Sample()
		startVersion := w.version.Current()
		start := time.Now()

		if err := w.perform(i); err != nil {
			w.log.Error("instrumented operation failed, worker exiting",
				zap.Uint64("completed", w.ops), zap.Error(err))
			w.rec.IncWorkerFailure()
			return
		}

		latency := time.Since(start).Microseconds()
		endPhase := w.signal.Sample()
		endVersion := w.version.Current()
		if latency < 0 {
			latency = 0
		}

		if endVersion > startVersion {
			w.log.Debug("operation spanned a snapshot commit",
				zap.Stringer("start_phase", startPhase),
				zap.Stringer("end_phase", endPhase),
				zap.Uint64("start_version", startVersion),
				zap.Uint64("end_version", endVersion))
		}

		w.hist.Record(uint64(latency), startPhase, endPhase)
		w.ops++
		w.rec.IncOps(w.kind)
		i++

		if w.stop.Stopped() {
			break
		}
	}
	w.log.Info("worker finished", zap.Uint64("ops", w.ops))
}

func (w *Worker) perform(i int) error {
	switch w.kind {
	case OpChmod:
		return os.Chmod(w.target, chmodModes[i%len(chmodModes)])
	case OpCreate:
		name := filepath.Join(w.dir, "snaplat-"+uuid.NewString())
		f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		return f.Close()
	default:
		return os.ErrInvalid
	}
}
