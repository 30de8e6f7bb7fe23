package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapqa/snaplat/internal/provider"
)

// cycleLogLimit bounds the per-cycle timing log so an unbounded run
// cannot grow memory; only the most recent cycles are kept.
const cycleLogLimit = 64

// Config is the immutable run configuration consumed by the
// controller. It is fully populated before Run starts and never
// mutated afterwards.
type Config struct {
	// Dir is the volume directory workers operate in.
	Dir string
	// Target is the chmod target file (OpChmod workers only).
	Target string

	// Workers is the worker pool size; 0 runs without a pool.
	Workers int
	// Op is the instrumented operation each worker performs.
	Op OpKind

	// Snapshot enables the full snapshot cycle per iteration.
	Snapshot bool
	// Sync enables the sync cycle per iteration. Ignored when
	// Snapshot is set; the validator rejects the combination.
	Sync bool

	// Runtime bounds the run; 0 means run until externally stopped.
	Runtime time.Duration
	// Delay is slept before starting a new cycle.
	Delay time.Duration
	// Hold is slept between snapshot commit and destroy.
	Hold time.Duration
}

// CycleTiming is one completed snapshot cycle's phase timestamps,
// expressed as seconds elapsed since run start.
type CycleTiming struct {
	Create       float64 `json:"create"`
	WaitBegin    float64 `json:"waitBegin"`
	WaitEnd      float64 `json:"waitEnd"`
	DestroyBegin float64 `json:"destroyBegin"`
	DestroyEnd   float64 `json:"destroyEnd"`
}

// WorkerResult pairs a joined worker's histogram with its completed
// operation count.
type WorkerResult struct {
	ID   int
	Ops  uint64
	Hist *Histogram
}

// Result is everything the aggregator needs, assembled strictly
// after all workers have been joined.
type Result struct {
	Workers        []WorkerResult
	SnapshotCycles uint64
	SyncCycles     uint64
	Elapsed        time.Duration
	Cycles         []CycleTiming
	// Err is the provider error that aborted the run, if any. The
	// report is produced either way.
	Err error
}

// Controller drives the top-level test loop: it spawns the worker
// pool, publishes lifecycle phase transitions while executing
// snapshot or sync cycles through the provider, enforces the runtime
// bound and the cooperative stop flag, and joins all workers before
// handing the histograms to the aggregator.
type Controller struct {
	cfg  Config
	prov provider.Provider
	rec  Recorder
	log  *zap.Logger

	signal  PhaseSignal
	version VersionCounter
	stop    StopFlag

	start          time.Time
	snapshotCycles uint64
	syncCycles     uint64
	cycles         []CycleTiming
}

// NewController validates the basic shape of cfg and returns a
// controller ready to Run.
func NewController(cfg Config, prov provider.Provider, rec Recorder, log *zap.Logger) (*Controller, error) {
	if cfg.Op != OpNone && cfg.Workers < 1 {
		return nil, fmt.Errorf("worker operation %s configured with %d workers", cfg.Op, cfg.Workers)
	}
	if (cfg.Snapshot || cfg.Sync) && prov == nil {
		return nil, fmt.Errorf("snapshot/sync cycle configured without a provider")
	}
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Controller{cfg: cfg, prov: prov, rec: rec, log: log}, nil
}

// Stop requests a cooperative shutdown. Safe from any goroutine;
// this is the hook handed to the interrupt handler. A cycle already
// in progress runs to its natural completion or failure point.
func (c *Controller) Stop() {
	c.stop.Set()
}

// publish makes p visible to the workers and mirrors it into the
// recorder.
func (c *Controller) publish(p Phase) {
	c.signal.Publish(p)
	c.rec.SetPhase(p)
}

func (c *Controller) elapsed() float64 {
	return time.Since(c.start).Seconds()
}

// Run executes the full test: spawn, loop, join. It always joins the
// workers and always returns a Result usable for reporting; a
// provider failure is carried in Result.Err (and returned) after the
// orderly shutdown completes.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	c.start = time.Now()

	workers := make([]*Worker, 0, c.cfg.Workers)
	var wg sync.WaitGroup
	if c.cfg.Op != OpNone {
		for i := 0; i < c.cfg.Workers; i++ {
			w := NewWorker(i, c.cfg.Op, c.cfg.Dir, c.cfg.Target,
				&c.signal, &c.version, &c.stop, c.rec, c.log)
			workers = append(workers, w)
		}
		for _, w := range workers {
			wg.Add(1)
			go func(w *Worker) {
				defer wg.Done()
				w.Run()
			}(w)
		}
		c.log.Info("worker pool started",
			zap.Int("workers", len(workers)), zap.Stringer("op", c.cfg.Op))
	}

	runErr := c.loop(ctx)

	// Join is the synchronization boundary that makes reading the
	// worker histograms safe.
	c.stop.Set()
	wg.Wait()

	res := &Result{
		Workers:        make([]WorkerResult, 0, len(workers)),
		SnapshotCycles: c.snapshotCycles,
		SyncCycles:     c.syncCycles,
		Elapsed:        time.Since(c.start),
		Cycles:         c.cycles,
		Err:            runErr,
	}
	for _, w := range workers {
		res.Workers = append(res.Workers, WorkerResult{ID: w.ID(), Ops: w.Ops(), Hist: w.Histogram()})
	}
	return res, runErr
}

func (c *Controller) loop(ctx context.Context) error {
	for !c.stop.Stopped() {
		if c.cfg.Runtime > 0 && time.Since(c.start) >= c.cfg.Runtime {
			break
		}

		c.publish(PhaseIdle)

		if c.cfg.Delay > 0 {
			time.Sleep(c.cfg.Delay)
		}

		switch {
		case c.cfg.Snapshot:
			if err := c.snapshotCycle(ctx); err != nil {
				c.stop.Set()
				c.log.Error("aborting run on snapshot cycle failure", zap.Error(err))
				return err
			}
			c.snapshotCycles++
			c.rec.IncSnapshotCycle()
		case c.cfg.Sync:
			if err := c.syncCycle(ctx); err != nil {
				c.stop.Set()
				c.log.Error("aborting run on sync failure", zap.Error(err))
				return err
			}
			c.syncCycles++
			c.rec.IncSyncCycle()
		default:
			// Worker-only run: the controller has nothing to drive
			// between loop-top checks.
			if c.cfg.Delay == 0 {
				time.Sleep(10 * time.Millisecond)
			}
		}
	}
	c.log.Info("controller loop finished",
		zap.Uint64("snapshot_cycles", c.snapshotCycles),
		zap.Uint64("sync_cycles", c.syncCycles))
	return nil
}

// snapshotCycle runs one full create → wait → hold → destroy pass,
// publishing each transition as it happens. The in-flight ioctl is
// never interrupted; a stop request takes effect at the next loop
// top.
func (c *Controller) snapshotCycle(ctx context.Context) error {
	var t CycleTiming

	c.publish(PhaseCreateIssued)
	t.Create = c.elapsed()
	transID, err := c.prov.CreateAsync(ctx)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}

	c.publish(PhaseWaitBegin)
	t.WaitBegin = c.elapsed()
	if err := c.prov.WaitCommit(ctx, transID); err != nil {
		return fmt.Errorf("waiting for snapshot commit: %w", err)
	}
	c.publish(PhaseWaitEnd)
	t.WaitEnd = c.elapsed()
	c.version.Bump()

	if c.cfg.Hold > 0 {
		time.Sleep(c.cfg.Hold)
	}

	c.publish(PhaseDestroyBegin)
	t.DestroyBegin = c.elapsed()
	if err := c.prov.Destroy(ctx); err != nil {
		return fmt.Errorf("destroying snapshot: %w", err)
	}
	c.publish(PhaseDestroyEnd)
	t.DestroyEnd = c.elapsed()

	if len(c.cycles) == cycleLogLimit {
		copy(c.cycles, c.cycles[1:])
		c.cycles = c.cycles[:cycleLogLimit-1]
	}
	c.cycles = append(c.cycles, t)
	return nil
}

func (c *Controller) syncCycle(ctx context.Context) error {
	c.publish(PhaseSyncBegin)
	if err := c.prov.Sync(ctx); err != nil {
		return fmt.Errorf("syncing volume: %w", err)
	}
	c.publish(PhaseSyncEnd)
	return nil
}
