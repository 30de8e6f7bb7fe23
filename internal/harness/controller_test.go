package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProvider simulates snapshot/sync calls with configurable
// per-call latency and failure injection.
type fakeProvider struct {
	callDelay time.Duration

	failCreate  bool
	failWait    bool
	failDestroy bool
	failSync    bool

	creates  atomic.Int64
	waits    atomic.Int64
	destroys atomic.Int64
	syncs    atomic.Int64
}

var errInjected = errors.New("injected provider failure")

func (f *fakeProvider) pause() {
	if f.callDelay > 0 {
		time.Sleep(f.callDelay)
	}
}

func (f *fakeProvider) CreateAsync(context.Context) (uint64, error) {
	f.creates.Add(1)
	f.pause()
	if f.failCreate {
		return 0, errInjected
	}
	return uint64(f.creates.Load()), nil
}

func (f *fakeProvider) WaitCommit(_ context.Context, transID uint64) error {
	f.waits.Add(1)
	f.pause()
	if f.failWait {
		return errInjected
	}
	return nil
}

func (f *fakeProvider) Destroy(context.Context) error {
	f.destroys.Add(1)
	f.pause()
	if f.failDestroy {
		return errInjected
	}
	return nil
}

func (f *fakeProvider) Sync(context.Context) error {
	f.syncs.Add(1)
	f.pause()
	if f.failSync {
		return errInjected
	}
	return nil
}

func testHarnessConfig(t *testing.T, op OpKind, workers int) Config {
	t.Helper()
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(target, nil, 0o777))
	return Config{
		Dir:     dir,
		Target:  target,
		Workers: workers,
		Op:      op,
	}
}

func TestControllerChmodOnly(t *testing.T) {
	// One worker, chmod enabled, bounded runtime, no snapshot/sync.
	cfg := testHarnessConfig(t, OpChmod, 1)
	cfg.Runtime = 300 * time.Millisecond

	ctl, err := NewController(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)

	res, err := ctl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(0), res.SnapshotCycles)
	assert.Equal(t, uint64(0), res.SyncCycles)
	require.Len(t, res.Workers, 1)
	assert.Greater(t, res.Workers[0].Hist.Count(), uint64(0))

	// No lifecycle was published away from idle.
	var idle uint64
	for b := 0; b < NumBuckets; b++ {
		idle += res.Workers[0].Hist.Cell(b, PhaseIdle, PhaseIdle)
	}
	assert.Equal(t, res.Workers[0].Hist.Count(), idle)
}

func TestControllerSnapshotCycle(t *testing.T) {
	cfg := testHarnessConfig(t, OpChmod, 1)
	cfg.Snapshot = true
	cfg.Runtime = 400 * time.Millisecond
	cfg.Hold = 20 * time.Millisecond

	prov := &fakeProvider{callDelay: 30 * time.Millisecond}
	ctl, err := NewController(cfg, prov, nil, zap.NewNop())
	require.NoError(t, err)

	res, err := ctl.Run(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.SnapshotCycles, uint64(1))
	assert.Equal(t, uint64(0), res.SyncCycles)
	assert.Equal(t, int64(res.SnapshotCycles), prov.destroys.Load())
	assert.Len(t, res.Cycles, int(res.SnapshotCycles))

	// With 30ms provider calls and microsecond chmods, plenty of
	// operations start inside a non-idle phase.
	hist := res.Workers[0].Hist
	var nonIdle uint64
	for b := 0; b < NumBuckets; b++ {
		for s := 1; s < NumPhases; s++ {
			for e := 0; e < NumPhases; e++ {
				nonIdle += hist.Cell(b, Phase(s), Phase(e))
			}
		}
	}
	assert.Greater(t, nonIdle, uint64(0), "expected operations observed during snapshot phases")

	// Cycle timings are monotonic within each cycle.
	for _, c := range res.Cycles {
		assert.LessOrEqual(t, c.Create, c.WaitBegin)
		assert.LessOrEqual(t, c.WaitBegin, c.WaitEnd)
		assert.LessOrEqual(t, c.WaitEnd, c.DestroyBegin)
		assert.LessOrEqual(t, c.DestroyBegin, c.DestroyEnd)
	}
}

func TestControllerSyncCycle(t *testing.T) {
	cfg := testHarnessConfig(t, OpCreate, 2)
	cfg.Sync = true
	cfg.Runtime = 200 * time.Millisecond

	prov := &fakeProvider{callDelay: 10 * time.Millisecond}
	ctl, err := NewController(cfg, prov, nil, zap.NewNop())
	require.NoError(t, err)

	res, err := ctl.Run(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.SyncCycles, uint64(1))
	assert.Equal(t, uint64(0), res.SnapshotCycles)
	assert.Equal(t, int64(res.SyncCycles), prov.syncs.Load())
}

func TestControllerAbortsOnProviderFailure(t *testing.T) {
	cfg := testHarnessConfig(t, OpChmod, 1)
	cfg.Snapshot = true
	cfg.Runtime = 10 * time.Second

	prov := &fakeProvider{failDestroy: true}
	ctl, err := NewController(cfg, prov, nil, zap.NewNop())
	require.NoError(t, err)

	start := time.Now()
	res, err := ctl.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	assert.Less(t, time.Since(start), 5*time.Second, "abort must not wait out the runtime bound")

	// The aborted cycle is never counted.
	assert.Equal(t, uint64(0), res.SnapshotCycles)
	assert.Empty(t, res.Cycles)
	// Workers were still joined and the report input is usable.
	require.Len(t, res.Workers, 1)
	assert.Equal(t, res.Workers[0].Ops, res.Workers[0].Hist.Count())
}

func TestControllerUnboundedRuntimeStopsOnExternalStop(t *testing.T) {
	cfg := testHarnessConfig(t, OpChmod, 1)
	// Runtime 0: the loop never self-terminates.

	ctl, err := NewController(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)

	done := make(chan *Result, 1)
	go func() {
		res, _ := ctl.Run(context.Background())
		done <- res
	}()

	time.Sleep(100 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("controller with runtime 0 terminated without an external stop")
	default:
	}

	ctl.Stop()
	select {
	case res := <-done:
		assert.Greater(t, res.Workers[0].Hist.Count(), uint64(0))
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop after Stop()")
	}
}

func TestControllerStopCutsLongRuntimeShort(t *testing.T) {
	// External stop 50ms into a 60s run terminates within one
	// operation plus join overhead, not at 60s.
	cfg := testHarnessConfig(t, OpChmod, 1)
	cfg.Runtime = 60 * time.Second

	ctl, err := NewController(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)

	start := time.Now()
	go func() {
		time.Sleep(50 * time.Millisecond)
		ctl.Stop()
	}()
	_, err = ctl.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestControllerMergeAcrossWorkers(t *testing.T) {
	// Aggregated histogram sum equals the sum of each worker's own
	// completed count.
	cfg := testHarnessConfig(t, OpCreate, 4)
	cfg.Runtime = 1 * time.Second

	ctl, err := NewController(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)

	res, err := ctl.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Workers, 4)

	merged := NewHistogram()
	var individual uint64
	for _, w := range res.Workers {
		merged.Merge(w.Hist)
		individual += w.Ops
		assert.Equal(t, w.Ops, w.Hist.Count())
	}
	assert.Equal(t, individual, merged.Count())
	assert.Greater(t, individual, uint64(0))
}

func TestNewControllerRejectsBadShape(t *testing.T) {
	_, err := NewController(Config{Op: OpChmod, Workers: 0}, nil, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewController(Config{Snapshot: true}, nil, nil, zap.NewNop())
	assert.Error(t, err)
}
