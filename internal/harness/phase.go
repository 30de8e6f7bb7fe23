// Package harness implements the snapshot latency measurement engine:
// the lifecycle phase signal shared between the controller and the
// worker pool, the per-worker transition histograms, and the
// controller loop that drives snapshot and sync cycles.
package harness

import "sync/atomic"

// Phase is the current stage of an in-progress snapshot or sync
// cycle, as published by the controller.
//
// A full snapshot cycle moves strictly through
// Idle → CreateIssued → WaitBegin → WaitEnd → DestroyBegin →
// DestroyEnd and back to Idle at the top of the next iteration. Sync
// cycles use the independent SyncBegin/SyncEnd pair instead. Workers
// sampling the signal concurrently may observe any value at any
// instant; a short phase can be missed entirely.
type Phase int32

const (
	// PhaseIdle indicates no snapshot or sync operation is in flight.
	PhaseIdle Phase = iota
	// PhaseCreateIssued indicates the async snapshot create has been issued.
	PhaseCreateIssued
	// PhaseWaitBegin indicates the wait-for-commit call has started.
	PhaseWaitBegin
	// PhaseWaitEnd indicates the snapshot transaction has committed.
	PhaseWaitEnd
	// PhaseDestroyBegin indicates the snapshot destroy call has started.
	PhaseDestroyBegin
	// PhaseDestroyEnd indicates the snapshot destroy call has returned.
	PhaseDestroyEnd
	// PhaseSyncBegin indicates a volume sync call has started.
	PhaseSyncBegin
	// PhaseSyncEnd indicates a volume sync call has returned.
	PhaseSyncEnd

	numPhases
)

// NumPhases is the number of distinct lifecycle phases. Histograms
// are dimensioned by it and it never changes at runtime.
const NumPhases = int(numPhases)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseCreateIssued:
		return "CreateIssued"
	case PhaseWaitBegin:
		return "WaitBegin"
	case PhaseWaitEnd:
		return "WaitEnd"
	case PhaseDestroyBegin:
		return "DestroyBegin"
	case PhaseDestroyEnd:
		return "DestroyEnd"
	case PhaseSyncBegin:
		return "SyncBegin"
	case PhaseSyncEnd:
		return "SyncEnd"
	default:
		return "unknown"
	}
}

// PhaseSignal is the lock-free lifecycle signal shared between the
// single controller (writer) and all workers (readers).
//
// Publish and Sample are a plain atomic store/load pair. No ordering
// is guaranteed between a worker's sample and anything else the
// controller does concurrently; atomicity of the whole value is the
// entire contract. The zero value is ready to use and reads as
// PhaseIdle.
type PhaseSignal struct {
	v atomic.Int32
}

// Publish makes p visible to all workers. Controller-only.
func (s *PhaseSignal) Publish(p Phase) {
	s.v.Store(int32(p))
}

// Sample returns some phase that was published at or before the
// call. Safe from any goroutine at any time.
func (s *PhaseSignal) Sample() Phase {
	return Phase(s.v.Load())
}

// StopFlag is the cooperative shutdown flag. It is set by the
// controller on provider failure or run completion, and by the
// interrupt handler on an operator-requested stop. Workers and the
// controller check it at the top of their loops; nothing is ever
// forcibly terminated.
type StopFlag struct {
	v atomic.Bool
}

// Set requests a cooperative stop. Idempotent.
func (f *StopFlag) Set() {
	f.v.Store(true)
}

// Stopped reports whether a stop has been requested.
func (f *StopFlag) Stopped() bool {
	return f.v.Load()
}

// VersionCounter counts committed snapshot cycles. The controller
// bumps it once per commit; workers read it around each instrumented
// operation as a correlation aid for operations that spanned a
// commit. Sync cycles do not bump it.
type VersionCounter struct {
	v atomic.Uint64
}

// Bump increments the counter. Controller-only.
func (c *VersionCounter) Bump() {
	c.v.Add(1)
}

// Current returns the number of commits observed so far.
func (c *VersionCounter) Current() uint64 {
	return c.v.Load()
}
