package harness

import (
	"math"
	"strconv"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// BucketBounds is the shared latency bucket ladder, in microseconds.
// Bounds are exclusive upper limits: a latency L belongs to the first
// bucket whose bound strictly exceeds L. The final entry is the
// unbounded catch-all sentinel. The ladder is identical for every
// worker and never changes at runtime.
var BucketBounds = [...]uint64{
	100,
	250,
	500,
	1_000,
	2_500,
	5_000,
	10_000,
	25_000,
	50_000,
	100_000,
	250_000,
	500_000,
	1_000_000,
	math.MaxUint64,
}

// NumBuckets is the number of entries in the bucket ladder.
const NumBuckets = len(BucketBounds)

// Range limits for the companion HDR histogram: 1µs to 60s at three
// significant figures.
const (
	hdrMinMicros   = 1
	hdrMaxMicros   = 60_000_000
	hdrSignificant = 3
)

// BucketIndex returns the ladder bucket for a latency in
// microseconds: the smallest i such that latency < BucketBounds[i].
// Latencies exactly equal to a bound roll into the next bucket. With
// the MaxUint64 sentinel the scan always terminates inside the
// ladder.
func BucketIndex(latencyMicros uint64) int {
	for i, bound := range BucketBounds {
		if latencyMicros < bound {
			return i
		}
	}
	return NumBuckets - 1
}

// BucketLabel returns the human-readable label for bucket i:
// "latency < B µs" for bounded buckets, "latency >= B µs" (previous
// bound) for the final unbounded one.
func BucketLabel(i int) string {
	if i == NumBuckets-1 {
		return "latency >= " + strconv.FormatUint(BucketBounds[NumBuckets-2], 10) + " µs"
	}
	return "latency < " + strconv.FormatUint(BucketBounds[i], 10) + " µs"
}

// Histogram is one worker's latency record: a fixed-shape counter
// cube indexed by (bucket, phase at operation start, phase at
// operation end), plus running min/max, a cumulative latency sum,
// and a companion HDR histogram for percentile reporting.
//
// A Histogram is owned exclusively by its worker for writes and has
// no concurrent readers; the aggregator reads it only after the
// worker has been joined.
type Histogram struct {
	cells [NumBuckets][NumPhases][NumPhases]uint64

	count uint64
	min   uint64
	max   uint64
	sum   uint64

	hdr *hdrhistogram.Histogram
}

// NewHistogram returns an empty histogram. The shape is fixed at
// construction and never resized.
func NewHistogram() *Histogram {
	return &Histogram{
		min: math.MaxUint64,
		hdr: hdrhistogram.New(hdrMinMicros, hdrMaxMicros, hdrSignificant),
	}
}

// Record counts one successfully completed operation. Latency is in
// microseconds; start and end are the phases sampled immediately
// before and after the operation.
func (h *Histogram) Record(latencyMicros uint64, start, end Phase) {
	h.cells[BucketIndex(latencyMicros)][start][end]++
	h.count++
	h.sum += latencyMicros
	if latencyMicros > h.max {
		h.max = latencyMicros
	}
	if latencyMicros < h.min {
		h.min = latencyMicros
	}
	// Out-of-range values are already counted in the ladder's
	// catch-all bucket; the HDR companion just saturates.
	if latencyMicros > hdrMaxMicros {
		latencyMicros = hdrMaxMicros
	}
	_ = h.hdr.RecordValue(int64(latencyMicros))
}

// Cell returns the count for (bucket, start phase, end phase).
func (h *Histogram) Cell(bucket int, start, end Phase) uint64 {
	return h.cells[bucket][start][end]
}

// Count returns the total number of recorded operations. It always
// equals the sum of all cells.
func (h *Histogram) Count() uint64 { return h.count }

// Min returns the smallest recorded latency in microseconds, or 0 if
// nothing was recorded.
func (h *Histogram) Min() uint64 {
	if h.count == 0 {
		return 0
	}
	return h.min
}

// Max returns the largest recorded latency in microseconds.
func (h *Histogram) Max() uint64 { return h.max }

// Sum returns the cumulative latency in microseconds.
func (h *Histogram) Sum() uint64 { return h.sum }

// HDR exposes the companion HDR histogram for percentile queries and
// post-join merging.
func (h *Histogram) HDR() *hdrhistogram.Histogram { return h.hdr }

// Merge adds other's counters into h. Only valid once neither
// histogram has a live writer, i.e. after both workers are joined.
func (h *Histogram) Merge(other *Histogram) {
	for b := 0; b < NumBuckets; b++ {
		for s := 0; s < NumPhases; s++ {
			for e := 0; e < NumPhases; e++ {
				h.cells[b][s][e] += other.cells[b][s][e]
			}
		}
	}
	h.count += other.count
	h.sum += other.sum
	if other.count > 0 {
		if other.max > h.max {
			h.max = other.max
		}
		if other.min < h.min {
			h.min = other.min
		}
	}
	h.hdr.Merge(other.hdr)
}
