// Package report aggregates the per-worker histograms after the run
// and renders them as a verbose transition table, a plot-friendly
// bucket stream, or a JSON document.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/snapqa/snaplat/internal/harness"
)

// Transition is an aggregated count for one (start phase, end phase)
// pair within a bucket.
type Transition struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Count uint64 `json:"count"`
}

// Bucket is one ladder bucket's aggregated view.
type Bucket struct {
	// Bound is the exclusive upper bound in microseconds. For the
	// final bucket it is the previous bound and Unbounded is set.
	Bound       uint64       `json:"bound"`
	Unbounded   bool         `json:"unbounded,omitempty"`
	Label       string       `json:"label"`
	Total       uint64       `json:"total"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// WorkerSummary is one worker's contribution.
type WorkerSummary struct {
	ID  int    `json:"id"`
	Ops uint64 `json:"ops"`
}

// Percentiles are taken from the merged HDR companion histogram.
type Percentiles struct {
	P50 int64 `json:"p50Micros"`
	P90 int64 `json:"p90Micros"`
	P99 int64 `json:"p99Micros"`
}

// Summary is the merged, render-ready view of a finished run.
type Summary struct {
	TotalOps       uint64                `json:"totalOps"`
	SnapshotCycles uint64                `json:"snapshotCycles"`
	SyncCycles     uint64                `json:"syncCycles"`
	ElapsedSeconds float64               `json:"elapsedSeconds"`
	MinMicros      uint64                `json:"minMicros"`
	MaxMicros      uint64                `json:"maxMicros"`
	SumMicros      uint64                `json:"sumMicros"`
	Percentiles    Percentiles           `json:"percentiles"`
	Workers        []WorkerSummary       `json:"workers"`
	Buckets        []Bucket              `json:"buckets"`
	Cycles         []harness.CycleTiming `json:"cycles,omitempty"`
}

// Aggregate merges all worker histograms from a quiescent Result
// into a Summary. It must only be called after the controller has
// joined the workers; there are no concurrent writers left by then.
func Aggregate(res *harness.Result) *Summary {
	merged := harness.NewHistogram()
	s := &Summary{
		SnapshotCycles: res.SnapshotCycles,
		SyncCycles:     res.SyncCycles,
		ElapsedSeconds: res.Elapsed.Seconds(),
		Cycles:         res.Cycles,
	}
	for _, w := range res.Workers {
		merged.Merge(w.Hist)
		s.Workers = append(s.Workers, WorkerSummary{ID: w.ID, Ops: w.Ops})
	}

	s.TotalOps = merged.Count()
	s.MinMicros = merged.Min()
	s.MaxMicros = merged.Max()
	s.SumMicros = merged.Sum()
	s.Percentiles = Percentiles{
		P50: merged.HDR().ValueAtQuantile(50),
		P90: merged.HDR().ValueAtQuantile(90),
		P99: merged.HDR().ValueAtQuantile(99),
	}

	for b := 0; b < harness.NumBuckets; b++ {
		bucket := Bucket{Label: harness.BucketLabel(b)}
		if b == harness.NumBuckets-1 {
			bucket.Bound = harness.BucketBounds[harness.NumBuckets-2]
			bucket.Unbounded = true
		} else {
			bucket.Bound = harness.BucketBounds[b]
		}
		for sp := 0; sp < harness.NumPhases; sp++ {
			for ep := 0; ep < harness.NumPhases; ep++ {
				n := merged.Cell(b, harness.Phase(sp), harness.Phase(ep))
				if n == 0 {
					continue
				}
				bucket.Total += n
				bucket.Transitions = append(bucket.Transitions, Transition{
					Start: harness.Phase(sp).String(),
					End:   harness.Phase(ep).String(),
					Count: n,
				})
			}
		}
		s.Buckets = append(s.Buckets, bucket)
	}
	return s
}

// RenderPlot writes the two-column plot stream: one line per bucket,
// "<bound> <count>" in ascending bound order, the final unbounded
// bucket prefixed with ">=". Run totals follow as a comment line so
// plotting tools skip them.
func (s *Summary) RenderPlot(w io.Writer) {
	for _, b := range s.Buckets {
		if b.Unbounded {
			fmt.Fprintf(w, ">=%d %d\n", b.Bound, b.Total)
		} else {
			fmt.Fprintf(w, "%d %d\n", b.Bound, b.Total)
		}
	}
	fmt.Fprintf(w, "# total %d ops, %d snapshot cycles, %d sync cycles\n",
		s.TotalOps, s.SnapshotCycles, s.SyncCycles)
}

// RenderJSON writes the full summary as indented JSON.
func (s *Summary) RenderJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// RenderVerbose writes the human-readable report: run totals,
// percentiles, the nonzero transition counts grouped by bucket, and
// the recent snapshot cycle timings.
func (s *Summary) RenderVerbose(w io.Writer) {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	head := color.New(color.Bold)
	dim := color.New(color.FgCyan)
	if !useColor {
		head.DisableColor()
		dim.DisableColor()
	}

	head.Fprintln(w, "snaplat run summary")
	fmt.Fprintf(w, "  elapsed:         %.2fs\n", s.ElapsedSeconds)
	fmt.Fprintf(w, "  operations:      %d\n", s.TotalOps)
	fmt.Fprintf(w, "  snapshot cycles: %d\n", s.SnapshotCycles)
	fmt.Fprintf(w, "  sync cycles:     %d\n", s.SyncCycles)
	for _, ws := range s.Workers {
		fmt.Fprintf(w, "  worker %d:        %d ops\n", ws.ID, ws.Ops)
	}
	if s.TotalOps > 0 {
		fmt.Fprintf(w, "  latency µs:      min=%d max=%d mean=%.1f\n",
			s.MinMicros, s.MaxMicros, float64(s.SumMicros)/float64(s.TotalOps))
		fmt.Fprintf(w, "  percentiles µs:  p50=%d p90=%d p99=%d\n",
			s.Percentiles.P50, s.Percentiles.P90, s.Percentiles.P99)
	}

	head.Fprintln(w, "transition latencies")
	for _, b := range s.Buckets {
		if b.Total == 0 {
			continue
		}
		dim.Fprintf(w, "  %s (%d ops)\n", b.Label, b.Total)
		for _, t := range b.Transitions {
			fmt.Fprintf(w, "    %-13s -> %-13s %d\n", t.Start, t.End, t.Count)
		}
	}

	if len(s.Cycles) > 0 {
		head.Fprintln(w, "recent snapshot cycles (elapsed seconds)")
		for i, c := range s.Cycles {
			fmt.Fprintf(w, "  #%d create=%.3f wait=%.3f..%.3f destroy=%.3f..%.3f\n",
				i, c.Create, c.WaitBegin, c.WaitEnd, c.DestroyBegin, c.DestroyEnd)
		}
	}
}
