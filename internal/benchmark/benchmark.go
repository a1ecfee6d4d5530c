// Package benchmark times balloon detection and reading-order sorting over
// book pages.
package benchmark

import (
	"context"
	"fmt"
	"image"
	"io"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/indexer"
)

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64  `json:"alloc_bytes"`
	TotalAllocBytes uint64  `json:"total_alloc_bytes"`
	SysBytes        uint64  `json:"sys_bytes"`
	NumGC           uint32  `json:"num_gc"`
	GCCPUFraction   float64 `json:"gc_cpu_fraction"`
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		GCCPUFraction:   m.GCCPUFraction,
	}
}

// Result holds the timings of one benchmark.
type Result struct {
	Name         string          `json:"name"`
	Iterations   int             `json:"iterations"`
	Duration     time.Duration   `json:"total_ns"`
	Samples      []time.Duration `json:"-"`
	MemoryBefore MemoryStats     `json:"-"`
	MemoryAfter  MemoryStats     `json:"-"`
	Err          error           `json:"-"`
}

// Mean returns the average iteration time.
func (r Result) Mean() time.Duration {
	if len(r.Samples) == 0 {
		return 0
	}
	return r.Duration / time.Duration(len(r.Samples))
}

// Percentile returns the p-th percentile (0..100) of the iteration times.
func (r Result) Percentile(p float64) time.Duration {
	if len(r.Samples) == 0 {
		return 0
	}
	sorted := slices.Clone(r.Samples)
	slices.Sort(sorted)
	idx := int(p / 100 * float64(len(sorted)-1))
	return sorted[max(0, min(idx, len(sorted)-1))]
}

// AllocDeltaKB is the heap growth across the run.
func (r Result) AllocDeltaKB() int64 {
	return (int64(r.MemoryAfter.AllocBytes) - int64(r.MemoryBefore.AllocBytes)) / 1024 //nolint:gosec // G115: memory display
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Err)
	}
	return fmt.Sprintf("%s: %d iterations, mean: %v, p50: %v, p95: %v, total: %v, mem: %+d KB",
		r.Name, r.Iterations, r.Mean(), r.Percentile(50), r.Percentile(95), r.Duration, r.AllocDeltaKB())
}

type benchmark struct {
	name string
	fn   func(ctx context.Context) error
}

// Suite runs named benchmarks.
type Suite struct {
	benchmarks []benchmark
	mu         sync.Mutex
	results    []Result
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Add registers a benchmark.
func (s *Suite) Add(name string, fn func(ctx context.Context) error) {
	s.benchmarks = append(s.benchmarks, benchmark{name: name, fn: fn})
}

// Names lists the registered benchmarks in order.
func (s *Suite) Names() []string {
	names := make([]string, len(s.benchmarks))
	for i, b := range s.benchmarks {
		names[i] = b.name
	}
	return names
}

// Run runs a single benchmark.
func (s *Suite) Run(ctx context.Context, name string, iterations int) Result {
	for _, b := range s.benchmarks {
		if b.name == name {
			return run(ctx, b, iterations)
		}
	}
	return Result{Name: name, Err: fmt.Errorf("benchmark '%s' not found", name)}
}

// RunAll runs every benchmark and keeps the results.
func (s *Suite) RunAll(ctx context.Context, iterations int) []Result {
	results := make([]Result, 0, len(s.benchmarks))
	for _, b := range s.benchmarks {
		results = append(results, run(ctx, b, iterations))
	}
	s.mu.Lock()
	s.results = results
	s.mu.Unlock()
	return results
}

// Results returns the last RunAll results.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// WriteResults prints the last results as text.
func (s *Suite) WriteResults(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Benchmark Results:")
	_, _ = fmt.Fprintln(w, "==================")
	for _, r := range s.Results() {
		_, _ = fmt.Fprintln(w, r.String())
	}
}

func run(ctx context.Context, b benchmark, iterations int) Result {
	iterations = max(iterations, 1)
	runtime.GC()
	res := Result{Name: b.name, Iterations: iterations, MemoryBefore: GetMemoryStats()}
	res.Samples = make([]time.Duration, 0, iterations)

	for range iterations {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		start := time.Now()
		err := b.fn(ctx)
		elapsed := time.Since(start)
		if err != nil {
			res.Err = err
			break
		}
		res.Samples = append(res.Samples, elapsed)
		res.Duration += elapsed
	}
	res.MemoryAfter = GetMemoryStats()
	return res
}

// Page is a decoded page to benchmark.
type Page struct {
	Index int
	Image image.Image
}

// AddDetection registers detection, ordering and full per-page pipeline
// benchmarks. Each iteration covers every page. Ordering reuses the balloons
// found by a warmup detection so it is timed in isolation.
func (s *Suite) AddDetection(ctx context.Context, prefix string, det detector.BalloonDetector,
	pages []Page, dir balloon.Direction,
) error {
	cached := make([]detector.PageDetection, len(pages))
	for i, p := range pages {
		d, err := det.Detect(ctx, p.Image)
		if err != nil {
			return fmt.Errorf("warmup detection on page %d: %w", p.Index, err)
		}
		cached[i] = d
	}

	s.Add(prefix+"detect", func(ctx context.Context) error {
		for _, p := range pages {
			if _, err := det.Detect(ctx, p.Image); err != nil {
				return err
			}
		}
		return nil
	})
	s.Add(prefix+"order", func(context.Context) error {
		for i, p := range pages {
			b := p.Image.Bounds()
			_ = indexer.PageFromDetection(p.Index, cached[i], b.Dx(), b.Dy(), dir)
		}
		return nil
	})
	s.Add(prefix+"pipeline", func(ctx context.Context) error {
		for _, p := range pages {
			d, err := det.Detect(ctx, p.Image)
			if err != nil {
				return err
			}
			b := p.Image.Bounds()
			_ = indexer.PageFromDetection(p.Index, d, b.Dx(), b.Dy(), dir)
		}
		return nil
	})
	return nil
}

// Comparison pairs the same benchmark run on CPU and GPU.
type Comparison struct {
	Name    string  `json:"name"`
	CPU     Result  `json:"cpu"`
	GPU     Result  `json:"gpu"`
	Speedup float64 `json:"speedup"`
}

// Compare matches results by name; GPU results carry gpuPrefix.
func Compare(cpu, gpu []Result, gpuPrefix string) []Comparison {
	byName := make(map[string]Result, len(gpu))
	for _, r := range gpu {
		byName[r.Name] = r
	}
	var out []Comparison
	for _, c := range cpu {
		g, ok := byName[gpuPrefix+c.Name]
		if !ok || c.Err != nil || g.Err != nil {
			continue
		}
		cmp := Comparison{Name: c.Name, CPU: c, GPU: g}
		if g.Mean() > 0 {
			cmp.Speedup = float64(c.Mean()) / float64(g.Mean())
		}
		out = append(out, cmp)
	}
	return out
}

func (c Comparison) String() string {
	verdict := "same speed"
	switch {
	case c.Speedup > 1:
		verdict = fmt.Sprintf("%.2fx faster", c.Speedup)
	case c.Speedup > 0 && c.Speedup < 1:
		verdict = fmt.Sprintf("%.2fx slower", 1/c.Speedup)
	}
	return fmt.Sprintf("%s: CPU %v, GPU %v (%s)", c.Name, c.CPU.Mean(), c.GPU.Mean(), verdict)
}
