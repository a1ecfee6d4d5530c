package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/MeKo-Tech/bubblenav/internal/benchmark"
	"github.com/MeKo-Tech/bubblenav/internal/book"
	"github.com/MeKo-Tech/bubblenav/internal/config"
	"github.com/spf13/cobra"
)

const gpuPrefix = "gpu_"

var benchCmd = &cobra.Command{
	Use:   "bench <book>",
	Short: "Benchmark balloon detection on a book",
	Long: `Time balloon detection, reading-order sorting and the combined per-page
pipeline over the selected pages of a book. With --compare-gpu the same
benchmarks run once on CPU and once on GPU.

Examples:
  bubblenav bench issue-1.cbz
  bubblenav bench issue-1.cbz --pages 0-4 --iterations 20
  bubblenav bench issue-1.cbz --compare-gpu --format json`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		iterations, _ := cmd.Flags().GetInt("iterations")
		compareGPU, _ := cmd.Flags().GetBool("compare-gpu")
		pageSpec, _ := cmd.Flags().GetString("pages")
		ctx := commandContext(cmd)

		src, closeBook, err := openBook(args[0])
		if err != nil {
			return err
		}
		defer closeBook()

		indices, err := book.ParsePageRange(pageSpec, len(src.Pages()))
		if err != nil {
			return err
		}
		pages, err := loadBenchPages(ctx, src, indices)
		if err != nil {
			return err
		}

		suite := benchmark.NewSuite()
		closeCPU, err := addDeviceBenchmarks(ctx, suite, cfg, false, "", pages)
		if closeCPU != nil {
			defer closeCPU()
		}
		if err != nil {
			return err
		}
		if compareGPU {
			closeGPU, err := addDeviceBenchmarks(ctx, suite, cfg, true, gpuPrefix, pages)
			if closeGPU != nil {
				defer closeGPU()
			}
			if err != nil {
				slog.Warn("GPU benchmarks skipped", "error", err)
				compareGPU = false
			}
		}

		slog.Info("Running benchmarks", "book", src.ID(), "pages", len(pages), "iterations", iterations)
		results := suite.RunAll(ctx, iterations)
		return writeBenchResults(cmd.OutOrStdout(), format, suite, results, compareGPU)
	},
}

func loadBenchPages(ctx context.Context, src book.Source, indices []int) ([]benchmark.Page, error) {
	pages := make([]benchmark.Page, 0, len(indices))
	for _, n := range indices {
		img, err := src.Load(ctx, n)
		if err != nil {
			return nil, err
		}
		pages = append(pages, benchmark.Page{Index: n, Image: img})
	}
	return pages, nil
}

// addDeviceBenchmarks loads a detector on the requested device and registers
// its benchmarks. The returned func closes the detector.
func addDeviceBenchmarks(ctx context.Context, suite *benchmark.Suite, cfg *config.Config, gpu bool,
	prefix string, pages []benchmark.Page,
) (func(), error) {
	devCfg := *cfg
	devCfg.GPU.Enabled = gpu
	det, err := loadDetector(&devCfg)
	if err != nil {
		return nil, err
	}
	closeDet := func() { _ = det.Close() }
	if !det.Available() {
		return closeDet, det.Err()
	}
	return closeDet, suite.AddDetection(ctx, prefix, det, pages, cfg.Direction())
}

type benchReport struct {
	Results     []benchResult          `json:"results"`
	Comparisons []benchmark.Comparison `json:"comparisons,omitempty"`
}

type benchResult struct {
	Name       string  `json:"name"`
	Iterations int     `json:"iterations"`
	MeanMs     float64 `json:"mean_ms"`
	P50Ms      float64 `json:"p50_ms"`
	P95Ms      float64 `json:"p95_ms"`
	AllocKB    int64   `json:"alloc_delta_kb"`
	Error      string  `json:"error,omitempty"`
}

func toBenchResult(r benchmark.Result) benchResult {
	out := benchResult{
		Name:       r.Name,
		Iterations: r.Iterations,
		MeanMs:     float64(r.Mean().Microseconds()) / 1000,
		P50Ms:      float64(r.Percentile(50).Microseconds()) / 1000,
		P95Ms:      float64(r.Percentile(95).Microseconds()) / 1000,
		AllocKB:    r.AllocDeltaKB(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func writeBenchResults(w io.Writer, format string, suite *benchmark.Suite, results []benchmark.Result,
	compareGPU bool,
) error {
	var comparisons []benchmark.Comparison
	if compareGPU {
		comparisons = benchmark.Compare(results, results, gpuPrefix)
	}
	if format == outputFormatJSON {
		report := benchReport{Comparisons: comparisons}
		for _, r := range results {
			report.Results = append(report.Results, toBenchResult(r))
		}
		return writeJSON(w, report)
	}
	suite.WriteResults(w)
	for _, c := range comparisons {
		_, _ = fmt.Fprintln(w, c.String())
	}
	return nil
}

func init() {
	benchCmd.Flags().String("pages", "", "Zero-based pages to benchmark, e.g. 0-3,7 (default all)")
	benchCmd.Flags().Int("iterations", 5, "Iterations per benchmark")
	benchCmd.Flags().Bool("compare-gpu", false, "Also run on GPU and report the speedup")
	benchCmd.Flags().StringP("format", "f", outputFormatText, "Output format: text or json")

	rootCmd.AddCommand(benchCmd)
}
