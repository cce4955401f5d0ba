package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"reactive_kv_store/internal/keys"
	database "reactive_kv_store/internal/kvstore"
	"reactive_kv_store/internal/memorymode"
	"reactive_kv_store/internal/partition"
	"reactive_kv_store/internal/reactive"
)

type benchOptions struct {
	records     int
	workers     int
	backend     string
	dir         string
	partitioner string
	lanes       int
}

// BenchResult is the outcome of one write phase.
type BenchResult struct {
	Phase         string
	Writes        int
	Failed        int
	MinLatency    time.Duration
	MaxLatency    time.Duration
	AvgLatency    time.Duration
	WallClockTime time.Duration
	Stats         reactive.Stats
}

// NewBenchCommand creates the bench command. It writes report records once
// with persistence on and once in memory-only mode and compares the two.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compare persisted and memory-only write throughput",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.records <= 0 || opts.workers <= 0 {
				return fmt.Errorf("records and workers must be positive")
			}
			dir := opts.dir
			if dir == "" {
				tmp, err := os.MkdirTemp("", "kvstore-bench-*")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmp)
				dir = tmp
			}

			out := cmd.OutOrStdout()
			color.New(color.Bold).Fprintln(out, "=== MEMORY ONLY BENCHMARK ===")
			fmt.Fprintf(out, "Backend: %s\n", opts.backend)
			fmt.Fprintf(out, "Records: %d\n", opts.records)
			fmt.Fprintf(out, "Workers: %d\n", opts.workers)

			for _, memoryOnly := range []bool{false, true} {
				result, err := runBench(cmd.Context(), opts, dir, memoryOnly)
				if err != nil {
					return err
				}
				printBenchResult(out, result)
			}

			color.New(color.Bold).Fprintln(out, "\n=== BENCHMARK COMPLETE ===")
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.records, "records", "n", 1000, "report records written per phase")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 8, "concurrent writers")
	cmd.Flags().StringVar(&opts.backend, "backend", database.BackendLevelDB, "durable backend")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "data directory (a temporary one by default)")
	cmd.Flags().StringVar(&opts.partitioner, "partitioner", partition.KindRing, "lane partitioner")
	cmd.Flags().IntVar(&opts.lanes, "lanes", 4, "persistence lanes")

	return cmd
}

func runBench(ctx context.Context, opts *benchOptions, dir string, memoryOnly bool) (BenchResult, error) {
	phase := "persisted"
	if memoryOnly {
		phase = "memory-only"
	}
	result := BenchResult{Phase: phase, MinLatency: time.Hour}

	backend, err := database.Open(opts.backend, filepath.Join(dir, phase))
	if err != nil {
		return result, err
	}
	defer backend.Close()

	p, err := partition.New(opts.partitioner, opts.lanes)
	if err != nil {
		return result, err
	}
	store, err := reactive.New(backend, reactive.WithPartitioner(p))
	if err != nil {
		return result, err
	}
	defer store.Close()

	mode, err := memorymode.NewController(store)
	if err != nil {
		return result, err
	}
	if memoryOnly {
		err = mode.Enable()
	} else {
		err = mode.Disable()
	}
	if err != nil {
		return result, err
	}

	type sample struct {
		duration time.Duration
		err      error
	}
	samples := make(chan sample, opts.records)
	jobs := make(chan int)

	var wg sync.WaitGroup
	startTime := time.Now()
	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				start := time.Now()
				id := fmt.Sprintf("%06d", i)
				err := store.Set(keys.CollectionKey(keys.CollectionReport, id), map[string]any{
					"reportID": id,
					"total":    i * 100,
					"currency": "USD",
				})
				samples <- sample{duration: time.Since(start), err: err}
			}
		}()
	}
	for i := 0; i < opts.records; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(samples)

	if err := store.Flush(ctx); err != nil {
		return result, err
	}
	result.WallClockTime = time.Since(startTime)

	var total time.Duration
	for s := range samples {
		result.Writes++
		if s.err != nil {
			result.Failed++
		}
		total += s.duration
		if s.duration < result.MinLatency {
			result.MinLatency = s.duration
		}
		if s.duration > result.MaxLatency {
			result.MaxLatency = s.duration
		}
	}
	if result.Writes > 0 {
		result.AvgLatency = total / time.Duration(result.Writes)
	}
	result.Stats = store.Stats()
	return result, nil
}

func printBenchResult(out io.Writer, r BenchResult) {
	throughput := float64(r.Writes) / r.WallClockTime.Seconds()

	color.New(color.FgCyan, color.Bold).Fprintf(out, "\n%s writes:\n", r.Phase)
	fmt.Fprintf(out, "  Total:          %d\n", r.Writes)
	if r.Failed > 0 {
		color.New(color.FgRed).Fprintf(out, "  Failed:         %d\n", r.Failed)
	} else {
		color.New(color.FgGreen).Fprintf(out, "  Failed:         %d\n", r.Failed)
	}
	fmt.Fprintf(out, "  Persisted:      %d\n", r.Stats.PersistedWrites)
	fmt.Fprintf(out, "  Skipped:        %d\n", r.Stats.SkippedWrites)
	fmt.Fprintf(out, "  Min Latency:    %v\n", r.MinLatency)
	fmt.Fprintf(out, "  Max Latency:    %v\n", r.MaxLatency)
	fmt.Fprintf(out, "  Avg Latency:    %v\n", r.AvgLatency)
	fmt.Fprintf(out, "  Wall Clock:     %v\n", r.WallClockTime)
	fmt.Fprintf(out, "  Throughput:     %.2f ops/sec\n", throughput)
}
