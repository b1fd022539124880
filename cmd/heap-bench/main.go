// Command heap-bench exercises the allocator end to end: it drives a
// configurable allocation/free workload against one or more Heap
// instances and prints Stats(). Flag-based, no subcommand framework,
// matching the teacher's cmd/orizon/main.go shape.
package main

import (
	"flag"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/orizon-heap/internal/allocator"
	"github.com/orizon-lang/orizon-heap/internal/cli"
	"github.com/orizon-lang/orizon-heap/internal/heapconfig"
)

var usageCommand = cli.CommandInfo{
	Name:        "heap-bench",
	Usage:       "heap-bench [OPTIONS]",
	Description: "churn allocations against N independent heaps and report stats",
	Flags: []cli.FlagInfo{
		{Name: "config", Usage: "path to a heapconfig JSON file (overrides heap-size/alignment/backing)"},
		{Name: "heap-size", Usage: "contiguous heap size in bytes", Default: "1048576"},
		{Name: "alignment", Usage: "allocation alignment in bytes", Default: "8"},
		{Name: "iterations", Usage: "allocations per worker", Default: "10000"},
		{Name: "workers", Usage: "number of independent heaps to run concurrently", Default: "4"},
		{Name: "verbose", Usage: "enable info logging"},
	},
	Examples: []string{
		"heap-bench -workers=8 -iterations=50000",
		"heap-bench -config=heap.json",
	},
}

func main() {
	var (
		configPath = flag.String("config", "", "path to a heapconfig JSON file")
		heapSize   = flag.Uint64("heap-size", 1<<20, "contiguous heap size in bytes")
		alignment  = flag.Uint64("alignment", 8, "allocation alignment in bytes")
		iterations = flag.Int("iterations", 10000, "allocations per worker")
		workers    = flag.Int("workers", 4, "number of independent heaps to run concurrently")
		verbose    = flag.Bool("verbose", false, "enable info logging")
		jsonOut    = flag.Bool("json", false, "print version in JSON format")
		version    = flag.Bool("version", false, "print version and exit")
		help       = flag.Bool("help", false, "show usage and exit")
	)
	flag.Parse()

	if *help {
		cli.PrintCommandUsage("heap-bench", usageCommand)
		return
	}
	if *version {
		cli.PrintVersion("heap-bench", *jsonOut)
		return
	}

	logger := cli.NewLogger(*verbose, false)

	var baseOpts []allocator.Option
	if *configPath != "" {
		f, err := heapconfig.Load(*configPath)
		if err != nil {
			cli.ExitWithError("loading %s: %v", *configPath, err)
		}
		baseOpts = f.Options()
		logger.Info("loaded config from %s (schema %s)", *configPath, f.SchemaVersion)
	} else {
		baseOpts = []allocator.Option{
			allocator.WithHeapSize(uintptr(*heapSize)),
			allocator.WithAlignment(uintptr(*alignment)),
		}
	}

	g := new(errgroup.Group)
	results := make([]workerResult, *workers)
	for w := 0; w < *workers; w++ {
		workerID := w
		g.Go(func() error {
			res, err := runWorker(workerID, baseOpts, *iterations, logger)
			if err != nil {
				return err
			}
			results[workerID] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cli.ExitWithError("worker failed: %v", err)
	}

	for _, r := range results {
		fmt.Printf("worker %d: allocated=%d peak=%d waste=%d alloc_count=%d free_count=%d reclaim_count=%d\n",
			r.id, r.stats.Allocated, r.stats.PeakAllocated, r.stats.Waste, r.stats.AllocCount, r.stats.FreeCount, r.stats.ReclaimCount)
	}
}

type workerResult struct {
	id    int
	stats allocator.Stats
}

// runWorker allocates and frees a churn of small blocks against its own
// private Heap (the allocator itself stays single-threaded per
// spec.md §5 — each goroutine here owns an independent heap, never a
// shared one).
func runWorker(id int, baseOpts []allocator.Option, iterations int, logger *cli.Logger) (workerResult, error) {
	opts := append([]allocator.Option{}, baseOpts...)
	opts = append(opts, allocator.WithReclaim(func(sev allocator.Severity) {
		logger.Debug("worker %d: reclamation at %v severity", id, sev)
	}))

	cfg, err := allocator.New(opts...)
	if err != nil {
		return workerResult{}, fmt.Errorf("worker %d: config: %w", id, err)
	}

	h, err := allocator.NewHeap(cfg)
	if err != nil {
		return workerResult{}, fmt.Errorf("worker %d: NewHeap: %w", id, err)
	}
	defer h.Teardown()

	type liveBlock struct {
		addr uintptr
		size uintptr
	}
	var live []liveBlock
	sizes := []uintptr{8, 16, 24, 32, 48}

	for i := 0; i < iterations; i++ {
		size := sizes[i%len(sizes)]
		addr, ok := h.TryAlloc(size)
		if !ok {
			// Shed half of what's outstanding and retry once; a real
			// workload would let the Reclaim callback do this instead.
			half := len(live) / 2
			for j := 0; j < half; j++ {
				h.Free(live[j].addr, live[j].size)
			}
			live = live[half:]
			addr, ok = h.TryAlloc(size)
			if !ok {
				continue
			}
		}
		live = append(live, liveBlock{addr: addr, size: size})
	}

	for _, b := range live {
		h.Free(b.addr, b.size)
	}

	stats := h.Stats()
	logger.Info("worker %d: allocated=%d peak=%d waste=%d alloc_count=%d reclaim_count=%d",
		id, stats.Allocated, stats.PeakAllocated, stats.Waste, stats.AllocCount, stats.ReclaimCount)

	return workerResult{id: id, stats: stats}, nil
}
