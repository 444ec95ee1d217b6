// Package parallel runs index ranges across goroutines. The host compute backend uses it to
// execute work-groups concurrently.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 1,
	}
}

// chunks splits [0, n) for cfg. A single chunk means run sequentially.
func chunks(n int, cfg Config) (chunkSize int, sequential bool) {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < 2*max(cfg.MinChunkSize, 1) {
		return n, true
	}
	return max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1), false
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	chunkSize, sequential := chunks(n, cfg)
	if sequential {
		for i := range n {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForErr is For for fallible work. It returns the first error; once one chunk fails or ctx is
// done, the remaining chunks stop before their next item.
func ForErr(ctx context.Context, n int, f func(i int) error, cfg Config) error {
	chunkSize, sequential := chunks(n, cfg)
	if sequential {
		for i := range n {
			if err := f(i); err != nil {
				return err
			}
		}
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.NumWorkers)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := f(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
