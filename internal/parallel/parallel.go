// Package parallel provides the data-parallel task loop used by passes.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	// Enabled toggles parallel execution.
	Enabled bool `yaml:"enabled"`
	// NumWorkers is the number of worker goroutines to use.
	NumWorkers int `yaml:"workers" validate:"gte=0"`
	// MinChunkSize is the minimum number of tasks per goroutine to avoid overhead.
	MinChunkSize int `yaml:"min_chunk_size" validate:"gte=0"`
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64, // Typical cache line aware chunk.
	}
}

// Sequential returns a configuration that never spawns goroutines.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1, MinChunkSize: 1}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	_ = ForEach(context.Background(), n, func() struct{} { return struct{}{} },
		func(_ struct{}, i int) error {
			f(i)
			return nil
		}, cfg)
}

// ForEach executes f(state, i) for i in [0, n). Every worker gets its own
// state from newState and processes one contiguous chunk in index order.
// The first error stops the remaining chunks and is returned.
func ForEach[S any](ctx context.Context, n int, newState func() S, f func(state S, i int) error, cfg Config) error {
	if n <= 0 {
		return nil
	}
	workers := cfg.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	if !cfg.Enabled || workers == 1 || n < cfg.MinChunkSize {
		// Sequential fallback.
		state := newState()
		for i := 0; i < n; i++ {
			if err := f(state, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	chunkSize := max((n+workers-1)/workers, cfg.MinChunkSize, 1)

	for start := 0; start < n; start += chunkSize {
		s, e := start, min(start+chunkSize, n)
		g.Go(func() error {
			state := newState()
			for i := s; i < e; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := f(state, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
