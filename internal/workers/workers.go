// Package workers runs index ranges on a bounded pool of goroutines.
package workers

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Count resolves a requested worker count: values below one mean "use every
// available CPU".
func Count(n int) int {
	if n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// Range calls fn(i) for every i in [0, n) using at most workers goroutines.
// Each index is handled exactly once, so callers that write only to the
// output owned by index i need no further synchronisation.
//
// The first error returned by fn, or the cancellation of ctx, stops new
// indices from being scheduled and is returned once running calls finish.
func Range(ctx context.Context, n, workers int, fn func(i int) error) error {
	workers = Count(workers)
	if workers > n {
		workers = n
	}
	if n <= 0 {
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
