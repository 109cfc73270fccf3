package resilience

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ForEach runs fn for every item using a fixed number of workers that pull
// from a shared cursor. Errors returned by fn cancel the remaining work;
// callers that must tolerate per-item failure should log and return nil.
func ForEach[T any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, i int, item T) error) error {
	if len(items) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	var cursor atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return nil
				}
				i := int(cursor.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				if err := fn(gctx, i, items[i]); err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return Aborted(ctx, "resilience: worker pool")
	}
	return nil
}
