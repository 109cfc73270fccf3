package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group coalesces concurrent loads of the same key into one call. The
// in-flight entry is removed when the call completes, so a later call starts
// a fresh load.
type Group[V any] struct {
	sf singleflight.Group
}

// Do runs fn once per key among concurrent callers. shared reports whether
// the result was handed to more than one caller.
//
// fn runs with a context detached from any single caller's cancellation so
// one impatient caller does not fail the others; callers still stop waiting
// when their own ctx ends.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (v V, shared bool, err error) {
	ch := g.sf.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Shared, res.Err
		}
		v, _ = res.Val.(V)
		return v, res.Shared, nil
	}
}
