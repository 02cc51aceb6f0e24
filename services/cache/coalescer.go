package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Coalescer merges concurrent calls for the same fingerprint into one execution.
// All callers attached to a flight receive the same value and error; the flight
// is forgotten as soon as it settles.
type Coalescer[V any] struct {
	group singleflight.Group
}

// NewCoalescer creates a coalescer
func NewCoalescer[V any]() *Coalescer[V] {
	return &Coalescer[V]{}
}

// Do runs fn once per in-flight fingerprint. fn receives a context detached from
// the caller's cancellation so one caller leaving does not fail the others; a
// caller whose own ctx ends stops waiting and gets ctx.Err().
func (c *Coalescer[V]) Do(ctx context.Context, fingerprint string, fn func(context.Context) (V, error)) (V, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fingerprint, func() (interface{}, error) {
		return fn(detached)
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		v, ok := res.Val.(V)
		if !ok {
			return zero, res.Shared, fmt.Errorf("coalescer: unexpected result type %T", res.Val)
		}
		return v, res.Shared, nil
	}
}
