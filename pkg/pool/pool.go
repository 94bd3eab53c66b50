// Package pool gives callers a bounded worker pool for dispatching the
// per-destination/per-sender work described in spec.md §5: MakeMessage and
// ProcessMessage are pure functions of (Session, destination/message) and
// may be run concurrently, as long as the results are merged back into the
// RoundAccumulator serially by the caller.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool bounds the number of goroutines used to run a batch of independent
// tasks submitted via Run.
type Pool struct {
	limit int
}

// New returns a Pool that runs at most limit tasks concurrently. A limit of
// 0 or less means unbounded (as many goroutines as tasks).
func New(limit int) *Pool {
	return &Pool{limit: limit}
}

// Run executes fn(i) for every i in [0, n), stopping at the first error and
// returning it. The caller is responsible for any serialization needed
// among results: Run itself does not impose an order.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if p != nil && p.limit > 0 {
		g.SetLimit(p.limit)
	}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return fn(ctx, i)
		})
	}
	return g.Wait()
}
