/*
bulk.go - Bulk operation coordinator

PURPOSE:
  Applies one operation to many independent items and reports per-item
  outcomes. One failing item never aborts the rest and there is no
  cross-item transaction: each item is individually atomic.

KEY CONCEPTS:
  Result accounts for every input ID exactly once, split into Succeeded and
  Failed. Failure order follows completion order, not input order; callers
  needing input order can key off the IDs.

  Parallelism is bounded with errgroup.SetLimit. The group never returns an
  error: item errors are collected, not propagated.

EXAMPLE:
  res := bulk.Apply(ctx, ids, 8, func(ctx context.Context, id string) error {
      return svc.PostAdjustment(ctx, ...)
  })
  fmt.Printf("%d ok, %d failed\n", len(res.Succeeded), len(res.Failed))
*/
package bulk

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit bounds concurrent items when callers pass limit <= 0.
const DefaultLimit = 8

// Failure pairs an item ID with the error it produced.
type Failure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// Result reports per-item outcomes of a bulk operation.
type Result struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// Total returns the number of items accounted for.
func (r Result) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// AllSucceeded reports whether no item failed.
func (r Result) AllSucceeded() bool {
	return len(r.Failed) == 0
}

// Apply runs fn for every id with at most limit items in flight. Every id
// appears exactly once in the result. A cancelled context fails the
// not-yet-started items with the context error rather than dropping them.
func Apply(ctx context.Context, ids []string, limit int, fn func(ctx context.Context, id string) error) Result {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		mu  sync.Mutex
		res Result
	)
	g := &errgroup.Group{}
	g.SetLimit(limit)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			var err error
			if err = ctx.Err(); err == nil {
				err = fn(ctx, id)
			}
			mu.Lock()
			if err != nil {
				res.Failed = append(res.Failed, Failure{ID: id, Err: err})
			} else {
				res.Succeeded = append(res.Succeeded, id)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return res
}
