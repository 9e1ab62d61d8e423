package worker

import (
	"context"
)

// Kind separates read-only probes from writes; each has its own in-flight ceiling
type Kind int

const (
	Probe  Kind = iota // ETag refresh, existence checks
	Mutate             // create, update, delete
)

func (k Kind) String() string {
	if k == Mutate {
		return "mutate"
	}
	return "probe"
}

// Runner drives work items in fixed-size chunks. Every chunk completes
// before the next one starts, which bounds concurrent load on the store.
type Runner struct {
	probeChunk  int
	mutateChunk int
}

// NewRunner creates a runner with the given chunk sizes
func NewRunner(probeChunk, mutateChunk int) *Runner {
	if probeChunk <= 0 {
		probeChunk = 10
	}
	if mutateChunk <= 0 {
		mutateChunk = 5
	}
	return &Runner{probeChunk: probeChunk, mutateChunk: mutateChunk}
}

// ChunkSize returns the in-flight ceiling for kind
func (r *Runner) ChunkSize(kind Kind) int {
	if kind == Mutate {
		return r.mutateChunk
	}
	return r.probeChunk
}

// Run calls fn for every index in [0, n). Item failures are the callback's
// business; Run only returns early when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, kind Kind, n int, fn func(ctx context.Context, i int)) error {
	size := r.ChunkSize(kind)
	for start := 0; start < n; start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, n)

		pool := NewPool(ctx, end-start)
		pool.Start()
		for i := start; i < end; i++ {
			pool.Submit(func(ctx context.Context) { fn(ctx, i) })
		}
		pool.Wait()
	}
	return ctx.Err()
}

// Map applies fn to every item through r and returns the results in input order
func Map[T, R any](ctx context.Context, r *Runner, kind Kind, items []T, fn func(ctx context.Context, item T) R) ([]R, error) {
	out := make([]R, len(items))
	err := r.Run(ctx, kind, len(items), func(ctx context.Context, i int) {
		out[i] = fn(ctx, items[i])
	})
	return out, err
}
