// Package pool bounds how much CPU-bound work runs at once so that slow
// segmentation or compositing never starves network-bound requests.
package pool

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/chaos-io/carstudio/errs"
)

// Pool is safe for concurrent use and meant to be shared process-wide.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

func New(size int) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *Pool) Size() int {
	return p.size
}

// Do waits for a free slot and runs fn on its own goroutine. If ctx ends first
// Do returns a timeout error; fn keeps its slot until it returns.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	_, err := Run(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

type result[T any] struct {
	value T
	err   error
}

// Run is Do for functions producing a value.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, errs.Wrap(errs.KindTimeout, "pool", "waiting for a worker", err)
	}

	done := make(chan result[T], 1)
	go func() {
		defer p.sem.Release(1)
		v, err := fn()
		done <- result[T]{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, errs.FromContext(ctx, "pool")
	}
}
