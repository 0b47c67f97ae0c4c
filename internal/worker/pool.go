package worker

import (
	"context"
	"sync"
)

// Pool runs submitted tasks on a fixed number of goroutines. Submit blocks
// while the queue is full, so a caller never outruns the workers by more
// than the queue length.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan func()
	stop sync.Once
}

// NewPool starts n workers, at least one, sharing a queue of n slots.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{jobs: make(chan func(), n)}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// Submit queues f, or gives up with ctx's error once ctx is done.
func (p *Pool) Submit(ctx context.Context, f func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.jobs <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop waits for every queued task to finish. It is safe to call twice;
// Submit after Stop panics.
func (p *Pool) Stop() {
	p.stop.Do(func() { close(p.jobs) })
	p.wg.Wait()
}

// Each runs fn(i) for every i in [0, n) on a pool of size workers and
// waits for all of them. It stops submitting once ctx is done and returns
// ctx's error; tasks already queued still run.
func Each(ctx context.Context, workers, n int, fn func(i int)) error {
	p := NewPool(workers)
	defer p.Stop()
	for i := 0; i < n; i++ {
		i := i
		if err := p.Submit(ctx, func() { fn(i) }); err != nil {
			return err
		}
	}
	return nil
}
