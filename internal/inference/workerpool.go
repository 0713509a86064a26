package inference

import "context"

// WorkerPool bounds concurrent Generate calls against backends that cannot
// safely serve overlapping requests (a single mmap'd model object with
// mutable KV-cache state). Callers acquire a slot, run one backend call, and
// release — the same semaphore-channel idiom used elsewhere in this
// codebase for bounding concurrent work.
type WorkerPool struct {
	sem chan struct{}
}

// NewWorkerPool creates a pool that admits at most size concurrent callers.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{sem: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or ctx is done, returning a release
// function that must be called exactly once.
func (p *WorkerPool) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
