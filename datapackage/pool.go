package datapackage

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds CPU-heavy work (compression, PKCS#12 encoding) so that
// concurrent assemblies do not starve request handling.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool returns a pool of size workers, GOMAXPROCS when size <= 0.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a worker slot is free.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
