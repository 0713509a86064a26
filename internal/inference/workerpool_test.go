package inference

import (
	"context"
	"testing"
	"time"
)

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(1)

	release1, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error acquiring first slot: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx); err == nil {
		t.Fatal("expected second Acquire to block until timeout, got no error")
	}

	release1()
	release2, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error after release: %v", err)
	}
	release2()
}

func TestWorkerPoolDefaultsToOneForNonPositiveSize(t *testing.T) {
	pool := NewWorkerPool(0)
	if cap(pool.sem) != 1 {
		t.Fatalf("expected size 0 to default to capacity 1, got %d", cap(pool.sem))
	}
}
