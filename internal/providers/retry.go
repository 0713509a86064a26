package providers

import (
	"context"
	"time"
)

// BaseAdapter holds the linear-backoff retry policy shared by every HTTP-backed
// adapter. Embed it; it does not implement Adapter on its own.
type BaseAdapter struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseAdapter builds a BaseAdapter with sane defaults for zero values.
func NewBaseAdapter(name string, maxRetries int, retryDelay time.Duration) BaseAdapter {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseAdapter{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Retry runs op, retrying with linear backoff while isRetryable(err) holds.
func (b *BaseAdapter) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}
