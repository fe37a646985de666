package storage

import (
	"context"
	"iter"
	"math/rand/v2"
	"time"
)

const (
	retryMaxAttempts = 3
	retryBaseDelay   = 100 * time.Millisecond
	retryGrowth      = 2.0
	retryJitter      = 0.25
)

// WithRetry wraps backend so that operations failing with KindTransient
// are retried with capped exponential backoff: up to retryMaxAttempts
// attempts total, starting at retryBaseDelay and doubling each attempt,
// with +/-25% jitter. Non-transient failures are returned immediately.
func WithRetry(backend Backend) Backend {
	return &retryBackend{inner: backend}
}

type retryBackend struct {
	inner Backend
}

func backoff(attempt int) time.Duration {
	d := float64(retryBaseDelay)
	for i := 0; i < attempt; i++ {
		d *= retryGrowth
	}
	jitter := 1 + (rand.Float64()*2-1)*retryJitter
	return time.Duration(d * jitter)
}

func retryDo(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		err = op()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == retryMaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return err
}

func (r *retryBackend) Put(ctx context.Context, ns, id string, blob []byte) error {
	return retryDo(ctx, func() error { return r.inner.Put(ctx, ns, id, blob) })
}

func (r *retryBackend) Get(ctx context.Context, ns, id string) ([]byte, error) {
	var out []byte
	err := retryDo(ctx, func() error {
		var err error
		out, err = r.inner.Get(ctx, ns, id)
		return err
	})
	return out, err
}

func (r *retryBackend) Delete(ctx context.Context, ns, id string) error {
	return retryDo(ctx, func() error { return r.inner.Delete(ctx, ns, id) })
}

// List is not retried per-element: a transient failure mid-iteration
// surfaces to the caller through the yielded error, since a partially
// consumed iter.Seq2 cannot be safely restarted from the middle.
func (r *retryBackend) List(ctx context.Context, ns, prefix string) iter.Seq2[Entry, error] {
	return r.inner.List(ctx, ns, prefix)
}

func (r *retryBackend) EstimateUsage(ctx context.Context) (Usage, error) {
	var out Usage
	err := retryDo(ctx, func() error {
		var err error
		out, err = r.inner.EstimateUsage(ctx)
		return err
	})
	return out, err
}
