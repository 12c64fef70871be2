package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, size int) *WorkerPool {
	t.Helper()
	p, err := NewWorkerPool(size)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	return p
}

func TestWorkerPool_BasicExecution(t *testing.T) {
	pool := newPool(t, 2)

	var ran atomic.Int64
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}))
	pool.Wait()

	assert.Equal(t, int64(1), ran.Load())
	assert.Equal(t, int64(1), pool.Metrics().Completed)
	assert.Equal(t, 2, pool.Cap())
}

func TestWorkerPool_ConcurrencyLimit(t *testing.T) {
	const size = 3
	pool := newPool(t, size)

	var current, peak atomic.Int64
	for range 10 {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			c := current.Add(1)
			for {
				p := peak.Load()
				if c <= p || peak.CompareAndSwap(p, c) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(size))
	assert.Positive(t, peak.Load())
}

func TestWorkerPool_FailuresAndPanics(t *testing.T) {
	pool := newPool(t, 2)

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("kaboom")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(2), m.Failed)
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(0), m.Active)
}

func TestWorkerPool_SubmitCancelledContext(t *testing.T) {
	pool := newPool(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pool.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkerPool_ShutdownWaitsAndRejects(t *testing.T) {
	pool, err := NewWorkerPool(1)
	require.NoError(t, err)

	var done atomic.Bool
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		done.Store(true)
		return nil
	}))

	pool.Shutdown()
	assert.True(t, done.Load(), "shutdown waits for active work")

	err = pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)

	pool.Shutdown()
}
