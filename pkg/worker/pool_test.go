package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jclmnop/distributed-iiot-poc/metric"
)

func TestNewPool_Defaults(t *testing.T) {
	noop := func(context.Context, []byte) error { return nil }

	pool := NewPool(0, 0, noop)
	assert.Equal(t, 4, pool.workers)
	assert.Equal(t, 75, pool.queueSize)

	pool = NewPool(2, 10, noop)
	stats := pool.Stats()
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, 10, stats.QueueSize)
}

func TestNewPool_NilProcessor(t *testing.T) {
	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[int](1, 1, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	var processed atomic.Int32
	pool := NewPool(2, 10, func(context.Context, int) error {
		processed.Add(1)
		return nil
	})

	assert.ErrorIs(t, pool.Submit(1), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int32(5), processed.Load(), "queued work drains on Stop")

	assert.ErrorIs(t, pool.Submit(6), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second), "second Stop is a no-op")
}

func TestPool_QueueFullDrops(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 2, func(ctx context.Context, _ int) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(time.Second)
	}()

	// One item occupies the worker, two fill the queue.
	require.NoError(t, pool.Submit(0))
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(1))
	require.NoError(t, pool.Submit(2))

	assert.ErrorIs(t, pool.Submit(3), ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)
	assert.Equal(t, int64(3), pool.Stats().Submitted)
}

func TestPool_ProcessingErrorsCounted(t *testing.T) {
	pool := NewPool(2, 10, func(_ context.Context, n int) error {
		if n%2 == 0 {
			return errors.New("decode failed")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(6), stats.Processed)
	assert.Equal(t, int64(3), stats.Failed)
}

func TestPool_ContextCancellationStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	pool := NewPool(1, 10, func(ctx context.Context, _ int) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Submit(1))
	<-started

	cancel()
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	pool := NewPool(1, 1, func(context.Context, int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))
	time.Sleep(10 * time.Millisecond)

	assert.ErrorIs(t, pool.Stop(20*time.Millisecond), ErrStopTimeout)
	assert.ErrorIs(t, pool.Submit(2), ErrPoolStopped, "no send on closed queue after timeout")
}

func TestPool_ConcurrentSubmit(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(4, 1000, func(context.Context, int) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = pool.Submit(i)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, pool.Stop(2*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(500), stats.Submitted+stats.Dropped)
	assert.Equal(t, stats.Submitted, processed.Load())
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m, err := NewMetrics(registry)
	require.NoError(t, err)

	_, err = NewMetrics(registry)
	assert.Error(t, err, "metrics register once per registry")

	done := make(chan struct{})
	pool := NewPool(1, 1, func(context.Context, int) error {
		<-done
		return nil
	}, WithMetrics[int](m, "heartbeats-reader"))
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(1))
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(2))
	assert.ErrorIs(t, pool.Submit(3), ErrQueueFull)

	close(done)
	require.Eventually(t, func() bool { return pool.Stats().Processed == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submitted.WithLabelValues("heartbeats-reader")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("heartbeats-reader")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.processed.WithLabelValues("heartbeats-reader", "success")))

	require.NoError(t, pool.Stop(time.Second))
	for name, c := range map[string]prometheus.Collector{
		"queue_depth":         m.queueDepth,
		"submitted":           m.submitted,
		"processed":           m.processed,
		"dropped":             m.dropped,
		"processing_duration": m.processingTime,
	} {
		assert.Zero(t, testutil.CollectAndCount(c), "%s series left after Stop", name)
	}
}

func TestPool_StopForgetsOnlyItsOwnSeries(t *testing.T) {
	m, err := NewMetrics(metric.NewMetricsRegistry())
	require.NoError(t, err)

	noop := func(context.Context, int) error { return nil }
	a := NewPool(1, 4, noop, WithMetrics[int](m, "heartbeat:a"))
	b := NewPool(1, 4, noop, WithMetrics[int](m, "heartbeat:b"))
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, a.Submit(1))
	require.NoError(t, b.Submit(1))

	require.NoError(t, a.Stop(time.Second))
	assert.Equal(t, 1, testutil.CollectAndCount(m.submitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submitted.WithLabelValues("heartbeat:b")))
	require.NoError(t, b.Stop(time.Second))
}

func TestPool_SubmitWaitBlocksUntilRoom(t *testing.T) {
	release := make(chan struct{})
	var processed atomic.Int32
	pool := NewPool(1, 1, func(context.Context, int) error {
		<-release
		processed.Add(1)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(0))
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(1))

	queued := make(chan error, 1)
	go func() { queued <- pool.SubmitWait(context.Background(), 2) }()

	select {
	case err := <-queued:
		t.Fatalf("SubmitWait returned %v while the queue was full", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-queued)
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int32(3), processed.Load())
	assert.Zero(t, pool.Stats().Dropped)
}

func TestPool_SubmitWaitGivesUp(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	pool := NewPool(1, 1, func(context.Context, int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(0))
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.SubmitWait(ctx, 2), context.DeadlineExceeded)

	waiting := make(chan error, 1)
	go func() { waiting <- pool.SubmitWait(context.Background(), 3) }()
	time.Sleep(10 * time.Millisecond)

	assert.ErrorIs(t, pool.Stop(20*time.Millisecond), ErrStopTimeout)
	assert.ErrorIs(t, <-waiting, ErrPoolStopped)
	assert.ErrorIs(t, pool.SubmitWait(context.Background(), 4), ErrPoolStopped)
	assert.GreaterOrEqual(t, pool.Stats().Dropped, int64(1))
}
