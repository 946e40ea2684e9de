// Package worker provides a bounded worker pool. Submit never blocks and
// drops the item when the queue is full. SubmitWait blocks until the queue
// has room, so a full pool pushes back on its producer.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jclmnop/distributed-iiot-poc/metric"
)

// Pool processes items of type T on a fixed number of goroutines.
type Pool[T any] struct {
	name      string
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	quit     chan struct{}
	metrics  *Metrics
	wg       sync.WaitGroup
	senders  sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Metrics are shared by every pool registered against one registry; each
// pool reports under its own "pool" label.
type Metrics struct {
	queueDepth     *prometheus.GaugeVec
	submitted      *prometheus.CounterVec
	processed      *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	processingTime *prometheus.HistogramVec
}

// NewMetrics registers the pool metrics with registry.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	m := &Metrics{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "worker_pool",
			Name: "queue_depth", Help: "Items waiting in the pool queue",
		}, []string{"pool"}),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "worker_pool",
			Name: "submitted_total", Help: "Items accepted by the pool",
		}, []string{"pool"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "worker_pool",
			Name: "processed_total", Help: "Items processed by status",
		}, []string{"pool", "status"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "worker_pool",
			Name: "dropped_total", Help: "Items dropped because the queue was full",
		}, []string{"pool"}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace, Subsystem: "worker_pool",
			Name: "processing_duration_seconds", Help: "Time spent processing one item",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"pool"}),
	}

	const service = "worker_pool"
	regs := []error{
		registry.RegisterGaugeVec(service, "queue_depth", m.queueDepth),
		registry.RegisterCounterVec(service, "submitted_total", m.submitted),
		registry.RegisterCounterVec(service, "processed_total", m.processed),
		registry.RegisterCounterVec(service, "dropped_total", m.dropped),
		registry.RegisterHistogramVec(service, "processing_duration_seconds", m.processingTime),
	}
	for _, err := range regs {
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// forget removes every series reported under pool.
func (m *Metrics) forget(pool string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"pool": pool}
	m.queueDepth.DeletePartialMatch(labels)
	m.submitted.DeletePartialMatch(labels)
	m.processed.DeletePartialMatch(labels)
	m.dropped.DeletePartialMatch(labels)
	m.processingTime.DeletePartialMatch(labels)
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetrics reports the pool's activity under name.
func WithMetrics[T any](m *Metrics, name string) Option[T] {
	return func(p *Pool[T]) {
		p.metrics = m
		p.name = name
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 4 workers and a
// queue of 75.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 75
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool
}

// Submit queues work without blocking. It returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.accepted()
		return nil
	default:
		p.drop()
		return ErrQueueFull
	}
}

// SubmitWait queues work, waiting for room in the queue. It gives up when
// ctx ends or the pool stops; the item is then counted as dropped.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return ErrPoolNotStarted
	}
	if p.stopped {
		p.lifecycleMu.Unlock()
		return ErrPoolStopped
	}
	p.senders.Add(1)
	p.lifecycleMu.Unlock()
	defer p.senders.Done()

	select {
	case p.workChan <- work:
		p.accepted()
		return nil
	case <-p.quit:
		p.drop()
		return ErrPoolStopped
	case <-ctx.Done():
		p.drop()
		return ctx.Err()
	}
}

func (p *Pool[T]) accepted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.submitted.WithLabelValues(p.name).Inc()
		p.metrics.queueDepth.WithLabelValues(p.name).Set(float64(len(p.workChan)))
	}
}

func (p *Pool[T]) drop() {
	p.dropped.Add(1)
	if p.metrics != nil {
		p.metrics.dropped.WithLabelValues(p.name).Inc()
	}
}

// Start launches the workers. They exit when ctx ends or Stop is called.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Stop releases waiting submitters, closes the queue and waits up to
// timeout for the workers. Queued items are still processed unless the
// context passed to Start has ended. The pool's metric series are removed
// once the workers are done.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.quit)
	p.lifecycleMu.Unlock()

	p.senders.Wait()
	close(p.workChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.metrics.forget(p.name)
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}

			start := time.Now()
			err := p.processor(ctx, work)

			p.processed.Add(1)
			status := "success"
			if err != nil {
				p.failed.Add(1)
				status = "error"
			}
			if p.metrics != nil {
				p.metrics.processed.WithLabelValues(p.name, status).Inc()
				p.metrics.processingTime.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
				p.metrics.queueDepth.WithLabelValues(p.name).Set(float64(len(p.workChan)))
			}
		}
	}
}
