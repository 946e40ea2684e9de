package schedule

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TickFunc receives a snapshot of a bucket's members on each tick.
type TickFunc func(ctx context.Context, intervalMs uint64, ids []uuid.UUID)

type bucket struct {
	members map[uuid.UUID]struct{}
	cancel  context.CancelFunc
}

// Manager owns the interval buckets of one session.
type Manager struct {
	mu      sync.Mutex
	buckets map[uint64]*bucket
	index   map[uuid.UUID]uint64
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onTick TickFunc
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager whose tickers live until ctx is cancelled or
// Stop is called.
func NewManager(ctx context.Context, onTick TickFunc, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		buckets: make(map[uint64]*bucket),
		index:   make(map[uuid.UUID]uint64),
		ctx:     ctx,
		cancel:  cancel,
		onTick:  onTick,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add places id into the bucket for intervalMs. It reports whether a new
// ticker was started. Ids already scheduled and a zero interval are ignored.
func (m *Manager) Add(id uuid.UUID, intervalMs uint64) bool {
	if intervalMs == 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.ctx.Err() != nil {
		return false
	}
	if _, scheduled := m.index[id]; scheduled {
		return false
	}

	b, exists := m.buckets[intervalMs]
	spawn := !exists
	if spawn {
		ctx, cancel := context.WithCancel(m.ctx)
		b = &bucket{members: make(map[uuid.UUID]struct{}), cancel: cancel}
		m.buckets[intervalMs] = b
		m.wg.Add(1)
		go m.run(ctx, intervalMs, b)
	}
	b.members[id] = struct{}{}
	m.index[id] = intervalMs

	m.logger.Debug("Sensor scheduled",
		"sensor_id", id, "interval_ms", intervalMs, "ticker_started", spawn)
	return spawn
}

// Remove takes id out of its bucket. Emptying a bucket stops its ticker.
func (m *Manager) Remove(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	interval, ok := m.index[id]
	if !ok {
		return false
	}
	delete(m.index, id)

	b := m.buckets[interval]
	delete(b.members, id)
	if len(b.members) == 0 {
		b.cancel()
		delete(m.buckets, interval)
		m.logger.Debug("Schedule bucket emptied", "interval_ms", interval)
	}
	return true
}

// Intervals returns the active intervals in ascending order.
func (m *Manager) Intervals() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]uint64, 0, len(m.buckets))
	for interval := range m.buckets {
		out = append(out, interval)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Members returns a copy of the ids in the bucket for intervalMs.
func (m *Manager) Members(intervalMs uint64) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[intervalMs]
	if !ok {
		return nil
	}
	return snapshot(b)
}

// Len returns the number of active buckets.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Stop cancels every ticker, waits for them to exit and clears all buckets.
// Later Adds are ignored.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	m.buckets = make(map[uint64]*bucket)
	m.index = make(map[uuid.UUID]uint64)
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, intervalMs uint64, b *bucket) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		ids, ok := m.tickSnapshot(intervalMs, b)
		if !ok {
			m.logger.Debug("Ticker exiting", "interval_ms", intervalMs)
			return
		}
		m.onTick(ctx, intervalMs, ids)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tickSnapshot copies the members of b if b is still the live bucket for its
// interval. An empty bucket is removed and reported as finished.
func (m *Manager) tickSnapshot(intervalMs uint64, b *bucket) ([]uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buckets[intervalMs] != b {
		return nil, false
	}
	if len(b.members) == 0 {
		b.cancel()
		delete(m.buckets, intervalMs)
		return nil, false
	}
	return snapshot(b), true
}

func snapshot(b *bucket) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(b.members))
	for id := range b.members {
		ids = append(ids, id)
	}
	return ids
}
