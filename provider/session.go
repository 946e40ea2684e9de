package provider

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jclmnop/distributed-iiot-poc/config"
	"github.com/jclmnop/distributed-iiot-poc/health"
	"github.com/jclmnop/distributed-iiot-poc/metric"
	"github.com/jclmnop/distributed-iiot-poc/pkg/worker"
	"github.com/jclmnop/distributed-iiot-poc/poller"
	"github.com/jclmnop/distributed-iiot-poc/publisher"
	"github.com/jclmnop/distributed-iiot-poc/schedule"
	"github.com/jclmnop/distributed-iiot-poc/sensor"
)

const intakeStopTimeout = 5 * time.Second

// Heartbeat outcomes recorded in metrics.
const (
	heartbeatRegistered = "registered"
	heartbeatKnown      = "known"
	heartbeatInvalid    = "invalid"
	heartbeatDropped    = "dropped"
)

// Session is the polling state of one linked consumer.
type Session struct {
	id     string
	conn   config.ConnectionConfig
	bus    Bus
	logger *slog.Logger

	registry  *sensor.Registry
	schedule  *schedule.Manager
	poller    *poller.Poller
	publisher *publisher.Publisher
	sinks     *publisher.MultiSink
	intake    *worker.Pool[[]byte]
	metrics   *metric.Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	// membership serializes registry and schedule changes so a sensor is
	// either in both or in neither.
	membership sync.Mutex

	ticks    atomic.Int64
	dropped  atomic.Int64
	lastTick atomic.Int64
	lastErr  atomic.Value

	closeOnce sync.Once
	closeErr  error
}

// ID returns the consumer id.
func (s *Session) ID() string {
	return s.id
}

// Connection returns the session's connection config with credentials
// hidden.
func (s *Session) Connection() config.ConnectionConfig {
	return s.conn.Redacted()
}

// Sensors lists the registered sensors.
func (s *Session) Sensors() []sensor.Descriptor {
	return s.registry.List()
}

// SensorCount returns the number of registered sensors.
func (s *Session) SensorCount() int {
	return s.registry.Len()
}

// Intervals lists the intervals with a running ticker.
func (s *Session) Intervals() []uint64 {
	return s.schedule.Intervals()
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// RemoveSensor forgets a sensor. An emptied interval bucket stops its
// ticker.
func (s *Session) RemoveSensor(id uuid.UUID) bool {
	s.membership.Lock()
	_, known := s.registry.Remove(id)
	removed := s.schedule.Remove(id)
	s.membership.Unlock()

	s.recordSize()
	if known {
		s.logger.Info("Sensor removed", "sensor_id", id)
	}
	return known || removed
}

// Health reports the session's state.
func (s *Session) Health() health.Status {
	var lastTick time.Time
	if ns := s.lastTick.Load(); ns != 0 {
		lastTick = time.Unix(0, ns)
	}
	lastErr, _ := s.lastErr.Load().(string)

	return health.FromCheck(s.id, health.Check{
		Connected:         s.bus.IsHealthy() && s.ctx.Err() == nil,
		LastError:         lastErr,
		Started:           s.started,
		Sensors:           s.registry.Len(),
		Buckets:           len(s.schedule.Intervals()),
		Ticks:             s.ticks.Load(),
		HeartbeatsDropped: s.dropped.Load(),
		LastTick:          lastTick,
	})
}

// receive hands a heartbeat to the intake pool. While the queue is full it
// waits, which stalls the subscription; the wait ends with the handler
// context or the session.
func (s *Session) receive(ctx context.Context, data []byte) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := s.intake.SubmitWait(ctx, data); err != nil {
		s.dropped.Add(1)
		s.metrics.RecordHeartbeat(s.id, heartbeatDropped)
		s.logger.Debug("Heartbeat not queued", "error", err)
	}
}

func (s *Session) onDisconnect(err error) {
	if s.ctx.Err() != nil {
		return
	}
	msg := "connection lost"
	if err != nil {
		msg = err.Error()
	}
	s.lastErr.Store(msg)
	s.logger.Warn("Bus disconnected, reconnecting", "error", err)
}

func (s *Session) onHealthChange(healthy bool) {
	if s.ctx.Err() != nil {
		return
	}
	if !healthy {
		s.logger.Warn("Bus unhealthy")
		return
	}
	s.lastErr.Store("")
	s.logger.Info("Bus reconnected")
}

// handleHeartbeat registers a new sensor and schedules it.
func (s *Session) handleHeartbeat(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d, err := sensor.Decode(data)
	if err == nil {
		d, err = d.WithNATSTopics()
	}
	if err != nil {
		s.metrics.RecordHeartbeat(s.id, heartbeatInvalid)
		s.logger.Warn("Dropping invalid heartbeat", "error", err)
		return err
	}

	s.membership.Lock()
	if !s.registry.InsertIfAbsent(d) {
		s.membership.Unlock()
		s.metrics.RecordHeartbeat(s.id, heartbeatKnown)
		return nil
	}
	spawned := s.schedule.Add(d.ID, d.PollInterval)
	s.membership.Unlock()

	s.metrics.RecordHeartbeat(s.id, heartbeatRegistered)
	s.recordSize()
	s.logger.Info("Sensor registered",
		"sensor_id", d.ID,
		"source", d.Source(),
		"interval_ms", d.PollInterval,
		"new_ticker", spawned)
	return nil
}

// onTick polls one bucket and publishes the batch.
func (s *Session) onTick(ctx context.Context, intervalMs uint64, ids []uuid.UUID) {
	if ctx.Err() != nil {
		return
	}
	s.ticks.Add(1)
	s.lastTick.Store(time.Now().UnixNano())
	s.metrics.RecordTick(s.id)

	sensors := s.registry.Resolve(ids)
	if len(sensors) == 0 {
		return
	}

	readings := s.poller.Poll(ctx, sensors)
	if ctx.Err() != nil {
		return
	}

	if err := s.publisher.Publish(ctx, readings); err != nil {
		s.lastErr.Store(err.Error())
		return
	}
	s.lastErr.Store("")
	s.logger.Debug("Tick published", "interval_ms", intervalMs, "readings", len(readings))
}

func (s *Session) recordSize() {
	s.metrics.RecordSessionSize(s.id, s.registry.Len(), len(s.schedule.Intervals()))
}

// close tears the session down: background work is cancelled and awaited,
// then the bus is closed, which releases every subscription. Safe to call
// more than once.
func (s *Session) close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.schedule.Stop()

		var errs []error
		if s.intake != nil {
			if err := s.intake.Stop(intakeStopTimeout); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.bus.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if s.sinks != nil {
			if err := s.sinks.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.registry.Clear()
		s.metrics.ForgetSession(s.id)
		s.closeErr = stderrors.Join(errs...)
	})
	return s.closeErr
}
