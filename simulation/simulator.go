package simulation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jclmnop/distributed-iiot-poc/errors"
)

// DefaultHeartbeatEvery is how often each sensor re-announces itself.
const DefaultHeartbeatEvery = 60 * time.Second

// Stats counts what the simulated sensors did.
type Stats struct {
	Heartbeats int64
	Polls      int64
	Answered   int64
	Dropped    int64
}

// Simulator runs a set of sensors on one transport.
type Simulator struct {
	transport      Transport
	topics         Topics
	heartbeatEvery time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger

	heartbeats atomic.Int64
	polls      atomic.Int64
	answered   atomic.Int64
	dropped    atomic.Int64
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithHeartbeatEvery sets the re-announce period.
func WithHeartbeatEvery(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.heartbeatEvery = d
		}
	}
}

// WithHeartbeatRate spreads a round of heartbeats at r per second.
func WithHeartbeatRate(r rate.Limit, burst int) Option {
	return func(s *Simulator) {
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(r, burst)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Simulator.
func New(transport Transport, topics Topics, opts ...Option) *Simulator {
	s := &Simulator{
		transport:      transport,
		topics:         topics,
		heartbeatEvery: DefaultHeartbeatEvery,
		limiter:        rate.NewLimiter(rate.Limit(20), 5),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the counters so far.
func (s *Simulator) Stats() Stats {
	return Stats{
		Heartbeats: s.heartbeats.Load(),
		Polls:      s.polls.Load(),
		Answered:   s.answered.Load(),
		Dropped:    s.dropped.Load(),
	}
}

// Run subscribes every sensor to its poll topic and announces them until
// ctx ends.
func (s *Simulator) Run(ctx context.Context, sensors []*Sensor) error {
	for _, sn := range sensors {
		d := sn.Descriptor()
		if err := s.transport.Subscribe(ctx, d.PollTopic, s.answer(sn)); err != nil {
			return errors.Wrap(err, "Simulator", "Run", "subscribe "+d.Alias)
		}
		s.logger.Info("Starting simulated sensor",
			"source", d.Source(), "sensor_id", d.ID, "interval_ms", d.PollInterval)
	}

	ticker := time.NewTicker(s.heartbeatEvery)
	defer ticker.Stop()

	for {
		if err := s.announce(ctx, sensors); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Simulator) announce(ctx context.Context, sensors []*Sensor) error {
	topic := s.topics.Heartbeat()
	for _, sn := range sensors {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		data, err := sn.Heartbeat()
		if err != nil {
			return err
		}
		if err := s.transport.Publish(ctx, topic, data); err != nil {
			s.logger.Warn("Heartbeat failed", "alias", sn.Descriptor().Alias, "error", err)
			continue
		}
		s.heartbeats.Add(1)
	}
	return nil
}

func (s *Simulator) answer(sn *Sensor) func(context.Context, []byte) {
	d := sn.Descriptor()
	return func(ctx context.Context, _ []byte) {
		s.polls.Add(1)
		if sn.Drops() {
			s.dropped.Add(1)
			return
		}
		v := sn.Read()
		if err := s.transport.Publish(ctx, d.ReadTopic, Reply(v)); err != nil {
			s.logger.Warn("Reply failed", "source", d.Source(), "error", err)
			return
		}
		s.answered.Add(1)
		s.logger.Debug("Answered poll", "source", d.Source(), "value", v)
	}
}
