package poller

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jclmnop/distributed-iiot-poc/sensor"
)

// Defaults for a Poller.
const (
	DefaultFanOut  = 20
	DefaultTimeout = 500 * time.Millisecond
	DefaultTrigger = "poll"
)

// Exchanger performs one request/response exchange over the bus.
type Exchanger interface {
	Exchange(ctx context.Context, pollSubject, readSubject string, payload []byte,
		timeout time.Duration) ([]byte, error)
}

// Poller turns sensor descriptors into readings.
type Poller struct {
	bus     Exchanger
	fanOut  int
	timeout time.Duration
	trigger []byte
	now     func() time.Time
	observe func(Reading)
	logger  *slog.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithFanOut bounds concurrent exchanges per Poll call.
func WithFanOut(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.fanOut = n
		}
	}
}

// WithTimeout sets the per-exchange timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTrigger sets the payload published on the poll subject.
func WithTrigger(payload string) Option {
	return func(p *Poller) {
		if payload != "" {
			p.trigger = []byte(payload)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// WithObserver is called once for every reading produced.
func WithObserver(fn func(Reading)) Option {
	return func(p *Poller) {
		p.observe = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Poller over bus.
func New(bus Exchanger, opts ...Option) *Poller {
	p := &Poller{
		bus:     bus,
		fanOut:  DefaultFanOut,
		timeout: DefaultTimeout,
		trigger: []byte(DefaultTrigger),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Timeout returns the per-exchange timeout.
func (p *Poller) Timeout() time.Duration {
	return p.timeout
}

// Poll reads every sensor once and returns one reading per sensor, in input
// order. All readings share a timestamp taken when the tick started. If ctx
// ends, sensors not yet read are reported as COMM_ERROR.
func (p *Poller) Poll(ctx context.Context, sensors []sensor.Descriptor) []Reading {
	ts := p.now().UTC().Truncate(time.Second)
	readings := make([]Reading, len(sensors))

	var g errgroup.Group
	g.SetLimit(p.fanOut)

	for i, d := range sensors {
		if ctx.Err() != nil {
			readings[i] = commError(ts, d)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				readings[i] = commError(ts, d)
				return nil
			}
			readings[i] = p.pollOne(ctx, ts, d)
			return nil
		})
	}
	_ = g.Wait()

	if p.observe != nil {
		for _, r := range readings {
			p.observe(r)
		}
	}
	return readings
}

func (p *Poller) pollOne(ctx context.Context, ts time.Time, d sensor.Descriptor) Reading {
	reply, err := p.bus.Exchange(ctx, d.PollTopic, d.ReadTopic, p.trigger, p.timeout)
	if err != nil {
		p.logger.Debug("Sensor exchange failed",
			"sensor_id", d.ID, "source", d.Source(), "error", err)
		return commError(ts, d)
	}

	value, err := DecodeValue(reply)
	if err != nil {
		p.logger.Debug("Sensor reply not decodable",
			"sensor_id", d.ID, "source", d.Source(), "error", err)
		return Reading{
			Timestamp: ts,
			SensorID:  d.ID,
			Source:    d.Source(),
			Status:    StatusValueError,
			Value:     err.Error(),
		}
	}

	return Reading{
		Timestamp: ts,
		SensorID:  d.ID,
		Source:    d.Source(),
		Status:    StatusSuccess,
		Value:     value,
	}
}

func commError(ts time.Time, d sensor.Descriptor) Reading {
	return Reading{
		Timestamp: ts,
		SensorID:  d.ID,
		Source:    d.Source(),
		Status:    StatusCommError,
		Value:     CommErrorValue,
	}
}
