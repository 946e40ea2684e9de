// Package publisher serializes the readings of one tick and hands the frame
// to the consumer's sinks. A frame that cannot be serialized is replaced by
// a structured error frame so the consumer still hears about the tick.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jclmnop/distributed-iiot-poc/errors"
	"github.com/jclmnop/distributed-iiot-poc/metric"
	"github.com/jclmnop/distributed-iiot-poc/poller"
)

// ErrorTypeSerialization marks a batch that failed to serialize.
const ErrorTypeSerialization = "BLOB_SER"

// ErrorFrame is delivered in place of a batch that could not be encoded.
type ErrorFrame struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
}

// Delivery is one tick's output for one consumer. Frame is always set;
// Readings is nil when Err is set.
type Delivery struct {
	ConsumerID string
	Frame      []byte
	Readings   []poller.Reading
	Err        *ErrorFrame
}

// Sink receives deliveries. Implementations must be safe for concurrent use
// because ticks of different intervals run in parallel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// MarshalFunc encodes a batch of readings.
type MarshalFunc func(v any) ([]byte, error)

// Publisher delivers batches for one consumer.
type Publisher struct {
	consumerID string
	sink       Sink
	marshal    MarshalFunc
	metrics    *metric.Metrics
	logger     *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMarshal replaces json.Marshal for batch encoding.
func WithMarshal(fn MarshalFunc) Option {
	return func(p *Publisher) {
		if fn != nil {
			p.marshal = fn
		}
	}
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Publisher delivering to sink.
func New(consumerID string, sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		consumerID: consumerID,
		sink:       sink,
		marshal:    json.Marshal,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sink returns the configured sink.
func (p *Publisher) Sink() Sink {
	return p.sink
}

// Publish encodes readings and delivers the frame once. Failures are logged
// and counted but not retried; the next tick carries fresh readings.
func (p *Publisher) Publish(ctx context.Context, readings []poller.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if readings == nil {
		readings = []poller.Reading{}
	}

	d := Delivery{ConsumerID: p.consumerID}
	frame, err := p.marshal(readings)
	if err != nil {
		serErr := errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrSerialization, err),
			"Publisher", "Publish", "encode readings")
		p.logger.Error("Failed to serialize readings",
			"consumer_id", p.consumerID, "readings", len(readings), "error", serErr)

		d.Err = &ErrorFrame{ErrorType: ErrorTypeSerialization, Description: err.Error()}
		d.Frame = EncodeErrorFrame(*d.Err)
	} else {
		d.Frame = frame
		d.Readings = readings
	}

	return p.deliver(ctx, d)
}

func (p *Publisher) deliver(ctx context.Context, d Delivery) error {
	if m, ok := p.sink.(*MultiSink); ok {
		return m.deliverEach(ctx, d, p.record)
	}
	err := p.sink.Deliver(ctx, d)
	p.record(p.sink.Name(), err)
	return err
}

func (p *Publisher) record(sink string, err error) {
	p.metrics.RecordDelivery(p.consumerID, sink, err)
	if err != nil {
		p.logger.Warn("Result delivery failed",
			"consumer_id", p.consumerID, "sink", sink, "error", err)
	}
}

// EncodeErrorFrame renders f. The frame only holds strings so encoding
// cannot fail.
func EncodeErrorFrame(f ErrorFrame) []byte {
	data, _ := json.Marshal(f)
	return data
}
