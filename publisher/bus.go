package publisher

import (
	"context"
	"fmt"
	"strings"

	"github.com/jclmnop/distributed-iiot-poc/errors"
)

// DefaultSubjectPrefix prefixes the per-consumer result subject.
const DefaultSubjectPrefix = "iiot.readings"

// BusPublisher publishes on a core NATS subject.
type BusPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// StreamPublisher publishes into a JetStream stream.
type StreamPublisher interface {
	CreateStream(ctx context.Context, name string, subjects []string) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// DefaultSubject returns the result subject for consumerID. Characters that
// are not valid inside a subject token are replaced with '_'.
func DefaultSubject(consumerID string) string {
	return DefaultSubjectPrefix + "." + subjectToken(consumerID)
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// BusSink publishes frames on a core NATS subject.
type BusSink struct {
	bus     BusPublisher
	subject string
}

// NewBusSink creates a sink publishing on subject.
func NewBusSink(bus BusPublisher, subject string) (*BusSink, error) {
	if err := validateSubject(subject); err != nil {
		return nil, errors.WrapInvalid(err, "BusSink", "NewBusSink", "check subject")
	}
	return &BusSink{bus: bus, subject: subject}, nil
}

// Subject returns the result subject.
func (s *BusSink) Subject() string {
	return s.subject
}

// Name implements Sink.
func (s *BusSink) Name() string {
	return "bus"
}

// Deliver implements Sink.
func (s *BusSink) Deliver(ctx context.Context, d Delivery) error {
	return s.bus.Publish(ctx, s.subject, d.Frame)
}

// StreamSink publishes frames into a JetStream stream.
type StreamSink struct {
	bus     StreamPublisher
	stream  string
	subject string
}

// NewStreamSink creates stream if needed, capturing subject, and returns a
// sink publishing on it.
func NewStreamSink(ctx context.Context, bus StreamPublisher, stream, subject string) (*StreamSink, error) {
	if stream == "" || strings.ContainsAny(stream, ".*> \t") {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: stream name %q", errors.ErrInvalidConfig, stream),
			"StreamSink", "NewStreamSink", "check stream name")
	}
	if err := validateSubject(subject); err != nil {
		return nil, errors.WrapInvalid(err, "StreamSink", "NewStreamSink", "check subject")
	}
	if err := bus.CreateStream(ctx, stream, []string{subject}); err != nil {
		return nil, errors.Wrap(err, "StreamSink", "NewStreamSink", "create stream "+stream)
	}
	return &StreamSink{bus: bus, stream: stream, subject: subject}, nil
}

// Name implements Sink.
func (s *StreamSink) Name() string {
	return "stream"
}

// Deliver implements Sink.
func (s *StreamSink) Deliver(ctx context.Context, d Delivery) error {
	return s.bus.PublishToStream(ctx, s.subject, d.Frame)
}

func validateSubject(subject string) error {
	if subject == "" {
		return fmt.Errorf("%w: empty result subject", errors.ErrInvalidConfig)
	}
	if strings.ContainsAny(subject, "*> \t\r\n") {
		return fmt.Errorf("%w: result subject %q must be a literal subject", errors.ErrInvalidConfig, subject)
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "" {
			return fmt.Errorf("%w: result subject %q has an empty token", errors.ErrInvalidConfig, subject)
		}
	}
	return nil
}
