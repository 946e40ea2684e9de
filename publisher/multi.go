package publisher

import (
	"context"
	"strings"
)

// MultiSink fans a delivery out to several sinks. Every sink is attempted
// and the first error is returned.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Sinks returns the combined sinks.
func (m *MultiSink) Sinks() []Sink {
	return append([]Sink(nil), m.sinks...)
}

// Name joins the member names.
func (m *MultiSink) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Deliver implements Sink.
func (m *MultiSink) Deliver(ctx context.Context, d Delivery) error {
	return m.deliverEach(ctx, d, nil)
}

func (m *MultiSink) deliverEach(ctx context.Context, d Delivery, report func(string, error)) error {
	var first error
	for _, s := range m.sinks {
		err := s.Deliver(ctx, d)
		if report != nil {
			report(s.Name(), err)
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every member that holds resources.
func (m *MultiSink) Close() error {
	var first error
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
