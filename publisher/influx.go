package publisher

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/jclmnop/distributed-iiot-poc/errors"
)

// Measurement is the InfluxDB measurement readings are written to.
const Measurement = "sensor_reading"

// InfluxConfig locates the bucket readings are written to.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Validate checks that every field is set.
func (c InfluxConfig) Validate() error {
	if c.URL == "" || c.Token == "" || c.Org == "" || c.Bucket == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: influx url, token, org and bucket are required", errors.ErrMissingConfig),
			"InfluxConfig", "Validate", "check fields")
	}
	return nil
}

// PointWriter writes points synchronously. api.WriteAPIBlocking satisfies it.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes every reading of a batch as one point.
type InfluxSink struct {
	writer PointWriter
	client influxdb2.Client
}

// NewInfluxSink connects a blocking write API to the configured bucket.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		client: client,
	}, nil
}

// NewInfluxSinkWithWriter wraps an existing writer.
func NewInfluxSinkWithWriter(w PointWriter) *InfluxSink {
	return &InfluxSink{writer: w}
}

// Name implements Sink.
func (s *InfluxSink) Name() string {
	return "influx"
}

// Deliver implements Sink. Error frames carry no readings and are skipped.
func (s *InfluxSink) Deliver(ctx context.Context, d Delivery) error {
	if d.Err != nil || len(d.Readings) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(d.Readings))
	for _, r := range d.Readings {
		points = append(points, influxdb2.NewPoint(Measurement,
			map[string]string{
				"sensor_id": r.SensorID.String(),
				"source":    r.Source,
				"status":    string(r.Status),
			},
			map[string]interface{}{
				"value": r.Value,
			},
			r.Timestamp,
		))
	}

	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return errors.WrapTransient(err, "InfluxSink", "Deliver", "write points")
	}
	return nil
}

// Close releases the client created by NewInfluxSink.
func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
