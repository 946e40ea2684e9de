package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every provider metric.
const Namespace = "iiot"

// Metrics are the provider-wide series. All Record methods are safe on a
// nil receiver so components can run without metrics.
type Metrics struct {
	SessionsActive    prometheus.Gauge
	SensorsRegistered *prometheus.GaugeVec
	ScheduleBuckets   *prometheus.GaugeVec
	HeartbeatsTotal   *prometheus.CounterVec
	TicksTotal        *prometheus.CounterVec
	ReadingsTotal     *prometheus.CounterVec
	ExchangeDuration  prometheus.Histogram
	DeliveriesTotal   *prometheus.CounterVec

	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the provider metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_active",
			Help:      "Number of attached consumer sessions",
		}),
		SensorsRegistered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sensors_registered",
			Help:      "Sensors known to a session",
		}, []string{"consumer"}),
		ScheduleBuckets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "schedule_buckets",
			Help:      "Active poll interval buckets, one ticker each",
		}, []string{"consumer"}),
		HeartbeatsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats received by outcome (registered, known, invalid, dropped)",
		}, []string{"consumer", "result"}),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ticks_total",
			Help:      "Schedule ticks executed",
		}, []string{"consumer"}),
		ReadingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "readings_total",
			Help:      "Readings produced by status",
		}, []string{"consumer", "status"}),
		ExchangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Duration of poll exchanges",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "deliveries_total",
			Help:      "Batch deliveries to sinks by result",
		}, []string{"consumer", "sink", "result"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "Circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SessionsActive,
		m.SensorsRegistered,
		m.ScheduleBuckets,
		m.HeartbeatsTotal,
		m.TicksTotal,
		m.ReadingsTotal,
		m.ExchangeDuration,
		m.DeliveriesTotal,
		m.NATSConnected,
		m.NATSReconnects,
		m.NATSCircuitBreaker,
	}
}

// RecordSessions sets the number of attached sessions.
func (m *Metrics) RecordSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// RecordSessionSize sets the registry and schedule sizes of one session.
func (m *Metrics) RecordSessionSize(consumer string, sensors, buckets int) {
	if m == nil {
		return
	}
	m.SensorsRegistered.WithLabelValues(consumer).Set(float64(sensors))
	m.ScheduleBuckets.WithLabelValues(consumer).Set(float64(buckets))
}

// ForgetSession drops the per-session series of a detached consumer.
func (m *Metrics) ForgetSession(consumer string) {
	if m == nil {
		return
	}
	m.SensorsRegistered.DeleteLabelValues(consumer)
	m.ScheduleBuckets.DeleteLabelValues(consumer)
}

// RecordHeartbeat counts a heartbeat by outcome.
func (m *Metrics) RecordHeartbeat(consumer, result string) {
	if m == nil {
		return
	}
	m.HeartbeatsTotal.WithLabelValues(consumer, result).Inc()
}

// RecordTick counts one schedule tick.
func (m *Metrics) RecordTick(consumer string) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(consumer).Inc()
}

// RecordReading counts one reading by status.
func (m *Metrics) RecordReading(consumer, status string) {
	if m == nil {
		return
	}
	m.ReadingsTotal.WithLabelValues(consumer, status).Inc()
}

// RecordExchange observes the duration of one poll exchange.
func (m *Metrics) RecordExchange(d time.Duration) {
	if m == nil {
		return
	}
	m.ExchangeDuration.Observe(d.Seconds())
}

// RecordDelivery counts a sink delivery.
func (m *Metrics) RecordDelivery(consumer, sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DeliveriesTotal.WithLabelValues(consumer, sink, result).Inc()
}

// RecordNATSStatus records NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.NATSConnected.Set(1)
	} else {
		m.NATSConnected.Set(0)
	}
}

// RecordNATSReconnect records a NATS reconnection
func (m *Metrics) RecordNATSReconnect() {
	if m == nil {
		return
	}
	m.NATSReconnects.Inc()
}

// RecordCircuitBreakerState records circuit breaker state
func (m *Metrics) RecordCircuitBreakerState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.NATSCircuitBreaker.Set(1)
	} else {
		m.NATSCircuitBreaker.Set(0)
	}
}
