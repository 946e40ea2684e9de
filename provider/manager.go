package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jclmnop/distributed-iiot-poc/config"
	"github.com/jclmnop/distributed-iiot-poc/errors"
	"github.com/jclmnop/distributed-iiot-poc/health"
	"github.com/jclmnop/distributed-iiot-poc/metric"
	"github.com/jclmnop/distributed-iiot-poc/pkg/retry"
	"github.com/jclmnop/distributed-iiot-poc/pkg/worker"
	"github.com/jclmnop/distributed-iiot-poc/poller"
	"github.com/jclmnop/distributed-iiot-poc/publisher"
	"github.com/jclmnop/distributed-iiot-poc/schedule"
	"github.com/jclmnop/distributed-iiot-poc/sensor"
)

// Manager holds one Session per linked consumer.
type Manager struct {
	defaults config.ProviderConfig
	dialer   Dialer
	retry    errors.RetryConfig

	metrics     *metric.Metrics
	poolMetrics *worker.Metrics
	hub         *publisher.Hub
	logger      *slog.Logger

	// base outlives any single Attach call; sessions derive from it.
	base       context.Context
	baseCancel context.CancelFunc

	// opMu serializes Attach and Detach so a re-link cannot interleave with
	// the teardown of the session it replaces.
	opMu     sync.Mutex
	mu       sync.RWMutex
	sessions map[string]*Session

	monitor *health.Monitor
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialer replaces the NATS dialer.
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithMetrics records provider metrics.
func WithMetrics(metrics *metric.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithPoolMetrics records heartbeat intake pool metrics.
func WithPoolMetrics(pm *worker.Metrics) ManagerOption {
	return func(m *Manager) {
		m.poolMetrics = pm
	}
}

// WithHub lets links broadcast their readings on the websocket hub.
func WithHub(h *publisher.Hub) ManagerOption {
	return func(m *Manager) {
		m.hub = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConnectRetry sets the backoff between connect attempts. The number of
// attempts comes from ProviderConfig.ConnectAttempts.
func WithConnectRetry(rc errors.RetryConfig) ManagerOption {
	return func(m *Manager) {
		m.retry = rc
	}
}

// NewManager creates a Manager. Zero fields of defaults take the package
// defaults of config.
func NewManager(defaults config.ProviderConfig, opts ...ManagerOption) *Manager {
	cfg := config.Config{Provider: defaults}
	cfg.ApplyDefaults()

	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		defaults:   cfg.Provider,
		retry:      errors.DefaultRetryConfig(),
		logger:     slog.Default(),
		base:       base,
		baseCancel: cancel,
		sessions:   make(map[string]*Session),
		monitor:    health.NewMonitor(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = NATSDialer(m.logger, m.metrics)
	}
	m.logger = m.logger.With("component", "provider")
	return m
}

// Attach creates the session for link, replacing any session the consumer
// already has. The link is rejected with an error when its values are
// invalid or the bus cannot be reached.
func (m *Manager) Attach(ctx context.Context, link config.Link) error {
	if err := link.Validate(); err != nil {
		return err
	}

	conn, err := config.ConnectionFromValues(link.Values)
	if err != nil {
		return err
	}
	conn = m.defaults.Connection.Merge(conn).WithDefaults()
	if err := conn.Validate(); err != nil {
		return err
	}
	sinkCfg, err := config.SinksFromValues(link.Values)
	if err != nil {
		return err
	}
	if sinkCfg.WebSocket && m.hub == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: WEBSOCKET requested but no hub is served", errors.ErrInvalidConfig),
			"Manager", "Attach", "check sinks")
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.base.Err() != nil {
		return errors.WrapFatal(errors.ErrShuttingDown, "Manager", "Attach", "attach link")
	}

	if m.detachLocked(ctx, link.ConsumerID) {
		m.logger.Info("Replacing existing link", "consumer_id", link.ConsumerID)
	}

	s, err := m.buildSession(ctx, link.ConsumerID, conn, sinkCfg)
	if err != nil {
		m.logger.Warn("Link rejected", "consumer_id", link.ConsumerID, "error", err)
		return err
	}

	m.mu.Lock()
	m.sessions[link.ConsumerID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.RecordSessions(n)
	m.logger.Info("Link attached",
		"consumer_id", link.ConsumerID,
		"servers", conn.ServerURL(),
		"subscriptions", len(conn.HeartbeatSubscriptions()),
		"sink", s.sinks.Name())
	return nil
}

func (m *Manager) buildSession(ctx context.Context, id string, conn config.ConnectionConfig,
	sinkCfg config.SinkConfig) (*Session, error) {
	bus, err := m.dialer(conn, m.defaults.Name+":"+id)
	if err != nil {
		return nil, errors.Wrap(err, "Manager", "Attach", "dial bus")
	}

	rc := m.retry
	rc.MaxRetries = m.defaults.ConnectAttempts - 1
	retryCfg := rc.ToRetryConfig()
	retryCfg.Retryable = errors.IsTransient
	if err := retry.Do(ctx, retryCfg, func() error { return bus.Connect(ctx) }); err != nil {
		_ = bus.Close(context.Background())
		return nil, errors.Wrap(err, "Manager", "Attach", "connect bus")
	}

	sessCtx, cancel := context.WithCancel(m.base)
	logger := m.logger.With("consumer_id", id)
	s := &Session{
		id:       id,
		conn:     conn,
		bus:      bus,
		logger:   logger,
		registry: sensor.NewRegistry(),
		metrics:  m.metrics,
		ctx:      sessCtx,
		cancel:   cancel,
		started:  time.Now(),
	}
	s.lastErr.Store("")
	if ev, ok := bus.(ConnectionEvents); ok {
		ev.OnDisconnect(s.onDisconnect)
		ev.OnHealthChange(s.onHealthChange)
	}
	s.schedule = schedule.NewManager(sessCtx, s.onTick, schedule.WithLogger(logger))

	fail := func(err error) (*Session, error) {
		closeCtx, done := context.WithTimeout(context.Background(), intakeStopTimeout)
		defer done()
		_ = s.close(closeCtx)
		return nil, err
	}

	sinks, err := m.buildSinks(ctx, id, bus, sinkCfg, logger)
	if err != nil {
		return fail(err)
	}
	s.sinks = sinks

	s.publisher = publisher.New(id, sinks,
		publisher.WithMetrics(m.metrics),
		publisher.WithLogger(logger))
	s.poller = poller.New(bus,
		poller.WithFanOut(m.defaults.FanOutLimit),
		poller.WithTimeout(m.defaults.PollTimeout.Std()),
		poller.WithLogger(logger),
		poller.WithObserver(func(r poller.Reading) {
			m.metrics.RecordReading(id, string(r.Status))
		}))

	poolOpts := []worker.Option[[]byte]{}
	if m.poolMetrics != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[[]byte](m.poolMetrics, "heartbeat:"+id))
	}
	s.intake = worker.NewPool(m.defaults.IntakeWorkers, m.defaults.IntakeQueue,
		s.handleHeartbeat, poolOpts...)
	if err := s.intake.Start(sessCtx); err != nil {
		return fail(errors.Wrap(err, "Manager", "Attach", "start heartbeat intake"))
	}

	for _, sub := range conn.HeartbeatSubscriptions() {
		if sub.Queue != "" {
			err = bus.QueueSubscribe(sessCtx, sub.Subject, sub.Queue, s.receive)
		} else {
			err = bus.Subscribe(sessCtx, sub.Subject, s.receive)
		}
		if err != nil {
			return fail(errors.Wrap(err, "Manager", "Attach",
				fmt.Sprintf("subscribe heartbeat subject %s", sub.Subject)))
		}
		logger.Debug("Listening for heartbeats", "subject", sub.Subject, "queue", sub.Queue)
	}

	return s, nil
}

func (m *Manager) buildSinks(ctx context.Context, id string, bus Bus, cfg config.SinkConfig,
	logger *slog.Logger) (*publisher.MultiSink, error) {
	var sinks []publisher.Sink

	subject := cfg.ResultSubject
	if subject == "" {
		subject = publisher.DefaultSubject(id)
	}
	busSink, err := publisher.NewBusSink(bus, subject)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, busSink)

	if cfg.ResultStream != "" {
		stream, err := publisher.NewStreamSink(ctx, bus, cfg.ResultStream, subject+".stream")
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, stream)
	}

	if cfg.AuditURL != "" {
		audit, err := publisher.NewHTTPSink(publisher.HTTPConfig{
			URL:   cfg.AuditURL,
			Token: cfg.AuditToken,
		}, func(open bool) {
			m.metrics.RecordCircuitBreakerState(open)
			if open {
				logger.Warn("Audit sink circuit opened", "url", cfg.AuditURL)
			} else {
				logger.Info("Audit sink circuit closed", "url", cfg.AuditURL)
			}
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, audit)
	}

	if cfg.InfluxEnabled() {
		influx, err := publisher.NewInfluxSink(publisher.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, influx)
	}

	if cfg.WebSocket {
		sinks = append(sinks, m.hub)
	}

	return publisher.NewMultiSink(sinks...), nil
}

// Detach tears down the consumer's session. It reports whether one existed.
func (m *Manager) Detach(ctx context.Context, consumerID string) bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.detachLocked(ctx, consumerID)
}

func (m *Manager) detachLocked(ctx context.Context, consumerID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[consumerID]
	delete(m.sessions, consumerID)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.metrics.RecordSessions(n)
	m.monitor.Remove(consumerID)
	if err := s.close(ctx); err != nil {
		m.logger.Warn("Link teardown incomplete", "consumer_id", consumerID, "error", err)
	}
	m.logger.Info("Link detached", "consumer_id", consumerID)
	return true
}

// ShutdownAll detaches every session. Further Attach calls are refused.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.baseCancel()

	var errs []error
	for _, id := range m.ids() {
		m.mu.Lock()
		s := m.sessions[id]
		delete(m.sessions, id)
		m.mu.Unlock()

		if err := s.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
		m.monitor.Remove(id)
	}
	m.metrics.RecordSessions(0)
	m.logger.Info("All links detached")
	return stderrors.Join(errs...)
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sessions returns the attached sessions ordered by consumer id.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Session returns the session of one consumer.
func (m *Manager) Session(consumerID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[consumerID]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(errors.ErrSessionNotFound, "Manager", "Session",
			fmt.Sprintf("look up %q", consumerID))
	}
	return s, nil
}

// Health aggregates the health of every session. A provider without links is
// healthy.
func (m *Manager) Health() health.Status {
	sessions := m.Sessions()
	statuses := make([]health.Status, 0, len(sessions))
	for _, s := range sessions {
		statuses = append(statuses, s.Health())
	}
	m.monitor.Replace(statuses)
	return m.monitor.Aggregate(m.defaults.Name)
}
