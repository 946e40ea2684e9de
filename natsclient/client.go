package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jclmnop/distributed-iiot-poc/errors"
	"github.com/jclmnop/distributed-iiot-poc/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrClosed       = stderrors.New("client is closed")
)

// MessageHandler processes the payload of one message.
type MessageHandler func(ctx context.Context, data []byte)

// RequestHandler answers a request; a nil reply sends nothing.
type RequestHandler func(ctx context.Context, data []byte) []byte

// Client manages one NATS connection and every subscription made through it.
type Client struct {
	url      string
	status   atomic.Value // ConnectionStatus
	failures atomic.Int32
	logger   Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs map[*nats.Subscription]struct{}

	// Circuit breaker
	lastFailure      atomic.Value // time.Time
	backoff          atomic.Value // time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	// Connection options
	maxReconnects  int
	reconnectWait  time.Duration
	pingInterval   time.Duration
	timeout        time.Duration
	drainTimeout   time.Duration
	handlerTimeout time.Duration

	// Credentials, cleared on close
	jwt  string
	seed string

	clientName string
	metrics    *metric.Metrics

	onDisconnect   func(error)
	onHealthChange func(bool)

	healthTicker   *time.Ticker
	healthInterval time.Duration
	healthDone     chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a client for url, a comma separated list of servers.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           &defaultLogger{},
		subs:             make(map[*nats.Subscription]struct{}),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     5 * time.Second,
		handlerTimeout:   30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	if (c.jwt == "") != (c.seed == "") {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: jwt and seed must be set together", errors.ErrInvalidConfig),
			"Client", "NewClient", "check credentials")
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debugf("Created NATS client for %s", url)
	return c, nil
}

// URL returns the configured server list
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	m.metrics.RecordNATSStatus(status == StatusConnected)
	m.metrics.RecordCircuitBreakerState(status == StatusCircuitOpen)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current backoff duration
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// recordFailure counts a connect failure and opens the circuit once the
// threshold is reached. Each opening doubles the backoff up to maxBackoff.
func (m *Client) recordFailure() {
	total := m.failures.Add(1)
	m.lastFailure.Store(time.Now())
	round := m.circuitFailures.Add(1)

	m.logger.Debugf("Recorded failure %d (circuit failures: %d)", total, round)

	if round < m.circuitThreshold {
		return
	}

	current := m.Status()
	backoff := m.backoff.Load().(time.Duration)
	next := backoff * 2
	if next > m.maxBackoff {
		next = m.maxBackoff
	}

	if current == StatusCircuitOpen {
		m.backoff.Store(next)
		m.circuitFailures.Store(0)
		m.logger.Printf("Circuit breaker still open, increased backoff to %v", next)
		return
	}

	if m.status.CompareAndSwap(current, StatusCircuitOpen) {
		m.metrics.RecordCircuitBreakerState(true)
		m.backoff.Store(next)
		m.circuitFailures.Store(0)
		m.logger.Printf("Circuit breaker opened after %d failures, backing off for %v", round, backoff)
		time.AfterFunc(backoff, m.testCircuit)
	}
}

func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the circuit so the next Connect may try again.
func (m *Client) testCircuit() {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debugf("Circuit breaker test: moving from open to disconnected")
		m.setStatus(StatusDisconnected)
	}
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(
				fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, ctx.Err()),
				"Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
			if m.IsHealthy() {
				return nil
			}
		}
	}
}

// PingInterval returns the server ping interval
func (m *Client) PingInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingInterval
}

func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.jwt != "" && m.seed != "" {
		opts = append(opts, nats.UserJWTAndSeed(m.jwt, m.seed))
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	return opts
}

// Connect establishes the connection. It fails fast while the circuit is
// open and records every failure against it.
func (m *Client) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return errors.WrapInvalid(ErrClosed, "Client", "Connect", "check client state")
	}
	if m.Status() == StatusCircuitOpen {
		m.logger.Debugf("Circuit breaker is open, skipping connection attempt")
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "check circuit")
	}

	m.setStatus(StatusConnecting)
	m.logger.Printf("Connecting to NATS at %s", m.url)

	opts := m.buildConnectionOptions()
	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		if ctx.Err() != nil {
			conn.Close()
			connectDone <- ctx.Err()
			return
		}

		js, jsErr := jetstream.New(conn)

		m.mu.Lock()
		m.conn = conn
		if jsErr == nil {
			m.js = js
		}
		m.mu.Unlock()

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			return m.connectFailed(err, "establish connection")
		}
	case <-ctx.Done():
		return m.connectFailed(ctx.Err(), "connection cancelled")
	}

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Printf("Successfully connected to NATS at %s", m.url)

	if m.healthInterval > 0 {
		m.startHealthMonitoring()
	}
	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()
	if onHealthChange != nil {
		onHealthChange(true)
	}
	return nil
}

func (m *Client) connectFailed(err error, action string) error {
	m.recordFailure()
	if m.Status() == StatusCircuitOpen {
		return errors.WrapTransient(fmt.Errorf("%w: %v", ErrCircuitOpen, err), "Client", "Connect", action)
	}
	m.setStatus(StatusDisconnected)
	return errors.WrapTransient(err, "Client", "Connect", action)
}

// Close releases every subscription, drains and closes the connection and
// clears credentials. Calling it again is a no-op.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Swap(true) {
		return nil
	}

	m.stopHealthMonitoring()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for sub := range m.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrBadSubscription) &&
			!stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe "+sub.Subject))
		}
	}
	m.subs = make(map[*nats.Subscription]struct{})

	if m.conn != nil {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		conn := m.conn
		if err := conn.Drain(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
		} else if err := waitClosed(ctx, conn, drainTimeout); err != nil {
			errs = append(errs, err)
		}

		conn.Close()
		m.conn = nil
		m.js = nil
	}

	m.jwt = ""
	m.seed = ""
	m.setStatus(StatusDisconnected)

	return stderrors.Join(errs...)
}

// waitClosed waits for an asynchronous drain to finish.
func waitClosed(ctx context.Context, conn *nats.Conn, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for !conn.IsClosed() {
		select {
		case <-timer.C:
			return errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout), "Client", "Close", "drain")
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "Client", "Close", "drain")
		case <-ticker.C:
		}
	}
	return nil
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	conn, err := m.activeConn()
	if err != nil {
		return 0, err
	}
	return conn.RTT()
}

func (m *Client) activeConn() (*nats.Conn, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}
	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

func (m *Client) track(sub *nats.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		_ = sub.Unsubscribe()
		return
	}
	m.subs[sub] = struct{}{}
}

// release untracks and unsubscribes sub.
func (m *Client) release(sub *nats.Subscription) {
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()

	// Auto-unsubscribed or closed subscriptions report ErrBadSubscription.
	_ = sub.Unsubscribe()
}

// ActiveSubscriptions returns the number of live subscriptions.
func (m *Client) ActiveSubscriptions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func (m *Client) dispatch(ctx context.Context, handler MessageHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		msgCtx, cancel := context.WithTimeout(ctx, m.handlerTimeout)
		defer cancel()
		handler(msgCtx, msg.Data)
	}
}

// Subscribe delivers messages on subject to handler until ctx ends or the
// client closes. The handler context derives from ctx.
func (m *Client) Subscribe(ctx context.Context, subject string, handler MessageHandler) error {
	conn, err := m.activeConn()
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe to "+subject)
	}

	sub, err := conn.Subscribe(subject, m.dispatch(ctx, handler))
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err),
			"Client", "Subscribe", "subscribe to "+subject)
	}
	m.track(sub)
	m.releaseOnDone(ctx, sub)
	return nil
}

// QueueSubscribe is Subscribe within a queue group, so each message reaches
// one member of the group.
func (m *Client) QueueSubscribe(ctx context.Context, subject, queue string, handler MessageHandler) error {
	conn, err := m.activeConn()
	if err != nil {
		return errors.WrapTransient(err, "Client", "QueueSubscribe", "subscribe to "+subject)
	}

	sub, err := conn.QueueSubscribe(subject, queue, m.dispatch(ctx, handler))
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err),
			"Client", "QueueSubscribe", fmt.Sprintf("subscribe to %s in %s", subject, queue))
	}
	m.track(sub)
	m.releaseOnDone(ctx, sub)
	return nil
}

// HandleRequests answers requests on subject with handler's reply.
func (m *Client) HandleRequests(ctx context.Context, subject string, handler RequestHandler) error {
	conn, err := m.activeConn()
	if err != nil {
		return errors.WrapTransient(err, "Client", "HandleRequests", "subscribe to "+subject)
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		msgCtx, cancel := context.WithTimeout(ctx, m.handlerTimeout)
		defer cancel()

		reply := handler(msgCtx, msg.Data)
		if reply == nil || msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			m.logger.Errorf("Failed to respond on %s: %v", subject, err)
		}
	})
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err),
			"Client", "HandleRequests", "subscribe to "+subject)
	}
	m.track(sub)
	m.releaseOnDone(ctx, sub)
	return nil
}

func (m *Client) releaseOnDone(ctx context.Context, sub *nats.Subscription) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		<-ctx.Done()
		m.release(sub)
	}()
}

// Publish publishes a message to a NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := m.activeConn()
	if err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrPublishFailed, err),
			"Client", "Publish", "publish to "+subject)
	}
	return nil
}

// Request sends data and waits for a single reply.
func (m *Client) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	conn, err := m.activeConn()
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Request", "request "+subject)
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := conn.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Request", "request "+subject)
	}
	return msg.Data, nil
}

// Exchange performs one poll: it subscribes to readSubject for a single
// message, publishes payload to pollSubject and waits up to timeout for the
// reply. The read subscription is released whatever the outcome.
//
// Sensors reply on their own read subject instead of a reply inbox because
// MQTT 3 bridges have no reply addressing.
func (m *Client) Exchange(ctx context.Context, pollSubject, readSubject string, payload []byte,
	timeout time.Duration) ([]byte, error) {
	start := time.Now()
	defer func() { m.metrics.RecordExchange(time.Since(start)) }()

	conn, err := m.activeConn()
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Exchange", "exchange with "+pollSubject)
	}

	sub, err := conn.SubscribeSync(readSubject)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err),
			"Client", "Exchange", "subscribe to "+readSubject)
	}
	m.track(sub)
	defer m.release(sub)

	if err := sub.AutoUnsubscribe(1); err != nil {
		return nil, errors.WrapTransient(err, "Client", "Exchange", "limit read subscription")
	}
	if err := conn.Publish(pollSubject, payload); err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrPublishFailed, err),
			"Client", "Exchange", "publish to "+pollSubject)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := sub.NextMsgWithContext(waitCtx)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %v", errors.ErrExchangeTimeout, timeout)
		}
		return nil, errors.WrapTransient(err, "Client", "Exchange", "await reply on "+readSubject)
	}
	return msg.Data, nil
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.js == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("JetStream not initialized"),
			"Client", "JetStream", "get JetStream context")
	}
	return m.js, nil
}

// EnsureStream creates the stream or updates an existing one to cfg.
func (m *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	if m.Status() != StatusConnected {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "EnsureStream", "check connection")
	}
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			return js.Stream(ctx, cfg.Name)
		}
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create stream "+cfg.Name)
	}
	return stream, nil
}

// CreateStream ensures a file-backed stream named name captures subjects.
func (m *Client) CreateStream(ctx context.Context, name string, subjects []string) error {
	_, err := m.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  jetstream.FileStorage,
	})
	return err
}

// PublishToStream publishes to a subject bound to a JetStream stream and
// waits for the ack.
func (m *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	if m.Status() != StatusConnected {
		return errors.WrapTransient(ErrNotConnected, "Client", "PublishToStream", "check connection")
	}
	js, err := m.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish to "+subject)
	}
	return nil
}

// OnHealthChange sets a callback for health status changes.
func (m *Client) OnHealthChange(fn func(healthy bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHealthChange = fn
}

// OnDisconnect sets a callback for a lost connection. The client keeps
// reconnecting in the background.
func (m *Client) OnDisconnect(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = fn
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	if err != nil {
		m.logger.Printf("Disconnected from NATS: %v", err)
	}

	m.mu.RLock()
	onDisconnect := m.onDisconnect
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onDisconnect != nil {
		go onDisconnect(err)
	}
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleReconnect(conn *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.metrics.RecordNATSReconnect()
	m.logger.Printf("Reconnected to NATS at %s", conn.ConnectedUrl())

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		m.logger.Errorf("NATS error on %s: %v", sub.Subject, err)
		return
	}
	m.logger.Errorf("NATS error: %v", err)
}

func (m *Client) startHealthMonitoring() {
	m.stopHealthMonitoring()

	m.mu.Lock()
	m.healthTicker = time.NewTicker(m.healthInterval)
	m.healthDone = make(chan struct{})
	ticker := m.healthTicker
	done := m.healthDone
	m.mu.Unlock()

	go func() {
		defer ticker.Stop()
		lastHealthy := m.IsHealthy()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				conn := m.GetConnection()
				if conn == nil {
					continue
				}

				healthy := conn.IsConnected()
				if _, err := conn.RTT(); err != nil {
					healthy = false
				}

				if healthy && m.Status() != StatusConnected {
					m.setStatus(StatusConnected)
				} else if !healthy && m.Status() == StatusConnected {
					m.setStatus(StatusReconnecting)
				}

				m.mu.RLock()
				onHealthChange := m.onHealthChange
				m.mu.RUnlock()
				if healthy != lastHealthy && onHealthChange != nil {
					onHealthChange(healthy)
				}
				lastHealthy = healthy
			}
		}
	}()
}

func (m *Client) stopHealthMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.healthTicker != nil {
		m.healthTicker.Stop()
		m.healthTicker = nil
	}
	if m.healthDone != nil {
		close(m.healthDone)
		m.healthDone = nil
	}
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "already exists") ||
		strings.Contains(errStr, "stream name already in use")
}
