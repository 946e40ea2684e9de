// Package testutil provides an in-memory bus and scripted sensors for unit
// tests of the polling provider.
package testutil

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jclmnop/distributed-iiot-poc/errors"
	"github.com/jclmnop/distributed-iiot-poc/natsclient"
)

// ExchangeFunc answers one poll of a scripted sensor. ctx carries the
// exchange timeout.
type ExchangeFunc func(ctx context.Context, payload []byte) ([]byte, error)

type mockSub struct {
	ctx     context.Context
	subject string
	queue   string
	handler natsclient.MessageHandler
}

// MockBus is an in-memory stand-in for natsclient.Client. Published messages
// are recorded per subject and delivered synchronously to matching
// subscriptions. Exchanges are answered by sensors scripted per poll subject.
// Safe for concurrent use.
type MockBus struct {
	mu sync.RWMutex

	// ConnectErr, when set, is returned by every Connect call.
	ConnectErr error
	// PublishErr, when set, is returned by Publish and PublishToStream.
	PublishErr error

	connected bool
	closed    bool
	connects  int

	subs     []*mockSub
	requests map[string]natsclient.RequestHandler
	sensors  map[string]ExchangeFunc
	messages map[string][][]byte
	streams  map[string][]string

	exchanges   map[string]int
	inFlight    int
	maxInFlight int

	onDisconnect   func(error)
	onHealthChange func(bool)
}

// NewMockBus creates a disconnected bus.
func NewMockBus() *MockBus {
	return &MockBus{
		requests:  make(map[string]natsclient.RequestHandler),
		sensors:   make(map[string]ExchangeFunc),
		messages:  make(map[string][][]byte),
		streams:   make(map[string][]string),
		exchanges: make(map[string]int),
	}
}

// NewConnectedBus creates a bus that is already connected.
func NewConnectedBus() *MockBus {
	b := NewMockBus()
	b.connected = true
	return b
}

// Connect marks the bus connected unless ConnectErr is set.
func (b *MockBus) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connects++
	if b.closed {
		return errors.WrapInvalid(natsclient.ErrClosed, "MockBus", "Connect", "connect")
	}
	if b.ConnectErr != nil {
		return errors.WrapTransient(b.ConnectErr, "MockBus", "Connect", "connect")
	}
	b.connected = true
	return nil
}

// Close drops every subscription and rejects further use.
func (b *MockBus) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.connected = false
	b.subs = nil
	b.requests = make(map[string]natsclient.RequestHandler)
	return nil
}

func (b *MockBus) checkOpen(method string) error {
	if b.closed || !b.connected {
		return errors.WrapTransient(errors.ErrNoConnection, "MockBus", method, "check connection")
	}
	return nil
}

// Subscribe registers handler for subject until ctx ends or Close.
func (b *MockBus) Subscribe(ctx context.Context, subject string, handler natsclient.MessageHandler) error {
	return b.QueueSubscribe(ctx, subject, "", handler)
}

// QueueSubscribe registers handler in a queue group. Each message reaches
// one member per group.
func (b *MockBus) QueueSubscribe(ctx context.Context, subject, queue string,
	handler natsclient.MessageHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen("Subscribe"); err != nil {
		return err
	}
	b.subs = append(b.subs, &mockSub{ctx: ctx, subject: subject, queue: queue, handler: handler})
	return nil
}

// HandleRequests registers a request responder on subject.
func (b *MockBus) HandleRequests(_ context.Context, subject string, handler natsclient.RequestHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen("HandleRequests"); err != nil {
		return err
	}
	b.requests[subject] = handler
	return nil
}

// Request invokes the responder registered on subject.
func (b *MockBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	b.mu.RLock()
	handler, ok := b.requests[subject]
	err := b.checkOpen("Request")
	b.mu.RUnlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.WrapTransient(fmt.Errorf("no responders on %s", subject),
			"MockBus", "Request", "request "+subject)
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return handler(reqCtx, data), nil
}

// Publish records data and delivers it to matching subscriptions.
func (b *MockBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	if err := b.checkOpen("Publish"); err != nil {
		b.mu.Unlock()
		return err
	}
	if b.PublishErr != nil {
		err := b.PublishErr
		b.mu.Unlock()
		return errors.WrapTransient(err, "MockBus", "Publish", "publish to "+subject)
	}
	b.messages[subject] = append(b.messages[subject], append([]byte(nil), data...))
	handlers := b.matching(subject)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, data)
	}
	return nil
}

// matching picks the live handlers for subject, one per queue group.
// Caller holds the lock.
func (b *MockBus) matching(subject string) []natsclient.MessageHandler {
	var handlers []natsclient.MessageHandler
	groups := make(map[string]bool)

	live := b.subs[:0]
	for _, s := range b.subs {
		if s.ctx.Err() != nil {
			continue
		}
		live = append(live, s)
		if !SubjectMatches(s.subject, subject) {
			continue
		}
		if s.queue != "" {
			if groups[s.queue] {
				continue
			}
			groups[s.queue] = true
		}
		handlers = append(handlers, s.handler)
	}
	b.subs = live
	return handlers
}

// Exchange answers a poll with the sensor scripted on pollSubject.
// Unscripted subjects time out immediately.
func (b *MockBus) Exchange(ctx context.Context, pollSubject, _ string, payload []byte,
	timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	if err := b.checkOpen("Exchange"); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	fn := b.sensors[pollSubject]
	b.exchanges[pollSubject]++
	b.inFlight++
	if b.inFlight > b.maxInFlight {
		b.maxInFlight = b.inFlight
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if fn == nil {
		return nil, errors.WrapTransient(errors.ErrExchangeTimeout, "MockBus", "Exchange", "await reply")
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := fn(waitCtx, payload)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %v", errors.ErrExchangeTimeout, timeout)
		}
		return nil, errors.WrapTransient(err, "MockBus", "Exchange", "await reply")
	}
	return reply, nil
}

// CreateStream records a stream definition.
func (b *MockBus) CreateStream(_ context.Context, name string, subjects []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen("CreateStream"); err != nil {
		return err
	}
	b.streams[name] = append([]string(nil), subjects...)
	return nil
}

// PublishToStream records data like Publish without delivering it.
func (b *MockBus) PublishToStream(_ context.Context, subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen("PublishToStream"); err != nil {
		return err
	}
	if b.PublishErr != nil {
		return errors.WrapTransient(b.PublishErr, "MockBus", "PublishToStream", "publish to "+subject)
	}
	b.messages[subject] = append(b.messages[subject], append([]byte(nil), data...))
	return nil
}

// Script installs fn as the sensor listening on pollSubject.
func (b *MockBus) Script(pollSubject string, fn ExchangeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sensors[pollSubject] = fn
}

// Unscript removes the sensor on pollSubject.
func (b *MockBus) Unscript(pollSubject string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sensors, pollSubject)
}

// Exchanges returns how many polls were sent to pollSubject.
func (b *MockBus) Exchanges(pollSubject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exchanges[pollSubject]
}

// MaxInFlight returns the highest number of concurrent exchanges seen.
func (b *MockBus) MaxInFlight() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxInFlight
}

// Messages returns a copy of the payloads published on subject.
func (b *MockBus) Messages(subject string) [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs := b.messages[subject]
	if msgs == nil {
		return nil
	}
	out := make([][]byte, len(msgs))
	copy(out, msgs)
	return out
}

// MessageCount returns the number of payloads published on subject.
func (b *MockBus) MessageCount(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages[subject])
}

// Stream returns the subjects recorded for a stream.
func (b *MockBus) Stream(name string) ([]string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.streams[name]
	return s, ok
}

// ActiveSubscriptions counts subscriptions whose context is still live.
func (b *MockBus) ActiveSubscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, s := range b.subs {
		if s.ctx.Err() == nil {
			n++
		}
	}
	return n
}

// Connects returns the number of Connect calls.
func (b *MockBus) Connects() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connects
}

// IsHealthy reports whether the bus is connected and open.
func (b *MockBus) IsHealthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected && !b.closed
}

// OnDisconnect registers the callback fired by Disconnect.
func (b *MockBus) OnDisconnect(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDisconnect = fn
}

// OnHealthChange registers the callback fired by Disconnect and Reconnect.
func (b *MockBus) OnHealthChange(fn func(bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onHealthChange = fn
}

// Disconnect simulates a lost connection without closing the bus. The
// registered callbacks run before it returns.
func (b *MockBus) Disconnect() {
	b.mu.Lock()
	b.connected = false
	onDisconnect, onHealthChange := b.onDisconnect, b.onHealthChange
	b.mu.Unlock()

	if onDisconnect != nil {
		onDisconnect(errors.ErrConnectionLost)
	}
	if onHealthChange != nil {
		onHealthChange(false)
	}
}

// Reconnect restores a connection lost with Disconnect.
func (b *MockBus) Reconnect() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.connected = true
	onHealthChange := b.onHealthChange
	b.mu.Unlock()

	if onHealthChange != nil {
		onHealthChange(true)
	}
}

// IsClosed reports whether Close was called.
func (b *MockBus) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// SubjectMatches applies NATS wildcard rules: "*" matches one token and a
// trailing ">" matches one or more.
func SubjectMatches(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return i == len(p)-1 && len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}
