package publisher

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jclmnop/distributed-iiot-poc/errors"
)

// HTTPConfig configures an audit-log HTTP sink.
type HTTPConfig struct {
	URL     string
	Token   string
	Timeout time.Duration

	// Breaker opens after this many consecutive failures and stays open for
	// OpenFor before a trial request is let through.
	FailureThreshold uint32
	OpenFor          time.Duration
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenFor <= 0 {
		c.OpenFor = 30 * time.Second
	}
	return c
}

// HTTPSink POSTs each frame to an audit-log endpoint. A circuit breaker
// stops calls to an endpoint that keeps failing.
type HTTPSink struct {
	url     string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPSink creates an HTTP sink. onStateChange, if not nil, observes
// breaker transitions.
func NewHTTPSink(cfg HTTPConfig, onStateChange func(open bool)) (*HTTPSink, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: audit url %q", errors.ErrInvalidConfig, cfg.URL),
			"HTTPSink", "NewHTTPSink", "parse url")
	}
	cfg = cfg.withDefaults()

	settings := gobreaker.Settings{
		Name:    "audit:" + u.Host,
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	if onStateChange != nil {
		settings.OnStateChange = func(_ string, _, to gobreaker.State) {
			onStateChange(to == gobreaker.StateOpen)
		}
	}

	return &HTTPSink{
		url:     cfg.URL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}, nil
}

// Name implements Sink.
func (s *HTTPSink) Name() string {
	return "http"
}

// State returns the breaker state.
func (s *HTTPSink) State() gobreaker.State {
	return s.breaker.State()
}

// Deliver implements Sink.
func (s *HTTPSink) Deliver(ctx context.Context, d Delivery) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, d)
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrCircuitOpen, err),
			"HTTPSink", "Deliver", "post to audit log")
	}
	return err
}

func (s *HTTPSink) post(ctx context.Context, d Delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(d.Frame))
	if err != nil {
		return errors.WrapInvalid(err, "HTTPSink", "post", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Consumer-ID", d.ConsumerID)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "HTTPSink", "post", "send request")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.WrapTransient(
			fmt.Errorf("%w: audit endpoint returned %s", errors.ErrPublishFailed, resp.Status),
			"HTTPSink", "post", "check response")
	}
	return nil
}
