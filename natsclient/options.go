package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jclmnop/distributed-iiot-poc/metric"
)

// Logger interface for injecting custom loggers
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

// defaultLogger writes through slog.Default.
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	slog.Default().Info(fmt.Sprintf(format, v...), "component", "natsclient")
}

func (l *defaultLogger) Errorf(format string, v ...any) {
	slog.Default().Error(fmt.Sprintf(format, v...), "component", "natsclient")
}

func (l *defaultLogger) Debugf(format string, v ...any) {
	slog.Default().Debug(fmt.Sprintf(format, v...), "component", "natsclient")
}

type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger adapts a slog.Logger to Logger.
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return &defaultLogger{}
	}
	return &slogLogger{logger: logger}
}

func (l *slogLogger) Printf(format string, v ...any) { l.logger.Info(fmt.Sprintf(format, v...)) }
func (l *slogLogger) Errorf(format string, v ...any) { l.logger.Error(fmt.Sprintf(format, v...)) }
func (l *slogLogger) Debugf(format string, v ...any) { l.logger.Debug(fmt.Sprintf(format, v...)) }

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithMaxReconnects sets the maximum number of reconnection attempts (-1 for infinite)
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithPingInterval sets how often the server is pinged. Zero keeps the default.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("ping interval must not be negative: %v", d)
		}
		if d > 0 {
			c.pingInterval = d
		}
		return nil
	}
}

// WithHealthInterval sets the interval for health monitoring; zero disables it.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.healthInterval = d
		return nil
	}
}

// WithLogger sets a custom logger for the client
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = &defaultLogger{}
		}
		c.logger = logger
		return nil
	}
}

// WithCircuitBreakerThreshold sets the number of failures before opening circuit
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			threshold = 5
		}
		c.circuitThreshold = threshold
		return nil
	}
}

// WithMaxBackoff sets the maximum backoff duration for circuit breaker
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < time.Second {
			d = time.Minute
		}
		c.maxBackoff = d
		return nil
	}
}

// WithJWTAndSeed authenticates with a user JWT and its nkey seed.
func WithJWTAndSeed(jwt, seed string) ClientOption {
	return func(c *Client) error {
		c.jwt = jwt
		c.seed = seed
		return nil
	}
}

// WithName sets the client name for identification
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout sets the connection timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithHandlerTimeout bounds the context handed to subscription handlers.
func WithHandlerTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("handler timeout must be positive: %v", d)
		}
		c.handlerTimeout = d
		return nil
	}
}

// WithMetrics records connection state and exchange latency.
func WithMetrics(metrics *metric.Metrics) ClientOption {
	return func(c *Client) error {
		c.metrics = metrics
		return nil
	}
}
