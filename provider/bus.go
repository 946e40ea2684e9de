package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/jclmnop/distributed-iiot-poc/config"
	"github.com/jclmnop/distributed-iiot-poc/metric"
	"github.com/jclmnop/distributed-iiot-poc/natsclient"
)

// Bus is what a session needs from its NATS connection.
type Bus interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	IsHealthy() bool

	Subscribe(ctx context.Context, subject string, handler natsclient.MessageHandler) error
	QueueSubscribe(ctx context.Context, subject, queue string, handler natsclient.MessageHandler) error
	Publish(ctx context.Context, subject string, data []byte) error
	Exchange(ctx context.Context, pollSubject, readSubject string, payload []byte,
		timeout time.Duration) ([]byte, error)

	CreateStream(ctx context.Context, name string, subjects []string) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// ConnectionEvents is implemented by buses that report connection changes
// after Connect. Callbacks may run on any goroutine.
type ConnectionEvents interface {
	OnDisconnect(fn func(error))
	OnHealthChange(fn func(healthy bool))
}

var (
	_ Bus              = (*natsclient.Client)(nil)
	_ ConnectionEvents = (*natsclient.Client)(nil)
)

// Dialer creates an unconnected bus for cfg. name identifies the
// connection to the server.
type Dialer func(cfg config.ConnectionConfig, name string) (Bus, error)

// NATSDialer dials real NATS clients.
func NATSDialer(logger *slog.Logger, metrics *metric.Metrics) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(cfg config.ConnectionConfig, name string) (Bus, error) {
		return NewNATSClient(cfg, name, logger, metrics)
	}
}

// NewNATSClient builds a natsclient.Client from a connection config.
func NewNATSClient(cfg config.ConnectionConfig, name string, logger *slog.Logger,
	metrics *metric.Metrics) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(name),
		natsclient.WithLogger(natsclient.NewSlogLogger(logger.With("connection", name))),
		natsclient.WithMetrics(metrics),
		natsclient.WithPingInterval(cfg.PingInterval()),
	}
	if cfg.AuthJWT != "" || cfg.AuthSeed != "" {
		opts = append(opts, natsclient.WithJWTAndSeed(cfg.AuthJWT, cfg.AuthSeed))
	}
	return natsclient.NewClient(cfg.ServerURL(), opts...)
}
