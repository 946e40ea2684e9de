package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jclmnop/distributed-iiot-poc/errors"
	"github.com/jclmnop/distributed-iiot-poc/natsclient"
)

// Transport carries heartbeats, polls and replies. *natsclient.Client is a
// Transport; MQTTTransport is the other.
type Transport interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string, handler natsclient.MessageHandler) error
	Close(ctx context.Context) error
}

var (
	_ Transport = (*natsclient.Client)(nil)
	_ Transport = (*MQTTTransport)(nil)
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string

	// ConnectAttempts bounds the connect retries; MaxElapsed bounds their
	// total duration.
	ConnectAttempts int
	MaxElapsed      time.Duration
}

// MQTTTransport publishes and subscribes with QoS 0 on an MQTT broker.
type MQTTTransport struct {
	client mqtt.Client
	logger *slog.Logger
}

// NewMQTTTransport connects to the broker, retrying with exponential backoff.
func NewMQTTTransport(ctx context.Context, cfg MQTTConfig, logger *slog.Logger) (*MQTTTransport, error) {
	if cfg.Broker == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: broker is required", errors.ErrMissingConfig),
			"MQTTTransport", "New", "check config")
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 5
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.MaxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.ConnectAttempts-1)), ctx)

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		if token.Wait() && token.Error() != nil {
			logger.Warn("Failed to connect to MQTT broker", "broker", cfg.Broker, "error", token.Error())
			return token.Error()
		}
		return nil
	}, policy)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, err),
			"MQTTTransport", "New", "connect to "+cfg.Broker)
	}

	logger.Info("Connected to MQTT broker", "broker", cfg.Broker)
	return &MQTTTransport{client: client, logger: logger}, nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends data on topic.
func (t *MQTTTransport) Publish(ctx context.Context, topic string, data []byte) error {
	if err := wait(ctx, t.client.Publish(topic, 0, false, data)); err != nil {
		return errors.WrapTransient(err, "MQTTTransport", "Publish", "publish to "+topic)
	}
	return nil
}

// Subscribe delivers messages on topic to handler until ctx ends.
func (t *MQTTTransport) Subscribe(ctx context.Context, topic string, handler natsclient.MessageHandler) error {
	token := t.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if ctx.Err() != nil {
			return
		}
		handler(ctx, msg.Payload())
	})
	if err := wait(ctx, token); err != nil {
		return errors.WrapTransient(err, "MQTTTransport", "Subscribe", "subscribe to "+topic)
	}

	go func() {
		<-ctx.Done()
		t.client.Unsubscribe(topic).WaitTimeout(time.Second)
	}()
	return nil
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close(_ context.Context) error {
	if t.client.IsConnected() {
		t.client.Disconnect(250)
		t.logger.Info("MQTT client disconnected")
	}
	return nil
}
