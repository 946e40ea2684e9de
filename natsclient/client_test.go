package natsclient

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jclmnop/distributed-iiot-poc/errors"
	"github.com/jclmnop/distributed-iiot-poc/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222,nats://localhost:4223")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222,nats://localhost:4223", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Zero(t, client.ActiveSubscriptions())
}

func TestNewClient_CredentialsMustPair(t *testing.T) {
	tests := []struct {
		name      string
		jwt, seed string
		wantErr   bool
	}{
		{"both", "eyJ0eXAiOiJKV1QifQ", "SUAM", false},
		{"neither", "", "", false},
		{"jwt only", "eyJ0eXAiOiJKV1QifQ", "", true},
		{"seed only", "", "SUAM", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient("nats://localhost:4222", WithJWTAndSeed(tt.jwt, tt.seed))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidConfig)
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithPingInterval(-time.Second))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithHandlerTimeout(0))
	assert.Error(t, err)
}

func TestPingInterval(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithPingInterval(0))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, client.PingInterval(), "zero keeps default")

	client, err = NewClient("nats://localhost:4222", WithPingInterval(7*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, client.PingInterval())
}

func TestBuildConnectionOptions(t *testing.T) {
	base, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	full, err := NewClient("nats://localhost:4222",
		WithJWTAndSeed("jwt", "seed"),
		WithName("NATS Sensor Polling Provider"),
	)
	require.NoError(t, err)

	assert.Len(t, full.buildConnectionOptions(), len(base.buildConnectionOptions())+2)
}

func TestConnectionCallbacks(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	client.setStatus(StatusConnected)

	disconnected := make(chan error, 1)
	health := make(chan bool, 2)
	client.OnDisconnect(func(err error) { disconnected <- err })
	client.OnHealthChange(func(healthy bool) { health <- healthy })

	lost := stderrors.New("read: connection reset")
	client.handleDisconnect(nil, lost)
	assert.Equal(t, StatusReconnecting, client.Status())
	assert.ErrorIs(t, <-disconnected, lost)
	assert.False(t, <-health)

	client.closed.Store(true)
	client.handleDisconnect(nil, lost)
	select {
	case err := <-disconnected:
		t.Fatalf("disconnect reported after close: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, errors.IsTransient(err))
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, time.Second, client.Backoff())
	assert.NotEqual(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithMaxBackoff(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for i := 0; i < 50; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 10*time.Second, client.Backoff())
}

func TestCircuitBreaker_MetricsFollowState(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	client, err := NewClient("nats://localhost:4222",
		WithMetrics(registry.CoreMetrics()),
		WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "iiot_nats_circuit_breaker" {
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetGauge().GetValue())
			return
		}
	}
	t.Fatal("circuit breaker gauge not exported")
}

func TestDisconnectedOperations(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	err = client.Publish(ctx, "iiot.readings.a", []byte("[]"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.IsTransient(err))

	err = client.Subscribe(ctx, "sim.heartbeat", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	err = client.QueueSubscribe(ctx, "sim.heartbeat", "pollers", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.Exchange(ctx, "sim.poll.1", "sim.read.1", []byte("poll"), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.IsTransient(err))

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.JetStream()
	assert.Error(t, err)
}

func TestConnect_Unreachable(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(200*time.Millisecond),
		WithMaxReconnects(0),
		WithHealthInterval(0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, int32(1), client.Failures())
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = client.WaitForConnection(ctx)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithJWTAndSeed("jwt", "seed"))
	require.NoError(t, err)

	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.jwt, "credentials cleared")
	assert.Empty(t, client.seed)

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	err = client.Publish(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentStatusAccess(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			client.recordFailure()
		}()
		go func() {
			defer wg.Done()
			_ = client.Status()
			_ = client.IsHealthy()
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, client.Failures(), int32(0))
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.Printf("connected to %s", "nats://a")
	logger.Errorf("failed: %v", stderrors.New("boom"))
	logger.Debugf("detail %d", 7)

	out := buf.String()
	assert.Contains(t, out, "connected to nats://a")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "detail 7")

	_, isDefault := NewSlogLogger(nil).(*defaultLogger)
	assert.True(t, isDefault)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}
