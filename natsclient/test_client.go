package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestServer is a NATS server in a container plus a connected Client.
type TestServer struct {
	container testcontainers.Container
	Client    *Client
	URL       string
}

type testConfig struct {
	jetstream    bool
	natsVersion  string
	timeout      time.Duration
	startTimeout time.Duration
}

// TestOption configures a TestServer.
type TestOption func(*testConfig)

// WithJetStream enables JetStream on the test server.
func WithJetStream() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
	}
}

// WithNATSVersion selects the nats image tag.
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) {
		cfg.natsVersion = version
	}
}

// StartTestServer starts a server container. Use it from TestMain; tests
// should prefer NewTestServer.
func StartTestServer(ctx context.Context, opts ...TestOption) (*TestServer, error) {
	cfg := &testConfig{
		natsVersion:  "2.11.7-alpine",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	args := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		args = append(args, "--js")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:" + cfg.natsVersion,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          args,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start NATS container: %w", err)
	}

	ts := &TestServer{container: container}
	host, err := container.Host(ctx)
	if err != nil {
		ts.Terminate()
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		ts.Terminate()
		return nil, fmt.Errorf("mapped port: %w", err)
	}
	ts.URL = fmt.Sprintf("nats://%s:%s", host, port.Port())

	ts.Client, err = ts.Connect(ctx, WithTimeout(cfg.timeout))
	if err != nil {
		ts.Terminate()
		return nil, err
	}
	return ts, nil
}

// NewTestServer starts a server for one test and registers its cleanup.
func NewTestServer(t testing.TB, opts ...TestOption) *TestServer {
	t.Helper()

	ts, err := StartTestServer(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NATS test server: %v", err)
	}
	t.Cleanup(ts.Terminate)
	return ts
}

// Connect opens an additional client against the test server.
func (ts *TestServer) Connect(ctx context.Context, opts ...ClientOption) (*Client, error) {
	opts = append([]ClientOption{
		WithMaxReconnects(0),
		WithHealthInterval(0),
	}, opts...)

	client, err := NewClient(ts.URL, opts...)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("connect to test server: %w", err)
	}
	return client, nil
}

// Terminate closes the client and removes the container.
func (ts *TestServer) Terminate() {
	if ts.Client != nil {
		_ = ts.Client.Close(context.Background())
	}
	if ts.container != nil {
		_ = ts.container.Terminate(context.Background())
		ts.container = nil
	}
}
