// Package main runs the built-in plant of simulated sensors against a NATS
// server or an MQTT broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jclmnop/distributed-iiot-poc/natsclient"
	"github.com/jclmnop/distributed-iiot-poc/simulation"
)

const appName = "sensor-sim"

type cliConfig struct {
	Transport      string
	URL            string
	Prefix         string
	HeartbeatEvery time.Duration
	Intervals      string
	LogLevel       string
}

func parseFlags() cliConfig {
	var cfg cliConfig
	flag.StringVar(&cfg.Transport, "transport", getEnv("SIM_TRANSPORT", "nats"), "Transport: nats or mqtt (env: SIM_TRANSPORT)")
	flag.StringVar(&cfg.URL, "url", getEnv("NATS_URL", ""),
		"Server URL; defaults to nats://localhost:4222 or tcp://localhost:1883 (env: NATS_URL)")
	flag.StringVar(&cfg.Prefix, "prefix", getEnv("SIM_PREFIX", "sim"), "Topic prefix (env: SIM_PREFIX)")
	flag.DurationVar(&cfg.HeartbeatEvery, "heartbeat-every", simulation.DefaultHeartbeatEvery, "Heartbeat period")
	flag.StringVar(&cfg.Intervals, "intervals", "", "Comma separated poll intervals, e.g. 10s,15s")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("SIM_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()
	return cfg
}

func main() {
	if err := run(parseFlags()); err != nil {
		slog.Error("Simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg cliConfig) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", appName)
	slog.SetDefault(logger)

	intervals, err := parseIntervals(cfg.Intervals)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transport, topics, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = transport.Close(closeCtx)
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var sensors []*simulation.Sensor
	for _, spec := range simulation.PlantSpecs(rng, intervals) {
		sn, err := simulation.NewSensor(spec, topics, rng)
		if err != nil {
			return err
		}
		sensors = append(sensors, sn)
	}

	logger.Info("Simulation running",
		"transport", cfg.Transport, "sensors", len(sensors), "heartbeat_topic", topics.Heartbeat())

	sim := simulation.New(transport, topics,
		simulation.WithHeartbeatEvery(cfg.HeartbeatEvery),
		simulation.WithLogger(logger))
	if err := sim.Run(ctx, sensors); err != nil {
		return err
	}

	stats := sim.Stats()
	logger.Info("Simulation stopped",
		"heartbeats", stats.Heartbeats, "polls", stats.Polls,
		"answered", stats.Answered, "dropped", stats.Dropped)
	return nil
}

func connect(ctx context.Context, cfg cliConfig, logger *slog.Logger) (simulation.Transport, simulation.Topics, error) {
	switch cfg.Transport {
	case "nats":
		url := cfg.URL
		if url == "" {
			url = "nats://localhost:4222"
		}
		client, err := natsclient.NewClient(url,
			natsclient.WithName(appName),
			natsclient.WithLogger(natsclient.NewSlogLogger(logger)))
		if err != nil {
			return nil, simulation.Topics{}, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, simulation.Topics{}, fmt.Errorf("connect to NATS: %w", err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.WaitForConnection(waitCtx); err != nil {
			_ = client.Close(context.Background())
			return nil, simulation.Topics{}, fmt.Errorf("NATS connection timeout: %w", err)
		}
		return client, simulation.NATSTopics(cfg.Prefix), nil

	case "mqtt":
		url := cfg.URL
		if url == "" {
			url = "tcp://localhost:1883"
		}
		t, err := simulation.NewMQTTTransport(ctx, simulation.MQTTConfig{
			Broker:   url,
			ClientID: fmt.Sprintf("%s-%d", appName, os.Getpid()),
		}, logger)
		if err != nil {
			return nil, simulation.Topics{}, err
		}
		return t, simulation.MQTTTopics(cfg.Prefix), nil

	default:
		return nil, simulation.Topics{}, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func parseIntervals(s string) ([]time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []time.Duration
	for _, part := range strings.Split(s, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q", part)
		}
		out = append(out, d)
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
