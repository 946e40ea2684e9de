// Package main runs the sensor polling provider: it attaches the configured
// links, serves metrics, health and the readings websocket, and optionally
// answers link control requests over NATS.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jclmnop/distributed-iiot-poc/config"
	"github.com/jclmnop/distributed-iiot-poc/metric"
	"github.com/jclmnop/distributed-iiot-poc/natsclient"
	"github.com/jclmnop/distributed-iiot-poc/pkg/worker"
	"github.com/jclmnop/distributed-iiot-poc/provider"
	"github.com/jclmnop/distributed-iiot-poc/publisher"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "iiot-poller"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "links", len(cfg.Links))
		return nil
	}

	registry := metric.NewMetricsRegistry()
	poolMetrics, err := worker.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("register worker metrics: %w", err)
	}
	hub := publisher.NewHub(logger)

	manager := provider.NewManager(cfg.Provider,
		provider.WithDialer(provider.NATSDialer(logger, registry.CoreMetrics())),
		provider.WithMetrics(registry.CoreMetrics()),
		provider.WithPoolMetrics(poolMetrics),
		provider.WithHub(hub),
		provider.WithLogger(logger))

	server := startHTTPServer(cfg, registry, manager, hub)
	defer func() {
		if err := server.Stop(); err != nil {
			slog.Warn("Failed to stop HTTP server", "error", err)
		}
	}()

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if cfg.Control.Enabled {
		control, err := startControl(signalCtx, cfg, manager, registry.CoreMetrics(), logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = control.Close(closeCtx)
		}()
	}

	attachLinks(signalCtx, manager, cfg.Links)

	slog.Info("Provider started", "links", len(manager.Sessions()), "http", server.Address())

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := manager.ShutdownAll(shutdownCtx); err != nil {
		slog.Error("Error detaching links", "error", err)
	}
	hub.Shutdown()

	slog.Info("Provider shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting sensor polling provider",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads the file, or the defaults when no file was
// given, and applies flag overrides.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cliCfg.ConfigPath == "" {
		cfg, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cliCfg.ConfigPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.HTTPPort != 0 {
		cfg.HTTP.Port = cliCfg.HTTPPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func startHTTPServer(cfg *config.Config, registry *metric.MetricsRegistry, manager *provider.Manager,
	hub *publisher.Hub) *metric.Server {
	server := metric.NewServer(cfg.HTTP.Port, cfg.HTTP.MetricsPath, registry)
	server.SetHealth(func() (bool, any) {
		st := manager.Health()
		return !st.IsUnhealthy(), st
	})
	server.Handle(publisher.HubPath, hub)

	go func() {
		if err := server.Start(); err != nil {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
	return server
}

// startControl connects the provider's own bus client and serves the link
// control API on it.
func startControl(ctx context.Context, cfg *config.Config, manager *provider.Manager,
	metrics *metric.Metrics, logger *slog.Logger) (*natsclient.Client, error) {
	client, err := provider.NewNATSClient(cfg.Provider.Connection, cfg.Provider.Name+":control", logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("create control client: %w", err)
	}

	slog.Info("Connecting control client", "servers", cfg.Provider.Connection.ServerURL())
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect control client: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("control client connection timeout: %w", err)
	}

	server := provider.NewControlServer(client, manager, cfg.Control.Prefix, logger)
	if err := server.Start(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("start control API: %w", err)
	}
	return client, nil
}

// attachLinks attaches the links of the config file. A rejected link is
// logged; the others still start.
func attachLinks(ctx context.Context, manager *provider.Manager, links []config.Link) {
	for _, l := range links {
		if err := manager.Attach(ctx, l); err != nil {
			slog.Error("Failed to attach link", "consumer_id", l.ConsumerID, "error", err)
		}
	}
}
