// Package main implements the dvs-mapper entry point. The mapper converts
// DVS measurements bridged onto NATS into Thin Edge JSON documents.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yhegen/thin-edge.io/config"
	"github.com/yhegen/thin-edge.io/health"
	"github.com/yhegen/thin-edge.io/mapper"
	"github.com/yhegen/thin-edge.io/metric"
	"github.com/yhegen/thin-edge.io/natsclient"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "dvs-mapper"
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

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	slog.Info("Starting DVS mapper",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"platform", cfg.Platform.ID)

	ctx := context.Background()
	registry := metric.NewMetricsRegistry()

	natsClient, err := createNATSClient(cfg, cliCfg.ShutdownTimeout, registry, logger)
	if err != nil {
		return err
	}
	if err := connectToNATS(ctx, natsClient); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := natsClient.Close(closeCtx); err != nil {
			slog.Warn("Error closing NATS connection", "error", err)
		}
	}()

	m, err := mapper.New(mapperConfig(cfg), natsClient,
		mapper.WithLogger(logger),
		mapper.WithMetrics(registry))
	if err != nil {
		return fmt.Errorf("create mapper: %w", err)
	}

	monitor := health.NewMonitor()
	monitor.Register("mapper", m.Health)
	monitor.Register("nats", natsProbe(natsClient))

	return runWithSignalHandling(ctx, cfg, cliCfg.ShutdownTimeout, m, registry, monitor)
}

// initializeCLI parses and validates flags
func initializeCLI(args []string) (*CLIConfig, bool, error) {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp(os.Stderr, newFlagSet(&CLIConfig{}))
		return nil, true, nil
	}

	return cliCfg, false, nil
}

// loadConfig layers the config file, environment and flags, then validates
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	applyFlagOverrides(cfg, cliCfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyFlagOverrides(cfg *config.Config, cliCfg *CLIConfig) {
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	if cliCfg.MetricsAddr != "" {
		cfg.Metrics.Address = cliCfg.MetricsAddr
	}
}

func mapperConfig(cfg *config.Config) mapper.Config {
	return mapper.Config{
		InputSubject:     cfg.Mapper.InputSubject,
		OutputSubject:    cfg.Mapper.OutputSubject,
		ErrorSubject:     cfg.Mapper.ErrorSubject,
		ErrorStream:      cfg.Mapper.ErrorStream,
		DefaultTimestamp: cfg.Mapper.DefaultTimestamp,
	}
}

// createNATSClient builds the client from the nats config section. Draining
// on close shares the process shutdown timeout.
func createNATSClient(
	cfg *config.Config,
	drainTimeout time.Duration,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(fmt.Sprintf("%s-%s", appName, cfg.Platform.ID)),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithDrainTimeout(drainTimeout),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				logger.Info("NATS connection healthy")
			} else {
				logger.Warn("NATS connection unhealthy, mapper output paused")
			}
		}),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	return client, nil
}

// connectToNATS establishes NATS connection and waits for it to be ready
func connectToNATS(ctx context.Context, natsClient *natsclient.Client) error {
	slog.Info("Connecting to NATS")
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	return nil
}

func natsProbe(client *natsclient.Client) health.Probe {
	return func() health.Status {
		status := client.Status()
		switch status {
		case natsclient.StatusConnected:
			return health.NewHealthy("nats", status.String())
		case natsclient.StatusConnecting, natsclient.StatusReconnecting:
			return health.NewDegraded("nats", status.String())
		default:
			return health.NewUnhealthy("nats", status.String())
		}
	}
}

// runWithSignalHandling starts the mapper and metrics server and blocks
// until a shutdown signal or a server failure.
func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	shutdownTimeout time.Duration,
	m *mapper.Mapper,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := m.Start(signalCtx); err != nil {
		return fmt.Errorf("start mapper: %w", err)
	}

	g, gctx := errgroup.WithContext(signalCtx)
	if cfg.Metrics.Enabled {
		srv := metric.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, registry, monitor.Check)
		g.Go(func() error {
			return srv.Run(gctx)
		})
		slog.Info("Metrics server enabled", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	}

	slog.Info("DVS mapper started successfully")

	<-gctx.Done()
	slog.Info("Received shutdown signal")

	stopErr := m.Stop(shutdownTimeout)
	if stopErr != nil {
		slog.Error("Error stopping mapper", "error", stopErr)
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", stopErr)
	}

	stats := m.Stats()
	slog.Info("DVS mapper shutdown complete",
		"received", stats.Received,
		"converted", stats.Converted,
		"rejected", stats.Rejected)
	return nil
}
