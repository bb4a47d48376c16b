package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	MetricsAddr     string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := newFlagSet(cfg)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

// newFlagSet defines the command-line flags, with environment fallbacks, on cfg
func newFlagSet(cfg *CLIConfig) *flag.FlagSet {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("TEDGE_DVS_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: TEDGE_DVS_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("TEDGE_DVS_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: TEDGE_DVS_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error; overrides log.level")

	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text; overrides log.format")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("TEDGE_DVS_DEBUG", false),
		"Enable debug logging (env: TEDGE_DVS_DEBUG)")

	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "",
		"Metrics listen address; overrides metrics.address")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("TEDGE_DVS_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: TEDGE_DVS_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs.Output(), fs)
	}

	return fs
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - DVS to Thin Edge JSON mapper

Usage: %s [options]

Options:
`, appName, appName)
	fs.SetOutput(w)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run with a config file
  %[1]s --config=/etc/tedge/dvs-mapper.yaml

  # Run against a remote broker with text logs
  export TEDGE_DVS_NATS_URLS=nats://broker:4222
  %[1]s --log-level=debug --log-format=text

  # Validate configuration only
  %[1]s --config=/etc/tedge/dvs-mapper.yaml --validate

Every config field can be overridden with a TEDGE_DVS_* environment variable,
e.g. TEDGE_DVS_MAPPER_OUTPUT_SUBJECT or TEDGE_DVS_PLATFORM_ID.

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
