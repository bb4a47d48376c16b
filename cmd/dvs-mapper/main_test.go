package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yhegen/thin-edge.io/config"
	"github.com/yhegen/thin-edge.io/health"
	"github.com/yhegen/thin-edge.io/metric"
	"github.com/yhegen/thin-edge.io/natsclient"
)

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{
		"--config", "/etc/tedge/dvs-mapper.yaml",
		"--log-format", "text",
		"--metrics-addr", ":9191",
		"--shutdown-timeout", "3s",
		"--validate",
	})
	require.NoError(t, err)

	assert.Equal(t, "/etc/tedge/dvs-mapper.yaml", cfg.ConfigPath)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, ":9191", cfg.MetricsAddr)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Validate)
	assert.Empty(t, cfg.LogLevel)
}

func TestParseFlags_DebugForcesLevel(t *testing.T) {
	cfg, err := parseFlags([]string{"--debug", "--log-level", "warn"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("TEDGE_DVS_CONFIG", "/tmp/from-env.json")
	t.Setenv("TEDGE_DVS_SHUTDOWN_TIMEOUT", "45s")
	t.Setenv("TEDGE_DVS_DEBUG", "not-a-bool")

	cfg, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.json", cfg.ConfigPath)
	assert.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.Debug)
}

func TestParseFlags_Unknown(t *testing.T) {
	_, err := parseFlags([]string{"--bogus"})
	assert.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "mapper.json")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0600))

	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr string
	}{
		{"valid", CLIConfig{ConfigPath: existing, LogLevel: "info", ShutdownTimeout: time.Second}, ""},
		{"missing config", CLIConfig{ConfigPath: existing + ".absent", ShutdownTimeout: time.Second}, "config file not found"},
		{"bad level", CLIConfig{LogLevel: "trace", ShutdownTimeout: time.Second}, "invalid log level"},
		{"bad format", CLIConfig{LogFormat: "xml", ShutdownTimeout: time.Second}, "invalid log format"},
		{"zero timeout", CLIConfig{}, "invalid shutdown timeout"},
		{"help skips checks", CLIConfig{ShowHelp: true}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := config.Defaults()
	applyFlagOverrides(cfg, &CLIConfig{LogLevel: "debug", MetricsAddr: "127.0.0.1:9999"})

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.LogFormatJSON, cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Address)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("platform:\n  id: edge-7\nmapper:\n  output_subject: c8y.m\n"), 0600))

	cfg, err := loadConfig(&CLIConfig{ConfigPath: path, LogFormat: "text"})
	require.NoError(t, err)
	assert.Equal(t, "edge-7", cfg.Platform.ID)
	assert.Equal(t, "text", cfg.Log.Format)

	mc := mapperConfig(cfg)
	assert.Equal(t, "c8y.m", mc.OutputSubject)
	assert.Equal(t, "dvs.>", mc.InputSubject)
	assert.True(t, mc.DefaultTimestamp)
	assert.NoError(t, mc.Validate())
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	_, err := loadConfig(&CLIConfig{MetricsAddr: "no-port"})
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestInitializeCLI_Version(t *testing.T) {
	cfg, exit, err := initializeCLI([]string{"--version"})
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, cfg)
}

func TestPrintDetailedHelp(t *testing.T) {
	var buf bytes.Buffer
	printDetailedHelp(&buf, newFlagSet(&CLIConfig{}))

	out := buf.String()
	assert.Contains(t, out, "-shutdown-timeout")
	assert.Contains(t, out, "TEDGE_DVS_CONFIG")
	assert.Contains(t, out, Version)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"dvs-mapper"`)
	assert.True(t, logger.Enabled(t.Context(), slog.LevelError))
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "text").Debug("starting")
	assert.Contains(t, buf.String(), "msg=starting")
}

func TestNATSProbe_Disconnected(t *testing.T) {
	client, err := natsclient.NewClient("nats://127.0.0.1:4222")
	require.NoError(t, err)

	status := natsProbe(client)()
	assert.Equal(t, "nats", status.Component)
	assert.True(t, status.IsUnhealthy())

	m := health.NewMonitor()
	m.Register("nats", natsProbe(client))
	assert.ErrorContains(t, m.Check(), "nats")
}

func TestCreateNATSClient(t *testing.T) {
	cfg := config.Defaults()
	cfg.NATS.URLs = []string{"nats://a:4222", "nats://b:4222"}
	cfg.NATS.Token = "s3cr3t"

	client, err := createNATSClient(cfg, 3*time.Second, metric.NewMetricsRegistry(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, "nats://a:4222,nats://b:4222", client.URL())
	assert.Equal(t, 3*time.Second, client.DrainTimeout())
	assert.Equal(t, natsclient.StatusDisconnected, client.Status())
}
