package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"

	jsoniter "github.com/json-iterator/go"

	"github.com/yhegen/thin-edge.io/natsclient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Log formats accepted by LogConfig.Format
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the complete mapper configuration
type Config struct {
	Version  string         `json:"version,omitempty"`
	Platform PlatformConfig `json:"platform"`
	NATS     NATSConfig     `json:"nats"`
	Mapper   MapperConfig   `json:"mapper"`
	Metrics  MetricsConfig  `json:"metrics"`
	Log      LogConfig      `json:"log"`
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	clone := *c
	clone.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	return &clone
}

// PlatformConfig identifies the device the mapper runs on
type PlatformConfig struct {
	ID string `json:"id"` // Device identifier, also used as NATS client name
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// MapperConfig selects the subjects the mapper reads from and writes to
type MapperConfig struct {
	InputSubject     string `json:"input_subject"`
	OutputSubject    string `json:"output_subject"`
	ErrorSubject     string `json:"error_subject"`
	ErrorStream      string `json:"error_stream,omitempty"` // JetStream stream for error reports, empty = core NATS
	DefaultTimestamp bool   `json:"default_timestamp"`      // Stamp documents without a time entry
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
	Path    string `json:"path"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return errors.New("platform.id is required")
	}

	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	for i, u := range c.NATS.URLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("nats.urls[%d] is empty", i)
		}
	}

	if c.NATS.TLS.Enabled && (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return errors.New("nats.tls.cert_file and nats.tls.key_file must be set together")
	}

	if err := c.Mapper.validate(); err != nil {
		return fmt.Errorf("mapper: %w", err)
	}

	if c.Metrics.Enabled {
		if err := validateAddress(c.Metrics.Address); err != nil {
			return fmt.Errorf("metrics.address: %w", err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}

	switch c.Log.Format {
	case "", LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("log.format %q is not one of json, text", c.Log.Format)
	}

	return nil
}

func (m MapperConfig) validate() error {
	subjects := []struct {
		field, value string
	}{
		{"input_subject", m.InputSubject},
		{"output_subject", m.OutputSubject},
		{"error_subject", m.ErrorSubject},
	}
	for _, s := range subjects {
		if s.value == "" {
			return fmt.Errorf("%s is required", s.field)
		}
		if !isValidNATSSubject(s.value) {
			return fmt.Errorf("%s %q is not a valid NATS subject", s.field, s.value)
		}
	}

	for _, s := range subjects[1:] {
		if !natsclient.IsLiteralSubject(s.value) {
			return fmt.Errorf("%s %q must not contain wildcards", s.field, s.value)
		}
		if natsclient.SubjectMatches(m.InputSubject, s.value) {
			return fmt.Errorf("%s %q must differ from and not be matched by input_subject %q",
				s.field, s.value, m.InputSubject)
		}
	}

	if m.ErrorStream != "" && strings.ContainsAny(m.ErrorStream, " .*>") {
		return fmt.Errorf("error_stream %q contains characters not allowed in stream names", m.ErrorStream)
	}

	return nil
}

// isValidNATSSubject checks token structure and wildcard placement.
// Tokens are non-empty; '>' may only appear as the final token.
func isValidNATSSubject(s string) bool {
	tokens := strings.Split(s, ".")
	for i, tok := range tokens {
		if tok == "" {
			return false
		}
		if tok == ">" && i != len(tokens)-1 {
			return false
		}
		for _, r := range tok {
			if unicode.IsSpace(r) {
				return false
			}
		}
		if len(tok) > 1 && strings.ContainsAny(tok, "*>") {
			return false
		}
	}
	return true
}

func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q", port)
	}
	if n < 0 || n > 65535 {
		return fmt.Errorf("port %d out of range", n)
	}
	return nil
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
