package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is the prefix of environment overrides, e.g. TEDGE_DVS_NATS_URLS.
const DefaultEnvPrefix = "TEDGE_DVS"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: DefaultEnvPrefix,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Defaults returns the configuration used when no layer sets a field
func Defaults() *Config {
	return &Config{
		Platform: PlatformConfig{
			ID: "tedge",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Mapper: MapperConfig{
			InputSubject:     "dvs.>",
			OutputSubject:    "tedge.measurements",
			ErrorSubject:     "tedge.errors",
			DefaultTimestamp: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatJSON,
		},
	}
}

// loadRaw loads a JSON or YAML file as a map, chosen by file extension
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	format, err := configFormat(path)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if err := checkNesting(raw); err != nil {
		return nil, err
	}

	if err := l.parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}

	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// parseDurations converts duration strings to nanoseconds for unmarshaling
func (l *Loader) parseDurations(data map[string]any) error {
	nats, ok := data["nats"].(map[string]any)
	if !ok {
		return nil
	}
	wait, ok := nats["reconnect_wait"].(string)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(wait)
	if err != nil {
		return fmt.Errorf("nats.reconnect_wait: %w", err)
	}
	nats["reconnect_wait"] = d.Nanoseconds()
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var firstErr error
	get := func(name string) string {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ""
		}
		return val
	}

	if val := get("PLATFORM_ID"); val != "" {
		cfg.Platform.ID = val
	}

	// NATS overrides
	if val := get("NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := get("NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := get("NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := get("NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}

	// Mapper overrides
	if val := get("MAPPER_INPUT_SUBJECT"); val != "" {
		cfg.Mapper.InputSubject = val
	}
	if val := get("MAPPER_OUTPUT_SUBJECT"); val != "" {
		cfg.Mapper.OutputSubject = val
	}
	if val := get("MAPPER_ERROR_SUBJECT"); val != "" {
		cfg.Mapper.ErrorSubject = val
	}
	if val := get("MAPPER_ERROR_STREAM"); val != "" {
		cfg.Mapper.ErrorStream = val
	}
	if val := get("MAPPER_DEFAULT_TIMESTAMP"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s_MAPPER_DEFAULT_TIMESTAMP: %w", l.envPrefix, err)
		} else if err == nil {
			cfg.Mapper.DefaultTimestamp = b
		}
	}

	if val := get("METRICS_ADDRESS"); val != "" {
		cfg.Metrics.Address = val
	}
	if val := get("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := get("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}

	return firstErr
}
