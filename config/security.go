package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// A full mapper config is well under 4KB.
	maxConfigSize = 64 << 10

	// The deepest section is nats.tls: root, nats, tls.
	maxConfigDepth = 3

	// Env values are subjects, URLs, credentials and levels.
	maxEnvVarLen = 4096
	maxPathLen   = 4096
)

// Config file formats, chosen by extension
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// configFormat validates a config file path and returns its format
func configFormat(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty config path")
	}
	if len(path) > maxPathLen {
		return "", fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}
	if strings.ContainsRune(path, 0) {
		return "", errors.New("null byte in config path")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("only JSON or YAML config files allowed: %s", path)
	}
}

// readConfigFile reads a regular file of at most maxConfigSize bytes. The
// size is checked on the open handle and enforced while reading, so a file
// swapped or grown after the check is still bounded.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	if len(data) > maxConfigSize {
		return nil, fmt.Errorf("config file too large: more than %d bytes", maxConfigSize)
	}
	return data, nil
}

// checkNesting rejects documents nested deeper than any config section.
// Runs on the decoded map so JSON and YAML layers get the same limit.
func checkNesting(raw map[string]any) error {
	return checkNestingAt(raw, "", 1)
}

func checkNestingAt(v any, path string, depth int) error {
	var children map[string]any
	switch t := v.(type) {
	case map[string]any:
		children = t
	case []any:
		children = make(map[string]any, len(t))
		for i, item := range t {
			children[fmt.Sprintf("[%d]", i)] = item
		}
	default:
		return nil
	}

	if depth > maxConfigDepth {
		return fmt.Errorf("config nested too deep at %s: %d > %d", path, depth, maxConfigDepth)
	}

	for key, child := range children {
		childPath := key
		switch {
		case strings.HasPrefix(key, "["):
			childPath = path + key
		case path != "":
			childPath = path + "." + key
		}
		if err := checkNestingAt(child, childPath, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// validateEnvVar rejects oversized or multi-line override values
func validateEnvVar(key, value string) error {
	if value == "" {
		return nil
	}
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsAny(value, "\x00\r\n") {
		return fmt.Errorf("environment variable %s contains control characters", key)
	}
	return nil
}
