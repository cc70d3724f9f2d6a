package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// defaultYAML carries the built-in defaults. Loading it through the same
// parser as user config keeps boolean defaults (ner_enabled, llm_enabled)
// overridable from file and environment alike.
const defaultYAML = `
server:
  host: "0.0.0.0"
  port: 8085
  shutdown_timeout: 10s
log:
  level: info
  format: json
extraction:
  strategy_order: rules-first
  field_count_threshold: 2
  ner_enabled: true
  llm_enabled: true
ner:
  timeout: 5s
llm:
  timeout: 6s
  max_chars: 6000
cache:
  ttl: 10m
  max_entries: 1024
`

// Load builds the configuration from built-in defaults, an optional YAML
// file, and environment variables, in ascending precedence.
//
// Environment variables use underscore separator and are uppercased; the
// first underscore splits section from field:
//
//	SERVER_PORT            -> server.port
//	EXTRACTION_LLM_ENABLED -> extraction.llm_enabled
//	NER_API_KEY            -> ner.api_key
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// readConfigFile opens the file once and validates size and permissions
// on the open descriptor to avoid a TOCTOU race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	// Config files may carry API keys, so reject group/world access.
	// Skip on Windows (different permission model).
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return nil, fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
