// Package config provides configuration loading for maileventd.
package config

import (
	"fmt"
	"time"

	"github.com/parchlabs/mailevent/internal/extract"
	"github.com/parchlabs/mailevent/internal/logging"
)

// Config is the full maileventd configuration tree.
type Config struct {
	Server     ServerConfig   `koanf:"server"`
	Log        logging.Config `koanf:"log"`
	Extraction extract.Config `koanf:"extraction"`
	NER        NERConfig      `koanf:"ner"`
	LLM        LLMConfig      `koanf:"llm"`
	Cache      CacheConfig    `koanf:"cache"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// NERConfig holds the remote NER service settings.
type NERConfig struct {
	Endpoint string        `koanf:"endpoint"`
	APIKey   Secret        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

// Extractor converts to the extraction-layer config.
func (c NERConfig) Extractor() extract.NERConfig {
	return extract.NERConfig{
		Endpoint: c.Endpoint,
		APIKey:   c.APIKey.Value(),
		Timeout:  c.Timeout,
	}
}

// LLMConfig holds the remote generative-model settings.
type LLMConfig struct {
	Endpoint string        `koanf:"endpoint"`
	APIKey   Secret        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
	MaxChars int           `koanf:"max_chars"`
}

// Extractor converts to the extraction-layer config.
func (c LLMConfig) Extractor() extract.LLMConfig {
	return extract.LLMConfig{
		Endpoint: c.Endpoint,
		APIKey:   c.APIKey.Value(),
		Timeout:  c.Timeout,
		MaxChars: c.MaxChars,
	}
}

// CacheConfig holds the per-message result cache settings.
type CacheConfig struct {
	TTL        time.Duration `koanf:"ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

// Validate checks the loaded configuration. Errors here are fatal at
// startup; a running process never sees an invalid config.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Extraction.Validate(); err != nil {
		return fmt.Errorf("extraction: %w", err)
	}
	if c.NER.Timeout <= 0 {
		return fmt.Errorf("ner.timeout must be positive, got %s", c.NER.Timeout)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive, got %s", c.LLM.Timeout)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative, got %s", c.Cache.TTL)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries cannot be negative, got %d", c.Cache.MaxEntries)
	}
	return nil
}
