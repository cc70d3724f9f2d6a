package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parchlabs/mailevent/internal/extract"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8085, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, extract.OrderRulesFirst, cfg.Extraction.StrategyOrder)
	assert.Equal(t, 2, cfg.Extraction.FieldCountThreshold)
	assert.True(t, cfg.Extraction.NEREnabled)
	assert.True(t, cfg.Extraction.LLMEnabled)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1024, cfg.Cache.MaxEntries)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
extraction:
  strategy_order: llm-first
  llm_enabled: false
ner:
  endpoint: "https://ner.example.com/model"
  api_key: "hf-secret"
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, extract.OrderLLMFirst, cfg.Extraction.StrategyOrder)
	assert.False(t, cfg.Extraction.LLMEnabled)
	assert.True(t, cfg.Extraction.NEREnabled, "untouched defaults survive a partial file")
	assert.Equal(t, "https://ner.example.com/model", cfg.NER.Endpoint)
	assert.Equal(t, "hf-secret", cfg.NER.APIKey.Value())
	assert.Equal(t, "[REDACTED]", cfg.NER.APIKey.String())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n", 0o600)
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("EXTRACTION_FIELD_COUNT_THRESHOLD", "3")
	t.Setenv("LLM_API_KEY", "gm-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Extraction.FieldCountThreshold)
	assert.Equal(t, "gm-secret", cfg.LLM.APIKey.Value())
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n", 0o644)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad strategy order", "extraction:\n  strategy_order: alphabetical\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"negative cache ttl", "cache:\n  ttl: -1m\n"},
		{"negative ner timeout", "ner:\n  timeout: -5s\n"},
		{"zero llm timeout", "llm:\n  timeout: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml, 0o600)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))

	var empty Secret
	assert.Empty(t, empty.String())
	assert.False(t, empty.IsSet())
}
