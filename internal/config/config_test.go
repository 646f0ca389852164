package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Platform.APIKey = "sk-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "local", cfg.Platform.Kind)
	assert.Equal(t, "gpt-4o", cfg.Platform.Model)
	assert.Equal(t, "You are a helpful agent", cfg.Platform.Instructions)
	assert.Equal(t, 20000, cfg.Platform.MaxPromptTokens)
	assert.Equal(t, "heuristic", cfg.Summarizer.Provider)
	assert.True(t, cfg.Logging.Redaction)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid local", func(c *Config) {}, ""},
		{
			"rest requires endpoint",
			func(c *Config) { c.Platform.Kind = "rest"; c.Platform.Endpoint = "" },
			"endpoint is required",
		},
		{
			"local requires api key",
			func(c *Config) { c.Platform.APIKey = "" },
			"api_key is required",
		},
		{
			"invalid platform kind",
			func(c *Config) { c.Platform.Kind = "cloud" },
			"invalid kind",
		},
		{
			"invalid provider",
			func(c *Config) { c.Platform.Provider = "mistral" },
			"invalid provider",
		},
		{
			"temperature out of range",
			func(c *Config) { c.Platform.Temperature = 1.5 },
			"temperature",
		},
		{
			"search enabled without key",
			func(c *Config) { c.Tools.Search.Enabled = true },
			"tools.search",
		},
		{
			"email enabled without webhook",
			func(c *Config) { c.Tools.Email.Enabled = true },
			"tools.email",
		},
		{
			"kb enabled without embedding key",
			func(c *Config) { c.Tools.KB.Enabled = true },
			"tools.kb",
		},
		{
			"gateway enabled without secret",
			func(c *Config) { c.Gateway.Enabled = true },
			"shared_secret",
		},
		{
			"summarizer provider without key",
			func(c *Config) { c.Summarizer.Provider = "openai" },
			"summarizer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoader_MissingFileReturnsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.json"))
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Platform.Kind)
	assert.NotEmpty(t, cfg.Sessions.Dir)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoader_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "selune.json")
	body := `{
		"platform": {"kind": "rest", "endpoint": "https://agents.example.com", "api_key": "key", "model": "gpt-4o"},
		"data_dir": "` + dir + `"
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rest", cfg.Platform.Kind)
	assert.Equal(t, "https://agents.example.com", cfg.Platform.Endpoint)
	assert.Equal(t, filepath.Join(dir, "conversations"), cfg.Sessions.Dir)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selune.json")
	loader := NewLoader(path)

	cfg := validConfig()
	cfg.Gateway.Port = 9191
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, loaded.Gateway.Port)
	assert.Equal(t, cfg.Platform.Model, loaded.Platform.Model)
}
