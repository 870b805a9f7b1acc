package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rua-project/rua/pkg/polling"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	require.NoError(t, BindEnv(v))
	return v
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "")
	t.Setenv("https_proxy", "")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "https://deepstatemap.live", cfg.API.BaseURL)
	assert.Equal(t, 10, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.Delay)
	assert.Equal(t, "data/area_history.csv", cfg.Output.Path)
	assert.False(t, cfg.Storage.Enabled)
	assert.Equal(t, polling.DecodeAbort, cfg.DecodePolicy())

	p := cfg.RetryPolicy()
	assert.Equal(t, 10, p.MaxAttempts)
	assert.False(t, p.Exponential)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rua.yaml")
	content := `
api:
  base_url: http://localhost:9000
retry:
  max_attempts: 4
  delay: 250ms
  backoff: exponential
parse:
  on_decode_error: skip
output:
  path: out/history.csv
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("HTTPS_PROXY", "http://127.0.0.1:3128")
	t.Setenv("RUA_RETRY_MAX_ATTEMPTS", "7")

	v := newViper(t)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.API.BaseURL)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Delay)
	assert.True(t, cfg.RetryPolicy().Exponential)
	assert.Equal(t, polling.DecodeSkip, cfg.DecodePolicy())
	assert.Equal(t, "out/history.csv", cfg.Output.Path)
	assert.Equal(t, "http://127.0.0.1:3128", cfg.Proxy)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			API:    APIConfig{BaseURL: "https://example.org"},
			Retry:  RetryConfig{MaxAttempts: 1, Backoff: "fixed"},
			Parse:  ParseConfig{OnDecodeError: "abort"},
			Output: OutputConfig{Path: "x.csv"},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty base url", func(c *Config) { c.API.BaseURL = "" }},
		{"non http base url", func(c *Config) { c.API.BaseURL = "ftp://example.org" }},
		{"negative timeout", func(c *Config) { c.HTTP.Timeout = -time.Second }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"negative delay", func(c *Config) { c.Retry.Delay = -time.Second }},
		{"unknown backoff", func(c *Config) { c.Retry.Backoff = "fibonacci" }},
		{"unknown decode policy", func(c *Config) { c.Parse.OnDecodeError = "ignore" }},
		{"empty output", func(c *Config) { c.Output.Path = "" }},
		{"storage without path", func(c *Config) { c.Storage.Enabled = true }},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
