package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rua-project/rua/pkg/areacsv"
	"github.com/rua-project/rua/pkg/history"
	"github.com/rua-project/rua/pkg/polling"
	"github.com/rua-project/rua/pkg/storage"
	"github.com/rua-project/rua/pkg/whttp"
)

// Config represents the complete application configuration
type Config struct {
	API      APIConfig     `mapstructure:"api"`
	HTTP     HTTPConfig    `mapstructure:"http"`
	Retry    RetryConfig   `mapstructure:"retry"`
	Parse    ParseConfig   `mapstructure:"parse"`
	Output   OutputConfig  `mapstructure:"output"`
	Storage  StorageConfig `mapstructure:"storage"`
	Proxy    string        `mapstructure:"proxy"`
	NoProxy  string        `mapstructure:"no_proxy"`
	LogLevel string        `mapstructure:"loglevel"`
}

type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	Backoff     string        `mapstructure:"backoff"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type ParseConfig struct {
	OnDecodeError string `mapstructure:"on_decode_error"`
}

type OutputConfig struct {
	Path string `mapstructure:"path"`
}

type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", history.DefaultBaseURL)

	v.SetDefault("http.timeout", "0s")
	v.SetDefault("http.user_agent", whttp.DefaultUserAgent)

	v.SetDefault("retry.max_attempts", whttp.DefaultMaxAttempts)
	v.SetDefault("retry.delay", whttp.DefaultDelay.String())
	v.SetDefault("retry.backoff", "fixed")
	v.SetDefault("retry.max_delay", whttp.DefaultMaxDelay.String())

	v.SetDefault("parse.on_decode_error", string(polling.DecodeAbort))

	v.SetDefault("output.path", areacsv.DefaultPath)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.path", storage.DefaultPath)

	v.SetDefault("proxy", "")
	v.SetDefault("no_proxy", "")
	v.SetDefault("loglevel", "info")
}

// BindEnv enables RUA_* environment overrides and maps HTTPS_PROXY onto the
// proxy key.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("RUA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("proxy", "RUA_PROXY", "HTTPS_PROXY", "https_proxy"); err != nil {
		return err
	}
	return v.BindEnv("no_proxy", "RUA_NO_PROXY", "NO_PROXY", "no_proxy")
}

// Load unmarshals the viper state into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay must not be negative")
	}
	switch strings.ToLower(c.Retry.Backoff) {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("retry.backoff must be fixed or exponential, got %q", c.Retry.Backoff)
	}
	if _, err := polling.ParseDecodePolicy(c.Parse.OnDecodeError); err != nil {
		return fmt.Errorf("parse.on_decode_error: %w", err)
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output.path is required")
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage is enabled")
	}
	return nil
}

// RetryPolicy converts the retry section for whttp.
func (c *Config) RetryPolicy() whttp.RetryPolicy {
	return whttp.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		Delay:       c.Retry.Delay,
		Exponential: strings.EqualFold(c.Retry.Backoff, "exponential"),
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// DecodePolicy returns the validated decode failure policy.
func (c *Config) DecodePolicy() polling.DecodePolicy {
	p, _ := polling.ParseDecodePolicy(c.Parse.OnDecodeError)
	return p
}
