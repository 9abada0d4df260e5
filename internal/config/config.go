// Package config loads and validates SDK config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds authkit configuration loaded from the environment.
type Config struct {
	// APIBaseURL is the base URL of the auth backend (e.g. https://api.leadpilot.io). Required.
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	// ClientType is sent as the X-Client-Type header on every call (e.g. "web", "desktop").
	ClientType string `mapstructure:"CLIENT_TYPE"`
	// HTTPTimeout is the per-request timeout (e.g. "30s").
	HTTPTimeout string `mapstructure:"HTTP_TIMEOUT"`
	// RefreshThreshold is how close to expiry a token may get before a proactive refresh (e.g. "5m").
	RefreshThreshold string `mapstructure:"REFRESH_THRESHOLD"`
	// CredStore selects the credential storage backend: "keyring", "file", or "memory".
	CredStore string `mapstructure:"CRED_STORE"`
	// CredFile is the credential file path when CRED_STORE=file.
	CredFile string `mapstructure:"CRED_FILE"`
	// KeyringService is the keyring service name when CRED_STORE=keyring.
	KeyringService string `mapstructure:"KEYRING_SERVICE"`
	// LogLevel is the zap log level ("debug", "info", "warn", "error").
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("API_BASE_URL", "")
	v.SetDefault("CLIENT_TYPE", "web")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("REFRESH_THRESHOLD", "5m")
	v.SetDefault("CRED_STORE", "keyring")
	v.SetDefault("CRED_FILE", ".leadpilot-credentials.json")
	v.SetDefault("KEYRING_SERVICE", "leadpilot-authkit")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.APIBaseURL == "" {
		return nil, errors.New("config: API_BASE_URL must be set")
	}
	if err := validateBaseURL(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("config: invalid API_BASE_URL: %w", err)
	}

	switch cfg.CredStore {
	case "keyring", "file", "memory":
	default:
		return nil, fmt.Errorf("config: CRED_STORE must be keyring, file, or memory, got %q", cfg.CredStore)
	}

	if cfg.ClientType == "" {
		return nil, errors.New("config: CLIENT_TYPE must not be empty")
	}

	return &cfg, nil
}

// Timeout parses HTTPTimeout as a time.Duration. Returns 30s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// RefreshThresholdDuration parses RefreshThreshold as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) RefreshThresholdDuration() time.Duration {
	d, err := time.ParseDuration(c.RefreshThreshold)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL must include a host")
	}
	return nil
}
