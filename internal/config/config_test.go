package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("API_BASE_URL", "https://api.leadpilot.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.APIBaseURL != "https://api.leadpilot.test" {
		t.Errorf("APIBaseURL = %q, want %q", cfg.APIBaseURL, "https://api.leadpilot.test")
	}
	if cfg.ClientType != "web" {
		t.Errorf("ClientType = %q, want %q", cfg.ClientType, "web")
	}
	if cfg.HTTPTimeout != "30s" {
		t.Errorf("HTTPTimeout = %q, want %q", cfg.HTTPTimeout, "30s")
	}
	if cfg.RefreshThreshold != "5m" {
		t.Errorf("RefreshThreshold = %q, want %q", cfg.RefreshThreshold, "5m")
	}
	if cfg.CredStore != "keyring" {
		t.Errorf("CredStore = %q, want %q", cfg.CredStore, "keyring")
	}
	if cfg.KeyringService != "leadpilot-authkit" {
		t.Errorf("KeyringService = %q, want default", cfg.KeyringService)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("API_BASE_URL", "http://localhost:8080")
	os.Setenv("CLIENT_TYPE", "desktop")
	os.Setenv("CRED_STORE", "file")
	os.Setenv("CRED_FILE", "/tmp/creds.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8080" {
		t.Errorf("APIBaseURL = %q, want %q", cfg.APIBaseURL, "http://localhost:8080")
	}
	if cfg.ClientType != "desktop" {
		t.Errorf("ClientType = %q, want %q", cfg.ClientType, "desktop")
	}
	if cfg.CredStore != "file" {
		t.Errorf("CredStore = %q, want %q", cfg.CredStore, "file")
	}
	if cfg.CredFile != "/tmp/creds.json" {
		t.Errorf("CredFile = %q, want %q", cfg.CredFile, "/tmp/creds.json")
	}
}

func TestLoad_BaseURLRequired(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when API_BASE_URL is unset")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
}

func TestLoad_BaseURLValidation(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		err   bool
	}{
		{"https", "https://api.leadpilot.test", false},
		{"http", "http://localhost:9999", false},
		{"bad scheme", "ftp://api.leadpilot.test", true},
		{"no host", "https://", true},
		{"garbage", "://nope", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("API_BASE_URL", tc.value)

			_, err := Load()
			if tc.err && err == nil {
				t.Fatal("Load should return error")
			}
			if !tc.err && err != nil {
				t.Fatalf("Load: %v", err)
			}
		})
	}
}

func TestLoad_CredStoreValidation(t *testing.T) {
	os.Clearenv()
	os.Setenv("API_BASE_URL", "https://api.leadpilot.test")
	os.Setenv("CRED_STORE", "postgres")

	_, err := Load()
	if err == nil {
		t.Fatal("Load should reject unknown CRED_STORE")
	}
}

func TestTimeout_ValidDuration(t *testing.T) {
	os.Clearenv()
	os.Setenv("API_BASE_URL", "https://api.leadpilot.test")
	os.Setenv("HTTP_TIMEOUT", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timeout() != 10*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout(), 10*time.Second)
	}
}

func TestTimeout_InvalidDuration(t *testing.T) {
	os.Clearenv()
	os.Setenv("API_BASE_URL", "https://api.leadpilot.test")
	os.Setenv("HTTP_TIMEOUT", "invalid")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Timeout = %v, want %v (default)", cfg.Timeout(), 30*time.Second)
	}
}

func TestRefreshThresholdDuration(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"valid", "2m", 2 * time.Minute},
		{"invalid", "soon", 5 * time.Minute},
		{"zero", "0", 5 * time.Minute},
		{"negative", "-1m", 5 * time.Minute},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("API_BASE_URL", "https://api.leadpilot.test")
			os.Setenv("REFRESH_THRESHOLD", tc.value)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := cfg.RefreshThresholdDuration(); got != tc.want {
				t.Errorf("RefreshThresholdDuration = %v, want %v", got, tc.want)
			}
		})
	}
}
