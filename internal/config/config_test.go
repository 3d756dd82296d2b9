// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, overrides and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
backend:
  url: "https://example.supabase.co/auth/v1"
  anon_key: "anon-key"
  request_timeout: "5s"
  auto_refresh: true
  refresh_margin: "2m"

storage:
  path: "/tmp/vent/secure.db"

otp:
  resend_cooldown: "45s"
  default_region: "US"

platform:
  os: "ios"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.URL != "https://example.supabase.co/auth/v1" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Backend.AnonKey != "anon-key" {
		t.Errorf("Backend.AnonKey = %q, want %q", cfg.Backend.AnonKey, "anon-key")
	}
	if !cfg.Backend.AutoRefresh {
		t.Error("Backend.AutoRefresh = false, want true")
	}
	if cfg.Backend.RequestTimeout != 5*time.Second {
		t.Errorf("Backend.RequestTimeout = %v, want 5s", cfg.Backend.RequestTimeout)
	}
	if cfg.Backend.RefreshMargin != 2*time.Minute {
		t.Errorf("Backend.RefreshMargin = %v, want 2m", cfg.Backend.RefreshMargin)
	}
	if cfg.OTP.ResendCooldown != 45*time.Second {
		t.Errorf("OTP.ResendCooldown = %v, want 45s", cfg.OTP.ResendCooldown)
	}
	if cfg.OTP.DefaultRegion != "US" {
		t.Errorf("OTP.DefaultRegion = %q, want US", cfg.OTP.DefaultRegion)
	}
	if cfg.Storage.KeyPath != "/tmp/vent/device.key" {
		t.Errorf("Storage.KeyPath = %q, want key next to database", cfg.Storage.KeyPath)
	}
	if cfg.Platform.OS != "ios" {
		t.Errorf("Platform.OS = %q, want ios", cfg.Platform.OS)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[backend]
url = "http://127.0.0.1:9999"
request_timeout = "3s"

[otp]
resend_cooldown = "0s"

[fakeauth]
jwt_secret = "0123456789abcdef0123456789abcdef"
session_ttl = "10m"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.URL != "http://127.0.0.1:9999" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Backend.RequestTimeout != 3*time.Second {
		t.Errorf("Backend.RequestTimeout = %v, want 3s", cfg.Backend.RequestTimeout)
	}
	if cfg.OTP.ResendCooldown != 0 {
		t.Errorf("OTP.ResendCooldown = %v, want explicit 0 to disable throttling", cfg.OTP.ResendCooldown)
	}
	if cfg.FakeAuth.SessionTTL != 10*time.Minute {
		t.Errorf("FakeAuth.SessionTTL = %v, want 10m", cfg.FakeAuth.SessionTTL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	configPath := writeConfig(t, "config.yaml", `
backend:
  url: "https://example.supabase.co/auth/v1"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("RequestTimeout = %v, want %v", cfg.Backend.RequestTimeout, DefaultRequestTimeout)
	}
	if cfg.Backend.RefreshMargin != DefaultRefreshMargin {
		t.Errorf("RefreshMargin = %v, want %v", cfg.Backend.RefreshMargin, DefaultRefreshMargin)
	}
	if cfg.OTP.ResendCooldown != DefaultResendCooldown {
		t.Errorf("ResendCooldown = %v, want %v", cfg.OTP.ResendCooldown, DefaultResendCooldown)
	}
	if cfg.Storage.Path != filepath.Join("/data", "vent", "secure.db") {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.FakeAuth.Addr != DefaultFakeAuthAddr {
		t.Errorf("FakeAuth.Addr = %q", cfg.FakeAuth.Addr)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_ANON_KEY", "expanded-key")
	configPath := writeConfig(t, "config.yaml", `
backend:
  url: "https://example.supabase.co/auth/v1"
  anon_key: "${TEST_ANON_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.AnonKey != "expanded-key" {
		t.Errorf("Backend.AnonKey = %q, want %q", cfg.Backend.AnonKey, "expanded-key")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VENT_BACKEND_URL", "http://override.local")
	t.Setenv("VENT_LOG_LEVEL", "warn")
	configPath := writeConfig(t, "config.yaml", `
backend:
  url: "https://example.supabase.co/auth/v1"
logging:
  level: "debug"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.URL != "http://override.local" {
		t.Errorf("Backend.URL = %q, want override", cfg.Backend.URL)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("VENT_BACKEND_URL", "http://127.0.0.1:9999")
	t.Setenv("VENT_REQUEST_TIMEOUT", "2s")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Backend.RequestTimeout != 2*time.Second {
		t.Errorf("RequestTimeout = %v, want 2s", cfg.Backend.RequestTimeout)
	}
}

func TestFromEnv_DefaultsToDevBackend(t *testing.T) {
	t.Setenv("VENT_BACKEND_URL", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Backend.URL != "http://"+DefaultFakeAuthAddr {
		t.Errorf("Backend.URL = %q, want the development backend", cfg.Backend.URL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
backend:
  url: "https://example.supabase.co/auth/v1"
  request_timeout: "soon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "request_timeout") {
		t.Errorf("error %q should mention request_timeout", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Backend: BackendConfig{URL: "https://example.supabase.co/auth/v1"}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing url", func(c *Config) { c.Backend.URL = "" }, "backend.url is required"},
		{"bad scheme", func(c *Config) { c.Backend.URL = "ftp://example.com" }, "http or https"},
		{"bad platform", func(c *Config) { c.Platform.OS = "windows" }, "platform.os"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"short secret", func(c *Config) { c.FakeAuth.JWTSecret = "short" }, "jwt_secret"},
		{"negative timeout", func(c *Config) { c.Backend.RequestTimeout = -time.Second }, "request_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("VENT_TEST_VAR", "value")

	got := expandEnvVars("a=${VENT_TEST_VAR} b=${VENT_TEST_UNSET}")
	if got != "a=value b=" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}

func TestPath(t *testing.T) {
	t.Setenv("VENT_CONFIG", "/etc/vent/config.toml")
	if got := Path(); got != "/etc/vent/config.toml" {
		t.Errorf("Path() = %q", got)
	}

	t.Setenv("VENT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	if got := Path(); got != filepath.Join("/cfg", "vent", "config.yaml") {
		t.Errorf("Path() = %q", got)
	}
}
