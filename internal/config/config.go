// ABOUTME: Configuration loading and parsing for the vent client and dev backend
// ABOUTME: Supports YAML or TOML files with env var expansion, env overrides and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file leaves a value empty.
const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultRefreshMargin  = 60 * time.Second
	DefaultResendCooldown = 30 * time.Second
	DefaultSessionTTL     = time.Hour
	DefaultFakeAuthAddr   = "127.0.0.1:9999"
)

// Config represents the complete vent configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend" toml:"backend"`
	Storage  StorageConfig  `yaml:"storage" toml:"storage"`
	OTP      OTPConfig      `yaml:"otp" toml:"otp"`
	Platform PlatformConfig `yaml:"platform" toml:"platform"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	FakeAuth FakeAuthConfig `yaml:"fakeauth" toml:"fakeauth"`
}

// BackendConfig holds the hosted auth service connection settings
type BackendConfig struct {
	URL         string `yaml:"url" toml:"url" env:"VENT_BACKEND_URL"`
	AnonKey     string `yaml:"anon_key" toml:"anon_key" env:"VENT_ANON_KEY"`
	AutoRefresh bool   `yaml:"auto_refresh" toml:"auto_refresh"`

	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	RefreshMargin  time.Duration `yaml:"-" toml:"-"`

	// Raw string values for file unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout" env:"VENT_REQUEST_TIMEOUT"`
	RefreshMarginRaw  string `yaml:"refresh_margin" toml:"refresh_margin"`
}

// StorageConfig holds the durable secure store location
type StorageConfig struct {
	Path    string `yaml:"path" toml:"path" env:"VENT_STORAGE_PATH"`
	KeyPath string `yaml:"key_path" toml:"key_path" env:"VENT_STORAGE_KEY_PATH"`
}

// OTPConfig holds phone passcode settings
type OTPConfig struct {
	// DefaultRegion lets users omit the +country prefix (e.g. "US").
	// Empty means numbers must be entered in E.164 form.
	DefaultRegion string `yaml:"default_region" toml:"default_region"`

	ResendCooldown    time.Duration `yaml:"-" toml:"-"`
	ResendCooldownRaw string        `yaml:"resend_cooldown" toml:"resend_cooldown"`
}

// PlatformConfig describes which native sign-in sheets exist on this device
type PlatformConfig struct {
	OS string `yaml:"os" toml:"os" env:"VENT_PLATFORM_OS"` // ios, android
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"VENT_LOG_LEVEL"`
	Format string `yaml:"format" toml:"format"`
}

// FakeAuthConfig holds settings for the development auth backend
type FakeAuthConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"VENT_FAKEAUTH_SECRET"`

	SessionTTL    time.Duration `yaml:"-" toml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl" toml:"session_ttl"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then VENT_*
// overrides are applied. Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(&cfg)
}

// FromEnv builds a Config purely from VENT_* environment variables and defaults.
// Used when no config file exists.
func FromEnv() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Backend.RequestTimeout == 0 {
		cfg.Backend.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Backend.RefreshMargin == 0 {
		cfg.Backend.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.OTP.ResendCooldownRaw == "" {
		cfg.OTP.ResendCooldown = DefaultResendCooldown
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(DataDir(), "secure.db")
	}
	if cfg.Storage.KeyPath == "" {
		cfg.Storage.KeyPath = filepath.Join(filepath.Dir(cfg.Storage.Path), "device.key")
	}
	if cfg.FakeAuth.Addr == "" {
		cfg.FakeAuth.Addr = DefaultFakeAuthAddr
	}
	// Without a hosted project the client talks to the development backend
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = "http://" + cfg.FakeAuth.Addr
	}
	if cfg.FakeAuth.SessionTTL == 0 {
		cfg.FakeAuth.SessionTTL = DefaultSessionTTL
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https scheme")
	}

	if c.Backend.RequestTimeout < 0 {
		return fmt.Errorf("backend.request_timeout must not be negative")
	}
	if c.OTP.ResendCooldown < 0 {
		return fmt.Errorf("otp.resend_cooldown must not be negative")
	}

	switch c.Platform.OS {
	case "", "ios", "android":
	default:
		return fmt.Errorf("platform.os must be ios or android, got %q", c.Platform.OS)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	if c.FakeAuth.JWTSecret != "" && len(c.FakeAuth.JWTSecret) < 32 {
		return fmt.Errorf("fakeauth.jwt_secret must be at least 32 bytes")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Backend.RequestTimeoutRaw != "" {
		cfg.Backend.RequestTimeout, err = time.ParseDuration(cfg.Backend.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Backend.RequestTimeoutRaw, err)
		}
	}

	if cfg.Backend.RefreshMarginRaw != "" {
		cfg.Backend.RefreshMargin, err = time.ParseDuration(cfg.Backend.RefreshMarginRaw)
		if err != nil {
			return fmt.Errorf("parsing refresh_margin %q: %w", cfg.Backend.RefreshMarginRaw, err)
		}
	}

	if cfg.OTP.ResendCooldownRaw != "" {
		cfg.OTP.ResendCooldown, err = time.ParseDuration(cfg.OTP.ResendCooldownRaw)
		if err != nil {
			return fmt.Errorf("parsing resend_cooldown %q: %w", cfg.OTP.ResendCooldownRaw, err)
		}
	}

	if cfg.FakeAuth.SessionTTLRaw != "" {
		cfg.FakeAuth.SessionTTL, err = time.ParseDuration(cfg.FakeAuth.SessionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session_ttl %q: %w", cfg.FakeAuth.SessionTTLRaw, err)
		}
	}

	return nil
}

// Path returns the path to the vent config file.
// Priority: VENT_CONFIG env var > XDG_CONFIG_HOME/vent/config.yaml > ~/.config/vent/config.yaml
func Path() string {
	if envPath := os.Getenv("VENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "vent", "config.yaml")
}

// DataDir returns the vent data directory.
// Priority: XDG_DATA_HOME/vent > ~/.local/share/vent
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "vent")
}
