// Package config handles configuration loading for vent.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion, followed by VENT_* environment overrides. The package provides
// validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from VENT_CONFIG environment variable
//  2. ~/.config/vent/config.yaml (or $XDG_CONFIG_HOME/vent/config.yaml)
//
// A file ending in .toml is decoded as TOML.
//
// # Configuration Sections
//
// Auth backend:
//
//	backend:
//	  url: "https://project.supabase.co/auth/v1"
//	  anon_key: "${VENT_ANON_KEY}"
//	  request_timeout: "15s"
//	  auto_refresh: true
//	  refresh_margin: "60s"
//
// Secure storage:
//
//	storage:
//	  path: "~/.local/share/vent/secure.db"
//	  key_path: "~/.local/share/vent/device.key"
//
// Phone passcodes:
//
//	otp:
//	  resend_cooldown: "30s"
//	  default_region: ""   # empty requires +E.164 input
//
// Native sign-in platform:
//
//	platform:
//	  os: "ios"   # ios shows Apple sign-in, android hides it
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Development backend (vent-fakeauth):
//
//	fakeauth:
//	  addr: "127.0.0.1:9999"
//	  jwt_secret: "${VENT_FAKEAUTH_SECRET}"
//	  session_ttl: "1h"
//
// # Environment Overrides
//
//	VENT_BACKEND_URL, VENT_ANON_KEY, VENT_REQUEST_TIMEOUT, VENT_STORAGE_PATH,
//	VENT_STORAGE_KEY_PATH, VENT_PLATFORM_OS, VENT_LOG_LEVEL, VENT_FAKEAUTH_SECRET
//
// # Usage
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
