// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sonicmirror/config.yaml",
	"/etc/sonicmirror/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultStaleThreshold is the age after which a FULL sync is forced.
const DefaultStaleThreshold = 7 * 24 * time.Hour

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:               "",
			Username:          "",
			Password:          "",
			ClientName:        "sonicmirror",
			APIVersion:        "1.16.1",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			MaxRetries:        5,
		},
		Sync: SyncConfig{
			StaleThreshold:      DefaultStaleThreshold,
			Interval:            time.Hour,
			PageSize:            500,
			SyncOnStart:         true,
			ProbeOnConnectivity: true,
			FullRequiredCodes:   []int{30, 70},
			BreakerMinRequests:  10,
			BreakerFailureRatio: 0.6,
			BreakerTimeout:      2 * time.Minute,
		},
		Store: StoreConfig{
			Path:       "/data/mirror",
			InMemory:   false,
			SyncWrites: false,
		},
		Events: EventsConfig{
			NATSURL:     "",
			TopicPrefix: "sonicmirror",
			JetStream:   false,
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            4747,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Defaults
//  2. Config file (optional YAML)
//  3. Environment variables
//
// Precedence is ENV > File > Defaults. The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// SUBSONIC_URL -> server.url, SYNC_STALE_THRESHOLD -> sync.stale_threshold
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"sync.full_required_codes",
}

// processSliceFields splits comma-separated strings for known slice fields.
// Values loaded from YAML are already slices and are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unmapped variables are ignored so unrelated environment does not leak into config.
var envMappings = map[string]string{
	// Subsonic server
	"subsonic_url":                 "server.url",
	"subsonic_username":            "server.username",
	"subsonic_password":            "server.password",
	"subsonic_client_name":         "server.client_name",
	"subsonic_api_version":         "server.api_version",
	"subsonic_timeout":             "server.timeout",
	"subsonic_requests_per_second": "server.requests_per_second",
	"subsonic_max_retries":         "server.max_retries",

	// Sync
	"sync_stale_threshold":       "sync.stale_threshold",
	"sync_interval":              "sync.interval",
	"sync_page_size":             "sync.page_size",
	"sync_on_start":              "sync.sync_on_start",
	"sync_probe_on_connectivity": "sync.probe_on_connectivity",
	"sync_full_required_codes":   "sync.full_required_codes",
	"sync_breaker_min_requests":  "sync.breaker_min_requests",
	"sync_breaker_failure_ratio": "sync.breaker_failure_ratio",
	"sync_breaker_timeout":       "sync.breaker_timeout",

	// Store
	"mirror_path":        "store.path",
	"mirror_in_memory":   "store.in_memory",
	"mirror_sync_writes": "store.sync_writes",

	// Events
	"nats_url":            "events.nats_url",
	"events_topic_prefix": "events.topic_prefix",
	"nats_jetstream":      "events.jetstream",

	// HTTP surface
	"http_enabled":           "http.enabled",
	"http_host":              "http.host",
	"http_port":              "http.port",
	"http_shutdown_timeout":  "http.shutdown_timeout",
	"browse_downloaded_only": "http.downloaded_only",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf paths.
//
// Examples:
//   - SUBSONIC_URL -> server.url
//   - SYNC_STALE_THRESHOLD -> sync.stale_threshold
//   - MIRROR_PATH -> store.path
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
