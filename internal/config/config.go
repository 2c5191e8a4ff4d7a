// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package config

import (
	"time"
)

// Config holds all application configuration.
//
// Loading order (Koanf v2):
//  1. Defaults: built-in values from defaultConfig()
//  2. Config file: optional YAML (CONFIG_PATH, config.yaml, /etc/sonicmirror/config.yaml)
//  3. Environment variables: override any setting
//
// Config is immutable after Load() and safe for concurrent reads.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Sync    SyncConfig    `koanf:"sync"`
	Store   StoreConfig   `koanf:"store"`
	Events  EventsConfig  `koanf:"events"`
	HTTP    HTTPConfig    `koanf:"http"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig describes the remote Subsonic server.
//
// Environment Variables:
//   - SUBSONIC_URL: server base URL (required)
//   - SUBSONIC_USERNAME / SUBSONIC_PASSWORD: credentials (required)
//   - SUBSONIC_CLIENT_NAME: the "c" parameter (default: sonicmirror)
//   - SUBSONIC_API_VERSION: the "v" parameter (default: 1.16.1)
//   - SUBSONIC_TIMEOUT: per-request timeout (default: 30s)
//   - SUBSONIC_REQUESTS_PER_SECOND: client-side pacing, 0 disables (default: 10)
type ServerConfig struct {
	URL               string        `koanf:"url"`
	Username          string        `koanf:"username"`
	Password          string        `koanf:"password"`
	ClientName        string        `koanf:"client_name"`
	APIVersion        string        `koanf:"api_version"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	MaxRetries        int           `koanf:"max_retries"` // HTTP 429 retries
}

// SyncConfig controls when and how the mirror is re-synchronized.
type SyncConfig struct {
	// StaleThreshold is the age after which a DELTA sync is no longer trusted
	// and a FULL sync is forced.
	StaleThreshold time.Duration `koanf:"stale_threshold"`

	// Interval is the periodic trigger interval. Zero disables the scheduler.
	Interval time.Duration `koanf:"interval"`

	// PageSize is the number of entities requested per page.
	PageSize int `koanf:"page_size"`

	// SyncOnStart triggers StartIfNeeded once when the process starts.
	SyncOnStart bool `koanf:"sync_on_start"`

	// ProbeOnConnectivity pings the server before syncing when connectivity
	// is regained, so a stale "unreachable" reading does not block the sync.
	ProbeOnConnectivity bool `koanf:"probe_on_connectivity"`

	// FullRequiredCodes are Subsonic error codes that, returned from the
	// incremental query, mean the server wants a FULL resync.
	FullRequiredCodes []int `koanf:"full_required_codes"`

	// Circuit breaker tuning for the Subsonic API.
	BreakerMinRequests  uint32        `koanf:"breaker_min_requests"`
	BreakerFailureRatio float64       `koanf:"breaker_failure_ratio"`
	BreakerTimeout      time.Duration `koanf:"breaker_timeout"`
}

// StoreConfig holds local mirror settings.
type StoreConfig struct {
	Path       string `koanf:"path"`
	InMemory   bool   `koanf:"in_memory"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// EventsConfig holds event bus settings. An empty NATSURL keeps events in-process.
type EventsConfig struct {
	NATSURL     string `koanf:"nats_url"`
	TopicPrefix string `koanf:"topic_prefix"`
	JetStream   bool   `koanf:"jetstream"`
}

// HTTPConfig holds the local HTTP surface settings.
type HTTPConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// DownloadedOnly hides browse entries with no downloaded content beneath them.
	DownloadedOnly bool `koanf:"downloaded_only"`
}

// LoggingConfig holds logging settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load loads configuration from defaults, the optional config file and the environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
