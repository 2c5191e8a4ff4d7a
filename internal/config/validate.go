// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateHTTP(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.URL == "" {
		return fmt.Errorf("SUBSONIC_URL is required")
	}
	if err := validateHTTPURL(c.Server.URL, "SUBSONIC_URL"); err != nil {
		return fmt.Errorf("SUBSONIC_URL is invalid: %w", err)
	}
	if c.Server.Username == "" {
		return fmt.Errorf("SUBSONIC_USERNAME is required")
	}
	if c.Server.Password == "" {
		return fmt.Errorf("SUBSONIC_PASSWORD is required")
	}
	if c.Server.ClientName == "" {
		return fmt.Errorf("SUBSONIC_CLIENT_NAME must not be empty")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("SUBSONIC_TIMEOUT must be positive, got %v", c.Server.Timeout)
	}
	if c.Server.RequestsPerSecond < 0 {
		return fmt.Errorf("SUBSONIC_REQUESTS_PER_SECOND must be >= 0, got %v", c.Server.RequestsPerSecond)
	}
	if c.Server.MaxRetries < 0 || c.Server.MaxRetries > 10 {
		return fmt.Errorf("SUBSONIC_MAX_RETRIES must be between 0 and 10, got %d", c.Server.MaxRetries)
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.StaleThreshold < time.Minute {
		return fmt.Errorf("SYNC_STALE_THRESHOLD must be at least 1m, got %v", c.Sync.StaleThreshold)
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("SYNC_INTERVAL must be >= 0, got %v", c.Sync.Interval)
	}
	if c.Sync.Interval > 0 && c.Sync.Interval < time.Minute {
		return fmt.Errorf("SYNC_INTERVAL must be 0 (disabled) or at least 1m, got %v", c.Sync.Interval)
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 500 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be between 1 and 500, got %d", c.Sync.PageSize)
	}
	if c.Sync.BreakerFailureRatio <= 0 || c.Sync.BreakerFailureRatio > 1 {
		return fmt.Errorf("SYNC_BREAKER_FAILURE_RATIO must be in (0, 1], got %v", c.Sync.BreakerFailureRatio)
	}
	if c.Sync.BreakerTimeout <= 0 {
		return fmt.Errorf("SYNC_BREAKER_TIMEOUT must be positive, got %v", c.Sync.BreakerTimeout)
	}
	for _, code := range c.Sync.FullRequiredCodes {
		if code < 0 {
			return fmt.Errorf("SYNC_FULL_REQUIRED_CODES contains negative code %d", code)
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("MIRROR_PATH is required unless MIRROR_IN_MEMORY=true")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.NATSURL == "" {
		return nil
	}
	if err := validateNATSURL(c.Events.NATSURL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	if strings.ContainsAny(c.Events.TopicPrefix, " *>") {
		return fmt.Errorf("EVENTS_TOPIC_PREFIX must not contain spaces or NATS wildcards")
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if !c.HTTP.Enabled {
		return nil
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// validateHTTPURL checks an http(s) base URL. Subsonic servers are often
// mounted under a path, so a path is allowed but a query string is not.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, parsedURL.RawQuery)
	}
	return nil
}

func validateNATSURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	if !validSchemes[parsedURL.Scheme] {
		return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("host is required (e.g., localhost:4222)")
	}
	return nil
}
