// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package models

import "time"

// APIResponse is the envelope for every JSON response of the local HTTP
// surface. Status is "success" or "error"; Error is set only for "error".
type APIResponse struct {
	Status   string    `json:"status"`
	Data     any       `json:"data"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata is attached to every response.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError is a machine-readable error code plus a human-readable message.
//
// Codes used by the HTTP surface:
//   - VALIDATION_ERROR: malformed path or body
//   - NOT_FOUND: unknown mirror item
//   - NOT_CONTAINER: the item cannot be entered
//   - BROWSER_CLOSED: navigation before the browser was opened
//   - STORE_ERROR: the mirror could not be read or written
//   - SYNC_FAILED: the sync run failed; data carries the run result
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthStatus is the payload of /healthz.
type HealthStatus struct {
	Status         string            `json:"status"` // healthy, degraded
	Reachability   ReachabilityState `json:"reachability"`
	SyncInProgress bool              `json:"sync_in_progress"`
	LastSyncedAt   *time.Time        `json:"last_synced_at,omitempty"`
	Entities       int               `json:"entities"`
	Uptime         float64           `json:"uptime_seconds"`
}
