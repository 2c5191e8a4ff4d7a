// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package events

import "time"

// Topics published on the bus. When NATS forwarding is enabled they are
// prefixed with the configured topic prefix ("sonicmirror.sync.completed").
const (
	TopicSyncCompleted       = "sync.completed"
	TopicSyncFailed          = "sync.failed"
	TopicReachabilityChanged = "reachability.changed"
)

// AllTopics lists every topic, in a stable order.
var AllTopics = []string{TopicSyncCompleted, TopicSyncFailed, TopicReachabilityChanged}

// ReachabilityChanged is the payload of TopicReachabilityChanged.
type ReachabilityChanged struct {
	Reachable bool      `json:"reachable"`
	At        time.Time `json:"at"`
}

// Metadata keys set on every message.
const (
	MetadataCorrelationID = "correlation_id"
	MetadataTopic         = "topic"
)
