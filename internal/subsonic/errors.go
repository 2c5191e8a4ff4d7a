// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package subsonic

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ErrFullSyncRequired signals that an incremental query cannot be answered
// and the caller should run a FULL sync instead.
var ErrFullSyncRequired = errors.New("subsonic: full sync required")

// ErrRateLimited is returned when HTTP 429 persists past the retry budget.
var ErrRateLimited = errors.New("subsonic: rate limit exceeded")

// APIError is a "failed" subsonic-response. The server answered, so it is a
// server-side failure rather than a transport one.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("subsonic error %d: %s", e.Code, e.Message)
}

// StatusError is a non-200 HTTP response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("subsonic %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsTransportError reports whether err is a transport-level failure
// (timeout, refused connection, DNS, TLS). Caller cancellation is not one.
func IsTransportError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
