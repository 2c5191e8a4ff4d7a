// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package reachability

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/sonicmirror/internal/logging"
	"github.com/tomtom215/sonicmirror/internal/metrics"
)

// Transport is an http.RoundTripper that reports every request's outcome to
// a Tracker:
//   - any HTTP response, whatever its status: MarkReachable
//   - a transport error (DNS, refused, TLS, timeout): MarkUnreachable
//   - caller cancellation: no change
type Transport struct {
	Base    http.RoundTripper
	Tracker *Tracker
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, tracker *Tracker) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Tracker: tracker}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.Base.RoundTrip(req)
	if err == nil {
		metrics.TransportOutcomes.WithLabelValues("response").Inc()
		t.Tracker.MarkReachable()
		return resp, nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(req.Context().Err(), context.Canceled) {
		metrics.TransportOutcomes.WithLabelValues("canceled").Inc()
		return nil, err
	}

	metrics.TransportOutcomes.WithLabelValues("transport_error").Inc()
	logging.Debug().Err(err).Str("host", req.URL.Host).Msg("Transport error, marking server unreachable")
	t.Tracker.MarkUnreachable()
	return nil, err
}
