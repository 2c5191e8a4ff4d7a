// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

/*
Package subsonic is the REST client for Subsonic-protocol servers
(Navidrome, Airsonic, Gonic and friends).

Client Features:
  - Token authentication (u, t = md5(password + salt), s) on every request
  - Client-side pacing with golang.org/x/time/rate
  - Automatic HTTP 429 handling with exponential backoff and Retry-After
  - Paged library fetches delivered through a callback, one page at a time
  - FULL_REQUIRED detection for incremental queries (ErrFullSyncRequired)

The http.Client is expected to carry a reachability.Transport so every
request outcome updates the process-wide reachability belief. Wrap the
Client in a CircuitBreakerClient for fault isolation.
*/
package subsonic

import (
	"context"
	"crypto/md5" //nolint:gosec // mandated by the Subsonic token auth scheme
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/sonicmirror/internal/config"
	"github.com/tomtom215/sonicmirror/internal/logging"
	"github.com/tomtom215/sonicmirror/internal/metrics"
)

// maxErrorBodySize limits how much of an error response is read.
const maxErrorBodySize = 64 * 1024

// readBodyForError reads at most 64KB of r for error reporting.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// Client talks to one Subsonic server. Safe for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	clientName string
	apiVersion string

	httpClient *http.Client
	limiter    *rate.Limiter

	pageSize          int
	fullRequiredCodes map[int]bool

	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient builds a client from configuration. transport should be the
// reachability-observing transport; nil uses http.DefaultTransport.
func NewClient(server config.ServerConfig, syncCfg config.SyncConfig, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}

	var limiter *rate.Limiter
	if server.RequestsPerSecond > 0 {
		burst := int(server.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(server.RequestsPerSecond), burst)
	}

	codes := make(map[int]bool, len(syncCfg.FullRequiredCodes))
	for _, code := range syncCfg.FullRequiredCodes {
		codes[code] = true
	}

	pageSize := syncCfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	return &Client{
		baseURL:           strings.TrimRight(server.URL, "/"),
		username:          server.Username,
		password:          server.Password,
		clientName:        server.ClientName,
		apiVersion:        server.APIVersion,
		httpClient:        &http.Client{Timeout: server.Timeout, Transport: transport},
		limiter:           limiter,
		pageSize:          pageSize,
		fullRequiredCodes: codes,
		maxRetries:        server.MaxRetries,
		retryBaseDelay:    time.Second,
	}
}

// authParams returns fresh token-auth parameters. Each request gets its own salt.
func (c *Client) authParams() (url.Values, error) {
	saltBytes := make([]byte, 8)
	if _, err := rand.Read(saltBytes); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	salt := hex.EncodeToString(saltBytes)
	sum := md5.Sum([]byte(c.password + salt)) //nolint:gosec // protocol requirement

	params := url.Values{}
	params.Set("u", c.username)
	params.Set("t", hex.EncodeToString(sum[:]))
	params.Set("s", salt)
	params.Set("v", c.apiVersion)
	params.Set("c", c.clientName)
	params.Set("f", "json")
	return params, nil
}

// call executes one REST endpoint and returns the decoded subsonic-response.
// A "failed" response is returned as *APIError, a non-200 status as *StatusError.
func (c *Client) call(ctx context.Context, endpoint string, params url.Values) (*response, error) {
	start := time.Now()
	resp, err := c.do(ctx, endpoint, params)
	var apiErr *APIError
	result := "ok"
	switch {
	case err == nil:
	case IsTransportError(err):
		result = "transport_error"
	case errors.As(err, &apiErr):
		result = "api_error"
	default:
		result = "http_error"
	}
	metrics.RecordSubsonicRequest(endpoint, result, time.Since(start))
	return resp, err
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	query, err := c.authParams()
	if err != nil {
		return nil, err
	}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	reqURL := fmt.Sprintf("%s/rest/%s?%s", c.baseURL, endpoint, query.Encode())

	httpResp, err := c.doRequestWithRateLimit(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			Endpoint:   endpoint,
			StatusCode: httpResp.StatusCode,
			Body:       string(readBodyForError(httpResp.Body)),
		}
	}

	var env envelope
	if err := json.NewDecoder(httpResp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	if env.Response.Status != "ok" {
		apiErr := &APIError{Message: "unknown error"}
		if env.Response.Error != nil {
			apiErr.Code = env.Response.Error.Code
			apiErr.Message = env.Response.Error.Message
		}
		return nil, apiErr
	}
	return &env.Response, nil
}

// doRequestWithRateLimit performs a GET with automatic HTTP 429 handling:
// exponential backoff (1s, 2s, 4s, ...) unless the server sends Retry-After.
func (c *Client) doRequestWithRateLimit(ctx context.Context, reqURL string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		_ = resp.Body.Close()
		metrics.SubsonicRateLimited.Inc()

		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("%w after %d retries (HTTP 429)", ErrRateLimited, c.maxRetries)
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
				delay = time.Duration(seconds) * time.Second
			}
		}
		logging.Debug().Dur("delay", delay).Int("attempt", attempt+1).Msg("Subsonic rate limited, backing off")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}
