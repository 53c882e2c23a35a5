// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

// Package gateway wraps outbound HTTP calls with a per-call timeout, a fixed
// retry schedule, redirect following, and structured success/error logging.
//
// The retry policy applies only to source-platform calls. Destination SSO
// handshake steps are never retried: replaying a step with a stale cookie jar
// or CSRF token corrupts the handshake state.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jcrawford/velosync/internal/logging"
	"github.com/jcrawford/velosync/internal/metrics"
)

// DefaultTimeout is the per-call HTTP timeout, independent of the overall
// sync run duration.
const DefaultTimeout = 10 * time.Second

// DefaultRetrySchedule is the backoff slept before each retry. Three total
// attempts are made; a schedule entry beyond the attempt budget is never
// used.
var DefaultRetrySchedule = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// DefaultMaxAttempts is the total number of attempts (first try + retries).
const DefaultMaxAttempts = 3

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// Config holds gateway settings. Zero values fall back to the defaults
// above; tests shrink the schedule to keep runs fast.
type Config struct {
	Timeout       time.Duration
	RetrySchedule []time.Duration
	MaxAttempts   int
}

// Gateway is a shared outbound HTTP client. It follows redirects (the
// default http.Client policy) and carries a fixed per-call timeout.
type Gateway struct {
	client   *http.Client
	schedule []time.Duration
	attempts int
}

// New creates a Gateway with the given configuration.
func New(cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.RetrySchedule) == 0 {
		cfg.RetrySchedule = DefaultRetrySchedule
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Gateway{
		client:   &http.Client{Timeout: cfg.Timeout},
		schedule: cfg.RetrySchedule,
		attempts: cfg.MaxAttempts,
	}
}

// Client exposes the underlying http.Client for callers that manage their own
// cookie jar on a derived client.
func (g *Gateway) Client() *http.Client {
	return g.client
}

// Do performs a single request with no retries.
func (g *Gateway) Do(req *http.Request) (*http.Response, error) {
	resp, err := g.client.Do(req)
	observe(req, resp, err)
	return resp, err
}

// DoWithRetry performs a request with the gateway retry policy. The build
// func is invoked once per attempt so request bodies are safely replayable.
//
// An attempt counts as failed on a transport error or a non-2xx status.
// Failed response bodies are drained and closed before the next attempt. The
// backoff before retry n is schedule[n-1].
func (g *Gateway) DoWithRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= g.attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req = req.WithContext(ctx)

		resp, err := g.client.Do(req)
		observe(req, resp, err)

		switch {
		case err != nil:
			lastErr = fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		default:
			body := readBodyForError(resp.Body)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("%s %s returned status %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(body))
		}

		if attempt == g.attempts {
			break
		}

		metrics.GatewayRetries.Inc()
		logging.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", g.attempts).
			Msg("Outbound request failed, will retry")

		select {
		case <-time.After(g.schedule[attempt-1]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", g.attempts, lastErr)
}

// observe records metrics and logs for one attempt.
func observe(req *http.Request, resp *http.Response, err error) {
	host := req.URL.Host
	if err != nil || resp.StatusCode >= 400 {
		metrics.GatewayRequests.WithLabelValues(host, "error").Inc()
		ev := logging.Warn().Str("method", req.Method).Str("host", host).Str("path", req.URL.Path)
		if err != nil {
			ev = ev.Err(err)
		} else {
			ev = ev.Int("status", resp.StatusCode)
		}
		ev.Msg("Outbound request error")
		return
	}

	metrics.GatewayRequests.WithLabelValues(host, "success").Inc()
	logging.Debug().
		Str("method", req.Method).
		Str("host", host).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Msg("Outbound request ok")
}

// readBodyForError reads up to maxErrorBodySize of a response body for error
// reporting.
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
