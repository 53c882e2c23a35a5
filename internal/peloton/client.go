// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

// Package peloton is the source-platform client: session login, workout
// listing, and per-workout detail and sample retrieval.
package peloton

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jcrawford/velosync/internal/config"
	"github.com/jcrawford/velosync/internal/gateway"
	"github.com/jcrawford/velosync/internal/logging"
)

const (
	loginPath   = "/auth/login"
	sessionName = "peloton_session_id"

	// detailFetchConcurrency bounds the parallel per-workout detail
	// calls of one sync run.
	detailFetchConcurrency = 4

	// defaultRequestsPerSecond is the client-side rate cap when none is
	// configured.
	defaultRequestsPerSecond = 5
)

// ErrNotAuthenticated is returned when a call requiring a session runs
// before Login (or after the session was rejected).
var ErrNotAuthenticated = errors.New("peloton: not authenticated")

// Client is the Peloton API client. Login establishes a session; all other
// calls replay its session cookie. Safe for concurrent use.
type Client struct {
	cfg     config.PelotonConfig
	gw      *gateway.Gateway
	limiter *rate.Limiter

	mu        sync.RWMutex
	sessionID string
	userID    string
}

// NewClient creates a Peloton client.
func NewClient(cfg config.PelotonConfig, gw *gateway.Gateway) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	return &Client{
		cfg:     cfg,
		gw:      gw,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Login establishes an API session. Called once per process lifetime;
// subsequent calls replace the session.
func (c *Client) Login(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(loginRequest{
		UsernameOrEmail: c.cfg.Email,
		Password:        c.cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("marshal login request: %w", err)
	}

	resp, err := c.gw.DoWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+loginPath, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("peloton login: %w", err)
	}
	defer resp.Body.Close()

	var wire loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if wire.SessionID == "" || wire.UserID == "" {
		return fmt.Errorf("login response missing session or user id")
	}

	c.mu.Lock()
	c.sessionID = wire.SessionID
	c.userID = wire.UserID
	c.mu.Unlock()

	logging.Info().Str("user_id", wire.UserID).Msg("Peloton session established")
	return nil
}

// session returns the current session cookie and user ID.
func (c *Client) session() (string, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sessionID == "" {
		return "", "", ErrNotAuthenticated
	}
	return c.sessionID, c.userID, nil
}

// getJSON performs one authenticated GET with the gateway retry policy and
// decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	session, _, err := c.session()
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.cfg.URL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	resp, err := c.gw.DoWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.AddCookie(&http.Cookie{Name: sessionName, Value: session})
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// GetWorkouts returns the most recent workouts, newest first.
func (c *Client) GetWorkouts(ctx context.Context, limit int) ([]Workout, error) {
	_, userID, err := c.session()
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("page", "0")
	params.Set("sort_by", "-created")
	params.Set("joins", "ride,ride.instructor")

	var list workoutList
	if err := c.getJSON(ctx, "/api/user/"+userID+"/workouts", params, &list); err != nil {
		return nil, fmt.Errorf("list workouts: %w", err)
	}
	return list.Data, nil
}

// GetWorkout returns one workout with its class metadata joined in.
func (c *Client) GetWorkout(ctx context.Context, workoutID string) (*Workout, error) {
	params := url.Values{}
	params.Set("joins", "ride,ride.instructor")

	var workout Workout
	if err := c.getJSON(ctx, "/api/workout/"+workoutID, params, &workout); err != nil {
		return nil, fmt.Errorf("get workout %s: %w", workoutID, err)
	}
	return &workout, nil
}

// GetPerformanceGraph returns the per-second sample data of one workout.
func (c *Client) GetPerformanceGraph(ctx context.Context, workoutID string) (*PerformanceGraph, error) {
	params := url.Values{}
	params.Set("every_n", "1")

	var graph PerformanceGraph
	if err := c.getJSON(ctx, "/api/workout/"+workoutID+"/performance_graph", params, &graph); err != nil {
		return nil, fmt.Errorf("get performance graph %s: %w", workoutID, err)
	}
	return &graph, nil
}

// GetWorkoutDetails fetches detail plus samples for each workout ID, with
// bounded concurrency. A single failed workout fails the whole fetch; the
// caller decides per-item isolation at a higher level by passing one ID at a
// time.
func (c *Client) GetWorkoutDetails(ctx context.Context, workoutIDs []string) ([]WorkoutDetail, error) {
	details := make([]WorkoutDetail, len(workoutIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(detailFetchConcurrency)
	for i, id := range workoutIDs {
		g.Go(func() error {
			workout, err := c.GetWorkout(ctx, id)
			if err != nil {
				return err
			}
			graph, err := c.GetPerformanceGraph(ctx, id)
			if err != nil {
				return err
			}
			details[i] = WorkoutDetail{Workout: *workout, Performance: graph}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return details, nil
}
