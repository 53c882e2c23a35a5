// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/jcrawford/velosync/internal/config"
	"github.com/jcrawford/velosync/internal/garmin"
	syncpkg "github.com/jcrawford/velosync/internal/sync"
)

type fakeRunner struct {
	run      *syncpkg.Run
	lastOpts syncpkg.Options
	calls    int
}

func (f *fakeRunner) Run(ctx context.Context, opts syncpkg.Options) *syncpkg.Run {
	f.calls++
	f.lastOpts = opts
	if f.run != nil {
		return f.run
	}
	now := time.Now().UTC()
	return &syncpkg.Run{
		StartedAt:  now,
		FinishedAt: now,
		DownloadOk: true,
		ConvertOk:  true,
		UploadOk:   true,
		Uploaded:   2,
	}
}

type fakeSessions struct {
	mfaErr  error
	pending bool
	calls   int
	code    string
}

func (f *fakeSessions) CompleteMfa(ctx context.Context, creds garmin.Credentials, code string) (*garmin.AuthState, error) {
	f.calls++
	f.code = code
	if f.mfaErr != nil {
		return nil, f.mfaErr
	}
	return &garmin.AuthState{Email: creds.Email}, nil
}

func (f *fakeSessions) MfaPending(ctx context.Context, email string) bool {
	return f.pending
}

type fakeStatus struct {
	status *syncpkg.Status
	err    error
}

func (f *fakeStatus) GetSyncStatus(ctx context.Context) (*syncpkg.Status, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.status != nil {
		return f.status, nil
	}
	return &syncpkg.Status{Health: syncpkg.HealthNotRunning}, nil
}

type apiFixture struct {
	runner   *fakeRunner
	sessions *fakeSessions
	status   *fakeStatus
	srv      *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		runner:   &fakeRunner{},
		sessions: &fakeSessions{},
		status:   &fakeStatus{},
	}
	watch := config.NewWatch(config.SyncConfig{WorkoutCount: 5})
	handler := NewHandler(f.runner, f.sessions, f.status, watch, garmin.Credentials{
		Email:    "rider@example.com",
		Password: "pw",
	})
	router := NewRouter(config.ServerConfig{}, handler)
	f.srv = httptest.NewServer(router.Setup())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q, want application/json", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestSyncTriggersRun(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.postJSON(t, "/api/v1/sync", map[string]any{"workout_count": 3})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body syncResponse
	decodeJSON(t, resp, &body)
	if !body.SyncSuccess || !body.DownloadSuccess || !body.ConvertSuccess || !body.UploadSuccess {
		t.Fatalf("unexpected response: %+v", body)
	}
	if body.Uploaded != 2 {
		t.Fatalf("uploaded = %d, want 2", body.Uploaded)
	}
	if f.runner.calls != 1 {
		t.Fatalf("runner calls = %d, want 1", f.runner.calls)
	}
	if f.runner.lastOpts.RequestedCount != 3 {
		t.Fatalf("requested count = %d, want 3", f.runner.lastOpts.RequestedCount)
	}
}

func TestSyncDefaultsToConfiguredCount(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.postJSON(t, "/api/v1/sync", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	if f.runner.lastOpts.RequestedCount != 5 {
		t.Fatalf("requested count = %d, want configured 5", f.runner.lastOpts.RequestedCount)
	}
}

func TestSyncExplicitIDs(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.postJSON(t, "/api/v1/sync", map[string]any{
		"workout_ids":          []string{"w1", "w2"},
		"force_ignore_history": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	if got := f.runner.lastOpts.WorkoutIDs; len(got) != 2 || got[0] != "w1" {
		t.Fatalf("workout ids = %v", got)
	}
	if !f.runner.lastOpts.IgnoreHistory {
		t.Fatal("expected ignore history to be set")
	}
	if f.runner.lastOpts.RequestedCount != 0 {
		t.Fatalf("requested count = %d, want 0 for explicit ids", f.runner.lastOpts.RequestedCount)
	}
}

func TestSyncRejectsInvalidBody(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Post(f.srv.URL+"/api/v1/sync", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if f.runner.calls != 0 {
		t.Fatalf("runner calls = %d, want 0", f.runner.calls)
	}
}

func TestSyncRejectsOutOfRangeCount(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.postJSON(t, "/api/v1/sync", map[string]any{"workout_count": 500})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if f.runner.calls != 0 {
		t.Fatalf("runner calls = %d, want 0", f.runner.calls)
	}
}

func TestSyncReportsFailedRun(t *testing.T) {
	f := newAPIFixture(t)
	now := time.Now().UTC()
	f.runner.run = &syncpkg.Run{
		StartedAt:  now,
		FinishedAt: now,
		DownloadOk: true,
		Errors:     []string{"convert w1: bad payload"},
	}

	resp := f.postJSON(t, "/api/v1/sync", map[string]any{"workout_count": 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body syncResponse
	decodeJSON(t, resp, &body)
	if body.SyncSuccess || !body.DownloadSuccess || body.ConvertSuccess {
		t.Fatalf("unexpected response: %+v", body)
	}
	if len(body.Errors) != 1 {
		t.Fatalf("errors = %v", body.Errors)
	}
}

func TestSyncStatusReportsMfaPending(t *testing.T) {
	f := newAPIFixture(t)
	f.sessions.pending = true
	f.status.status = &syncpkg.Status{Health: syncpkg.HealthUnhealthy, LastErrors: []string{"upload failed"}}

	resp, err := http.Get(f.srv.URL + "/api/v1/sync/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body statusResponse
	decodeJSON(t, resp, &body)
	if !body.MfaPending {
		t.Fatal("expected mfa_pending true")
	}
	if body.Status.Health != syncpkg.HealthUnhealthy {
		t.Fatalf("health = %q", body.Status.Health)
	}
}

func TestCompleteMfaSuccess(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.postJSON(t, "/api/v1/auth/mfa", map[string]any{"code": "123456"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	if f.sessions.calls != 1 || f.sessions.code != "123456" {
		t.Fatalf("sessions calls = %d code = %q", f.sessions.calls, f.sessions.code)
	}
}

func TestCompleteMfaValidatesCode(t *testing.T) {
	f := newAPIFixture(t)

	for _, code := range []string{"", "12", "not-digits", "123456789"} {
		resp := f.postJSON(t, "/api/v1/auth/mfa", map[string]any{"code": code})
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("code %q: status = %d, want 400", code, resp.StatusCode)
		}
	}
	if f.sessions.calls != 0 {
		t.Fatalf("sessions calls = %d, want 0", f.sessions.calls)
	}
}

func TestCompleteMfaErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not initialized", &garmin.AuthError{Kind: garmin.KindNotInitialized, Step: "mfa"}, http.StatusConflict},
		{"rejected code", &garmin.AuthError{Kind: garmin.KindInvalidMfaCode, Step: "mfa"}, http.StatusUnauthorized},
		{"upstream failure", &garmin.AuthError{Kind: garmin.KindFailedBeforeMfa, Step: "mfa"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.sessions.mfaErr = tt.err

			resp := f.postJSON(t, "/api/v1/auth/mfa", map[string]any{"code": "123456"})
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHealthReflectsSyncHealth(t *testing.T) {
	f := newAPIFixture(t)
	f.status.status = &syncpkg.Status{Health: syncpkg.HealthRunning}

	resp, err := http.Get(f.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["health"] != string(syncpkg.HealthRunning) {
		t.Fatalf("health = %q", body["health"])
	}
}

func TestHealthDeadIsUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	f.status.status = &syncpkg.Status{Health: syncpkg.HealthDead}

	resp, err := http.Get(f.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
