// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package garmin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"

	"github.com/jcrawford/velosync/internal/config"
	"github.com/jcrawford/velosync/internal/gateway"
)

const (
	testEmail    = "rider@example.com"
	testPassword = "hunter2"
	testCSRF     = "csrf-signin-token"
	testMfaCSRF  = "csrf-mfa-token"
	testTicket   = "ST-0042-testticket"
	testMfaCode  = "123456"
)

// ssoFixture is a fake SSO plus Connect API host covering the whole
// handshake. Behavior toggles select the failure scenarios.
type ssoFixture struct {
	t   *testing.T
	srv *httptest.Server

	mfaRedirect  bool
	cloudflare   bool
	rejectCreds  bool
	omitTicket   bool
	requests     atomic.Int64
	mfaSawCookie atomic.Bool
	mfaSawCSRF   atomic.Bool

	consumerDown  atomic.Bool
	consumerCalls atomic.Int64
}

func newSSOFixture(t *testing.T) *ssoFixture {
	t.Helper()
	f := &ssoFixture{t: t}
	mux := http.NewServeMux()

	mux.HandleFunc("/embed", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "GARMIN-SSO", Value: "session-1", Path: "/"})
		fmt.Fprint(w, "<html><body>widget</body></html>")
	})

	mux.HandleFunc("/signin", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprintf(w, `<form><input type="hidden" name="_csrf" value=%q /></form>`, testCSRF)
			return
		}
		if f.cloudflare {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, cloudflareMarker)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("_csrf") != testCSRF {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if f.rejectCreds || r.PostForm.Get("username") != testEmail || r.PostForm.Get("password") != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.mfaRedirect {
			http.Redirect(w, r, "/verifyMFA/loginEnterMfaCode", http.StatusFound)
			return
		}
		f.writeTicketPage(w)
	})

	mux.HandleFunc("/verifyMFA/loginEnterMfaCode", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprintf(w, `<form><input type="hidden" name="_csrf" value=%q /></form>`, testMfaCSRF)
			return
		}
		if c, err := r.Cookie("GARMIN-SSO"); err == nil && c.Value == "session-1" {
			f.mfaSawCookie.Store(true)
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("_csrf") == testMfaCSRF {
			f.mfaSawCSRF.Store(true)
		}
		code := r.PostForm.Get("mfa-code")
		if !f.mfaSawCookie.Load() || !f.mfaSawCSRF.Load() || code != testMfaCode {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.writeTicketPage(w)
	})

	mux.HandleFunc("/consumer", func(w http.ResponseWriter, r *http.Request) {
		f.consumerCalls.Add(1)
		if f.consumerDown.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"consumer_key":    "test-consumer-key",
			"consumer_secret": "test-consumer-secret",
		})
	})

	mux.HandleFunc("/oauth-service/oauth/preauthorized", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ticket") != testTicket {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "oauth_token=oauth1-token&oauth_token_secret=oauth1-secret")
	})

	mux.HandleFunc("/oauth-service/oauth/exchange/user/2.0", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "bearer-token",
			"token_type":    "Bearer",
			"refresh_token": "refresh-token",
			"expires_in":    3600,
		})
	})

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *ssoFixture) writeTicketPage(w http.ResponseWriter) {
	if f.omitTicket {
		fmt.Fprint(w, "<html><body>signed in</body></html>")
		return
	}
	fmt.Fprintf(w, `<html><a href="%s/embed?ticket=%s">continue</a></html>`, f.srv.URL, testTicket)
}

func (f *ssoFixture) client(mfaEnabled bool) *Client {
	return NewClient(config.GarminConfig{
		TwoStepVerificationEnabled: mfaEnabled,
		SSOBaseURL:                 f.srv.URL,
		APIBaseURL:                 f.srv.URL,
		ConsumerURL:                f.srv.URL + "/consumer",
		UserAgent:                  "velosync-test",
	}, gateway.New(gateway.Config{}))
}

func TestLoginHappyPath(t *testing.T) {
	f := newSSOFixture(t)
	state, err := f.client(false).Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if state.Stage != StageCompleted {
		t.Errorf("stage = %q, want %q", state.Stage, StageCompleted)
	}
	if state.OAuth2 == nil || state.OAuth2.AccessToken != "bearer-token" {
		t.Errorf("unexpected oauth2 token: %+v", state.OAuth2)
	}
	if state.OAuth1 == nil || state.OAuth1.Token != "oauth1-token" {
		t.Errorf("unexpected oauth1 token: %+v", state.OAuth1)
	}
	if state.MfaCsrfToken != "" || len(state.Cookies) != 0 {
		t.Error("completed state must not carry handshake artifacts")
	}
	if state.CredentialDigest != CredentialDigest(testEmail, testPassword) {
		t.Error("credential digest mismatch")
	}
}

func TestLoginMfaSuspendAndResume(t *testing.T) {
	f := newSSOFixture(t)
	f.mfaRedirect = true
	c := f.client(true)

	state, err := c.Login(context.Background(), testEmail, testPassword)
	if !errors.Is(err, ErrMfaRequired) {
		t.Fatalf("expected ErrMfaRequired, got %v", err)
	}
	if state == nil || state.Stage != StageNeedsMfaCode {
		t.Fatalf("expected suspended state, got %+v", state)
	}
	if state.MfaCsrfToken != testMfaCSRF {
		t.Errorf("mfa csrf = %q, want %q", state.MfaCsrfToken, testMfaCSRF)
	}
	if len(state.Cookies) == 0 {
		t.Fatal("suspended state must carry the handshake cookies")
	}

	completed, err := c.CompleteMfa(context.Background(), state, testMfaCode)
	if err != nil {
		t.Fatalf("CompleteMfa failed: %v", err)
	}
	if completed.Stage != StageCompleted {
		t.Errorf("stage = %q, want %q", completed.Stage, StageCompleted)
	}
	if !f.mfaSawCookie.Load() {
		t.Error("MFA completion did not replay the handshake cookie jar")
	}
	if !f.mfaSawCSRF.Load() {
		t.Error("MFA completion did not replay the scraped CSRF token")
	}
}

func TestLoginUnexpectedMfa(t *testing.T) {
	f := newSSOFixture(t)
	f.mfaRedirect = true

	_, err := f.client(false).Login(context.Background(), testEmail, testPassword)
	if KindOf(err) != KindUnexpectedMfa {
		t.Fatalf("expected %s, got %v", KindUnexpectedMfa, err)
	}
}

func TestLoginCloudflareBlocked(t *testing.T) {
	f := newSSOFixture(t)
	f.cloudflare = true

	_, err := f.client(false).Login(context.Background(), testEmail, testPassword)
	if KindOf(err) != KindCloudflare {
		t.Fatalf("expected %s, got %v", KindCloudflare, err)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newSSOFixture(t)

	_, err := f.client(false).Login(context.Background(), testEmail, "wrong-password")
	if KindOf(err) != KindInvalidCredentials {
		t.Fatalf("expected %s, got %v", KindInvalidCredentials, err)
	}
}

func TestLoginMissingTicketIsAuthAppearedSuccessful(t *testing.T) {
	f := newSSOFixture(t)
	f.omitTicket = true

	_, err := f.client(false).Login(context.Background(), testEmail, testPassword)
	if KindOf(err) != KindAuthAppearedSuccessful {
		t.Fatalf("expected %s, got %v", KindAuthAppearedSuccessful, err)
	}
}

func TestLoginRecoversAfterConsumerOutage(t *testing.T) {
	f := newSSOFixture(t)
	f.consumerDown.Store(true)
	c := f.client(false)

	_, err := c.Login(context.Background(), testEmail, testPassword)
	if got := KindOf(err); got != KindAuthAppearedSuccessful {
		t.Fatalf("error kind = %q, want %q (%v)", got, KindAuthAppearedSuccessful, err)
	}

	// The outage was transient; the next handshake must refetch instead of
	// replaying the stale failure.
	f.consumerDown.Store(false)
	state, err := c.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login after consumer recovery failed: %v", err)
	}
	if state.Stage != StageCompleted {
		t.Errorf("stage = %q, want %q", state.Stage, StageCompleted)
	}
	if got := f.consumerCalls.Load(); got != 2 {
		t.Errorf("consumer endpoint called %d times, want 2", got)
	}
}

func TestConsumerCredsCachedAfterSuccess(t *testing.T) {
	f := newSSOFixture(t)
	c := f.client(false)

	for i := 0; i < 2; i++ {
		if _, err := c.Login(context.Background(), testEmail, testPassword); err != nil {
			t.Fatalf("Login %d failed: %v", i+1, err)
		}
	}
	if got := f.consumerCalls.Load(); got != 1 {
		t.Errorf("consumer endpoint called %d times across two logins, want 1", got)
	}
}

func TestLoginInvalidMfaCode(t *testing.T) {
	f := newSSOFixture(t)
	f.mfaRedirect = true
	c := f.client(true)

	state, err := c.Login(context.Background(), testEmail, testPassword)
	if !errors.Is(err, ErrMfaRequired) {
		t.Fatalf("expected ErrMfaRequired, got %v", err)
	}

	_, err = c.CompleteMfa(context.Background(), state, "000000")
	if KindOf(err) != KindInvalidMfaCode {
		t.Fatalf("expected %s, got %v", KindInvalidMfaCode, err)
	}
}

func TestCompleteMfaNotInitialized(t *testing.T) {
	f := newSSOFixture(t)
	c := f.client(true)
	before := f.requests.Load()

	for _, state := range []*AuthState{
		nil,
		{Email: testEmail, Stage: StageNone},
		{Email: testEmail, Stage: StageCompleted},
	} {
		if _, err := c.CompleteMfa(context.Background(), state, testMfaCode); KindOf(err) != KindNotInitialized {
			t.Fatalf("expected %s for state %+v, got %v", KindNotInitialized, state, err)
		}
	}
	if got := f.requests.Load(); got != before {
		t.Errorf("CompleteMfa on an uninitialized state made %d network calls", got-before)
	}
}
