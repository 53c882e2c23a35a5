// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package garmin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/jcrawford/velosync/internal/config"
	"github.com/jcrawford/velosync/internal/gateway"
	"github.com/jcrawford/velosync/internal/logging"
)

// SSO endpoint paths and fixed form/query field names. These are wire
// contract, not configuration.
const (
	embedPath  = "/embed"
	signinPath = "/signin"
	mfaPath    = "/verifyMFA/loginEnterMfaCode"

	// cloudflareMarker is the body of a bot-mitigation 403.
	cloudflareMarker = "error code: 1020"

	maxPageBodySize = 1 << 20 // SSO pages are small; cap reads defensively
)

// Client drives the Garmin SSO handshake and token exchanges. It is safe for
// concurrent use; each Login call owns a private cookie jar. Serialization
// per account is the SessionManager's job.
type Client struct {
	cfg config.GarminConfig
	gw  *gateway.Gateway

	consumerMu sync.Mutex
	consumer   *consumerCredentials
}

// NewClient creates a Garmin SSO client.
func NewClient(cfg config.GarminConfig, gw *gateway.Gateway) *Client {
	return &Client{cfg: cfg, gw: gw}
}

// handshake is the per-attempt state of one SSO login: a private cookie jar
// and the user agent echoed on every step.
type handshake struct {
	client    *http.Client
	base      *url.URL
	userAgent string
}

// newHandshake builds a fresh handshake with an empty jar. The HTTP client
// follows redirects and carries the gateway's per-call timeout; handshake
// steps are never retried.
func (c *Client) newHandshake(jar http.CookieJar) (*handshake, error) {
	base, err := url.Parse(c.cfg.SSOBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sso base url: %w", err)
	}
	if jar == nil {
		if jar, err = cookiejar.New(nil); err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
	}
	return &handshake{
		client: &http.Client{
			Timeout: c.gw.Client().Timeout,
			Jar:     jar,
		},
		base:      base,
		userAgent: c.cfg.UserAgent,
	}, nil
}

// embedParams is the fixed query parameter set for the widget endpoints.
func (h *handshake) embedParams() url.Values {
	embed := h.base.String() + embedPath
	params := url.Values{}
	params.Set("id", "gauth-widget")
	params.Set("embedWidget", "true")
	params.Set("gauthHost", h.base.String())
	params.Set("redirectAfterAccountCreationUrl", embed)
	params.Set("redirectAfterAccountLoginUrl", embed)
	params.Set("service", embed)
	params.Set("source", embed)
	return params
}

// get performs one handshake GET and returns the response body.
func (h *handshake) get(ctx context.Context, rawURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBodySize))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}

// postForm performs one handshake form POST, following redirects. It returns
// the body, final status, and the URL the request ended up at (the redirect
// target decides the MFA branch).
func (h *handshake) postForm(ctx context.Context, rawURL string, form url.Values) (string, int, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, nil, err
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBodySize))
	if err != nil {
		return "", resp.StatusCode, nil, err
	}
	return string(body), resp.StatusCode, resp.Request.URL, nil
}

// Login drives the SSO handshake for one account.
//
// On the no-MFA path it returns a completed AuthState. If the server
// redirects to its MFA verification page, Login persists nothing itself: it
// returns the suspended AuthState (stage NeedsMfaCode, with the cookie jar,
// MFA CSRF token and user agent that must be replayed) alongside
// ErrMfaRequired. Callers persist that state and resume via CompleteMfa.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthState, error) {
	hs, err := c.newHandshake(nil)
	if err != nil {
		return nil, authErr(KindFailedBeforeCredentials, "init", err)
	}

	params := hs.embedParams()

	// Step 1: initialize the session; seeds the cookie jar.
	if _, status, err := hs.get(ctx, c.cfg.SSOBaseURL+embedPath+"?"+params.Encode()); err != nil {
		return nil, authErr(KindFailedBeforeCredentials, "init", err)
	} else if status != http.StatusOK {
		return nil, authErr(KindFailedBeforeCredentials, "init", fmt.Errorf("status %d", status))
	}

	// Step 2: fetch the sign-in page and scrape the CSRF token.
	signinURL := c.cfg.SSOBaseURL + signinPath + "?" + params.Encode()
	body, status, err := hs.get(ctx, signinURL)
	if err != nil {
		return nil, authErr(KindFailedBeforeCredentials, "csrf", err)
	}
	if status != http.StatusOK {
		return nil, authErr(KindFailedBeforeCredentials, "csrf", fmt.Errorf("status %d", status))
	}
	csrf, err := extractCSRFToken(body)
	if err != nil {
		return nil, authErr(KindFailedBeforeCredentials, "csrf", err)
	}

	// Step 3: submit credentials.
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)
	form.Set("embed", "true")
	form.Set("_csrf", csrf)

	body, status, finalURL, err := hs.postForm(ctx, signinURL, form)
	if err != nil {
		return nil, authErr(KindInvalidCredentials, "credentials", err)
	}
	if status == http.StatusForbidden && strings.TrimSpace(body) == cloudflareMarker {
		return nil, authErr(KindCloudflare, "credentials", nil)
	}
	if status != http.StatusOK {
		return nil, authErr(KindInvalidCredentials, "credentials", fmt.Errorf("status %d", status))
	}

	state := &AuthState{
		Email:            email,
		UserAgent:        hs.userAgent,
		CredentialDigest: CredentialDigest(email, password),
	}

	// Step 4: branch on the redirect target.
	if finalURL != nil && strings.HasSuffix(finalURL.Path, mfaPath) {
		if !c.cfg.TwoStepVerificationEnabled {
			return nil, authErr(KindUnexpectedMfa, "mfa_redirect", nil)
		}
		mfaCsrf, err := extractCSRFToken(body)
		if err != nil {
			return nil, authErr(KindFailedBeforeMfa, "mfa_csrf", err)
		}

		state.Stage = StageNeedsMfaCode
		state.MfaCsrfToken = mfaCsrf
		state.Cookies = captureCookies(hs.client.Jar, hs.base)

		logging.Info().Str("account", email).Msg("Garmin login suspended, waiting for MFA code")
		return state, ErrMfaRequired
	}

	return c.finishLogin(ctx, hs, body, state)
}

// CompleteMfa resumes a handshake suspended at the MFA step. The persisted
// cookie jar, CSRF token and user agent are replayed exactly; anything else
// is rejected by the server.
func (c *Client) CompleteMfa(ctx context.Context, state *AuthState, code string) (*AuthState, error) {
	if state == nil || state.Stage != StageNeedsMfaCode {
		return nil, authErr(KindNotInitialized, "mfa", nil)
	}

	base, err := url.Parse(c.cfg.SSOBaseURL)
	if err != nil {
		return nil, authErr(KindInvalidMfaCode, "mfa", err)
	}
	jar, err := restoreJar(state.Cookies, base)
	if err != nil {
		return nil, authErr(KindInvalidMfaCode, "mfa", err)
	}

	hs, err := c.newHandshake(jar)
	if err != nil {
		return nil, authErr(KindInvalidMfaCode, "mfa", err)
	}
	// Replay the handshake's original user agent, not the configured one.
	hs.userAgent = state.UserAgent

	form := url.Values{}
	form.Set("embed", "true")
	form.Set("mfa-code", code)
	form.Set("fromPage", "setupEnterMfaCode")
	form.Set("_csrf", state.MfaCsrfToken)

	mfaURL := c.cfg.SSOBaseURL + mfaPath + "?" + hs.embedParams().Encode()
	body, status, _, err := hs.postForm(ctx, mfaURL, form)
	if err != nil {
		return nil, authErr(KindInvalidMfaCode, "mfa", err)
	}
	if status == http.StatusForbidden && strings.TrimSpace(body) == cloudflareMarker {
		return nil, authErr(KindCloudflare, "mfa", nil)
	}
	if status != http.StatusOK {
		return nil, authErr(KindInvalidMfaCode, "mfa", fmt.Errorf("status %d", status))
	}

	return c.finishLogin(ctx, hs, body, state)
}

// finishLogin is the shared tail of both login paths: extract the service
// ticket and run the two token exchanges. From here on, credentials (and
// MFA, if any) were accepted, so every failure is AuthAppearedSuccessful.
func (c *Client) finishLogin(ctx context.Context, hs *handshake, body string, state *AuthState) (*AuthState, error) {
	ticket, err := extractServiceTicket(body)
	if err != nil {
		return nil, authErr(KindAuthAppearedSuccessful, "ticket", err)
	}

	oauth1Token, err := c.exchangeTicket(ctx, hs.userAgent, ticket)
	if err != nil {
		return nil, authErr(KindAuthAppearedSuccessful, "oauth1_exchange", err)
	}

	oauth2Token, err := c.exchangeOAuth1(ctx, hs.userAgent, oauth1Token)
	if err != nil {
		return nil, authErr(KindAuthAppearedSuccessful, "oauth2_exchange", err)
	}

	state.Stage = StageCompleted
	state.MfaCsrfToken = ""
	state.Cookies = nil
	state.OAuth1 = oauth1Token
	state.OAuth2 = oauth2Token

	logging.Info().
		Str("account", state.Email).
		Time("token_expires_at", oauth2Token.ExpiresAt).
		Msg("Garmin login completed")
	return state, nil
}
