// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package garmin

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// Stage is the position of an account's authentication attempt in the
// handshake state machine.
type Stage string

const (
	// StageNone is the initial stage, and the stage after any reset
	// (credential change, forced refresh, failed MFA completion).
	StageNone Stage = "none"

	// StageNeedsMfaCode is the suspend point: credentials were accepted
	// and the server redirected to its MFA verification page. The cookie
	// jar, MFA CSRF token and user agent are persisted and must be
	// replayed unchanged when the code arrives.
	StageNeedsMfaCode Stage = "needs_mfa_code"

	// StageCompleted means an OAuth2 bearer token was obtained.
	StageCompleted Stage = "completed"
)

// OAuth1Token is the first-generation token pair obtained by exchanging the
// service ticket.
type OAuth1Token struct {
	Token    string    `json:"token"`
	Secret   string    `json:"secret"`
	IssuedAt time.Time `json:"issued_at"`
}

// OAuth2Token is the second-generation bearer token used by all Connect API
// calls.
type OAuth2Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// expirySkew refreshes tokens slightly early so an upload never starts with
// a token about to lapse mid-run.
const expirySkew = time.Minute

// Expired reports whether the token is expired (or about to be) at now.
func (t *OAuth2Token) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	return !now.Add(expirySkew).Before(t.ExpiresAt)
}

// Cookie is the persisted form of a handshake cookie. Only name and value
// are replayed; the whole jar targets a single SSO host.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AuthState is the per-account authentication state, keyed by email.
type AuthState struct {
	Email string `json:"email"`
	Stage Stage  `json:"stage"`

	// Cookies carries the handshake cookie jar across the MFA suspend
	// point. Present only while Stage == StageNeedsMfaCode.
	Cookies []Cookie `json:"cookies,omitempty"`

	// MfaCsrfToken is the single-use token scraped from the MFA form.
	// Present only while Stage == StageNeedsMfaCode.
	MfaCsrfToken string `json:"mfa_csrf_token,omitempty"`

	// UserAgent is echoed on every request of one handshake. The server
	// rejects later steps if it changes mid-flight.
	UserAgent string `json:"user_agent,omitempty"`

	OAuth1 *OAuth1Token `json:"oauth1,omitempty"`
	OAuth2 *OAuth2Token `json:"oauth2,omitempty"`

	// CredentialDigest fingerprints the credentials used for this state so
	// a credential rotation invalidates cached tokens and partial MFA
	// state.
	CredentialDigest string `json:"credential_digest"`

	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialDigest fingerprints an email/password pair.
func CredentialDigest(email, password string) string {
	sum := sha256.Sum256([]byte(email + "\x00" + password))
	return hex.EncodeToString(sum[:])
}

// captureCookies snapshots the jar's cookies for the SSO host.
func captureCookies(jar http.CookieJar, base *url.URL) []Cookie {
	raw := jar.Cookies(base)
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{Name: c.Name, Value: c.Value})
	}
	return cookies
}

// restoreJar rebuilds a cookie jar holding the persisted handshake cookies.
func restoreJar(cookies []Cookie, base *url.URL) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	raw := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		raw = append(raw, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	jar.SetCookies(base, raw)
	return jar, nil
}
