// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package garmin

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jcrawford/velosync/internal/logging"
	"github.com/jcrawford/velosync/internal/metrics"
)

// ErrStateNotFound is returned by AuthStore implementations when no state is
// persisted for an account.
var ErrStateNotFound = errors.New("auth state not found")

// AuthStore persists per-account authentication state, including the partial
// state across an MFA pause.
type AuthStore interface {
	GetAuthState(ctx context.Context, email string) (*AuthState, error)
	PutAuthState(ctx context.Context, state *AuthState) error
}

// LoginClient is the handshake surface the SessionManager drives. Satisfied
// by *Client; faked in tests.
type LoginClient interface {
	Login(ctx context.Context, email, password string) (*AuthState, error)
	CompleteMfa(ctx context.Context, state *AuthState, code string) (*AuthState, error)
}

// Credentials is an account's current email/password pair.
type Credentials struct {
	Email    string
	Password string
}

// SessionManager composes the SSO login flow and token exchanges into a
// single GetValidAuth operation and owns each account's current stage.
//
// Concurrent calls for the same account serialize on a per-account mutex:
// each handshake carries its own cookie jar and CSRF token, and mixing them
// across attempts fails silently or is rejected by the server. The lock is
// held for the handshake's full duration (seconds, dominated by network
// latency).
type SessionManager struct {
	client LoginClient
	store  AuthStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSessionManager creates a session manager.
func NewSessionManager(client LoginClient, store AuthStore) *SessionManager {
	return &SessionManager{
		client: client,
		store:  store,
		locks:  make(map[string]*sync.Mutex),
	}
}

// accountLock returns the mutex guarding one account's handshake.
func (m *SessionManager) accountLock(email string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[email]
	if !ok {
		l = &sync.Mutex{}
		m.locks[email] = l
	}
	return l
}

// GetValidAuth returns the cached AuthState unchanged when the handshake is
// complete, the credentials still match, and the bearer token is not
// expired. Otherwise it forces a fresh handshake: credential or token
// rotation invalidates any partial MFA state.
//
// A suspended handshake is persisted and surfaced as ErrMfaRequired; resume
// it with CompleteMfa once the code arrives.
func (m *SessionManager) GetValidAuth(ctx context.Context, creds Credentials) (*AuthState, error) {
	lock := m.accountLock(creds.Email)
	lock.Lock()
	defer lock.Unlock()

	digest := CredentialDigest(creds.Email, creds.Password)

	cached, err := m.store.GetAuthState(ctx, creds.Email)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		logging.Warn().Err(err).Str("account", creds.Email).Msg("Failed to read cached auth state, forcing login")
	}
	if cached != nil &&
		cached.Stage == StageCompleted &&
		cached.CredentialDigest == digest &&
		!cached.OAuth2.Expired(time.Now()) {
		metrics.AuthCacheHits.Inc()
		return cached, nil
	}

	state, err := m.client.Login(ctx, creds.Email, creds.Password)
	switch {
	case errors.Is(err, ErrMfaRequired):
		metrics.AuthAttempts.WithLabelValues("mfa_pending").Inc()
		if putErr := m.persist(ctx, state); putErr != nil {
			return nil, putErr
		}
		return nil, err
	case err != nil:
		metrics.AuthAttempts.WithLabelValues(kindLabel(err)).Inc()
		return nil, err
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	if err := m.persist(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// CompleteMfa resumes the account's suspended handshake with the out-of-band
// code. It fails with KindNotInitialized — without any network call — when no
// handshake is suspended, or when credentials changed since the suspend.
func (m *SessionManager) CompleteMfa(ctx context.Context, creds Credentials, code string) (*AuthState, error) {
	lock := m.accountLock(creds.Email)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.store.GetAuthState(ctx, creds.Email)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return nil, err
	}
	if state == nil || state.Stage != StageNeedsMfaCode {
		return nil, authErr(KindNotInitialized, "mfa", nil)
	}
	if state.CredentialDigest != CredentialDigest(creds.Email, creds.Password) {
		// Credentials rotated mid-pause: the partial state is void.
		m.reset(ctx, state)
		return nil, authErr(KindNotInitialized, "mfa", errors.New("credentials changed since mfa suspend"))
	}

	completed, err := m.client.CompleteMfa(ctx, state, code)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues(kindLabel(err)).Inc()
		// The MFA CSRF token is single-use; the suspended handshake is
		// dead either way.
		m.reset(ctx, state)
		return nil, err
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	if err := m.persist(ctx, completed); err != nil {
		return nil, err
	}
	return completed, nil
}

// MfaPending reports whether the account currently has a suspended
// handshake waiting for a code.
func (m *SessionManager) MfaPending(ctx context.Context, email string) bool {
	state, err := m.store.GetAuthState(ctx, email)
	return err == nil && state != nil && state.Stage == StageNeedsMfaCode
}

// persist writes the state with a fresh UpdatedAt.
func (m *SessionManager) persist(ctx context.Context, state *AuthState) error {
	state.UpdatedAt = time.Now().UTC()
	return m.store.PutAuthState(ctx, state)
}

// reset clears a dead handshake back to StageNone, best effort.
func (m *SessionManager) reset(ctx context.Context, state *AuthState) {
	state.Stage = StageNone
	state.Cookies = nil
	state.MfaCsrfToken = ""
	if err := m.persist(ctx, state); err != nil {
		logging.Warn().Err(err).Str("account", state.Email).Msg("Failed to reset auth state")
	}
}

// kindLabel maps an auth error to a metrics label.
func kindLabel(err error) string {
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
