// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package garmin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// memAuthStore is an in-memory AuthStore.
type memAuthStore struct {
	mu     sync.Mutex
	states map[string]AuthState
}

func newMemAuthStore() *memAuthStore {
	return &memAuthStore{states: make(map[string]AuthState)}
}

func (s *memAuthStore) GetAuthState(_ context.Context, email string) (*AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[email]
	if !ok {
		return nil, ErrStateNotFound
	}
	cp := state
	return &cp, nil
}

func (s *memAuthStore) PutAuthState(_ context.Context, state *AuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Email] = *state
	return nil
}

// fakeLoginClient scripts Login/CompleteMfa outcomes and records call counts.
type fakeLoginClient struct {
	loginState *AuthState
	loginErr   error
	mfaState   *AuthState
	mfaErr     error

	loginDelay  time.Duration
	logins      atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (f *fakeLoginClient) Login(ctx context.Context, email, password string) (*AuthState, error) {
	f.logins.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.loginDelay > 0 {
		time.Sleep(f.loginDelay)
	}
	if f.loginErr != nil {
		return f.loginState, f.loginErr
	}
	cp := *f.loginState
	cp.Email = email
	cp.CredentialDigest = CredentialDigest(email, password)
	return &cp, nil
}

func (f *fakeLoginClient) CompleteMfa(ctx context.Context, state *AuthState, code string) (*AuthState, error) {
	if f.mfaErr != nil {
		return nil, f.mfaErr
	}
	cp := *f.mfaState
	cp.Email = state.Email
	cp.CredentialDigest = state.CredentialDigest
	return &cp, nil
}

func completedState(ttl time.Duration) *AuthState {
	return &AuthState{
		Stage: StageCompleted,
		OAuth2: &OAuth2Token{
			AccessToken: "bearer",
			IssuedAt:    time.Now(),
			ExpiresAt:   time.Now().Add(ttl),
		},
	}
}

func TestGetValidAuthCacheHit(t *testing.T) {
	store := newMemAuthStore()
	fresh := completedState(time.Hour)
	fresh.Email = testEmail
	fresh.CredentialDigest = CredentialDigest(testEmail, testPassword)
	if err := store.PutAuthState(context.Background(), fresh); err != nil {
		t.Fatal(err)
	}

	fake := &fakeLoginClient{loginState: completedState(time.Hour)}
	m := NewSessionManager(fake, store)

	state, err := m.GetValidAuth(context.Background(), Credentials{testEmail, testPassword})
	if err != nil {
		t.Fatalf("GetValidAuth failed: %v", err)
	}
	if state.OAuth2.AccessToken != "bearer" {
		t.Errorf("unexpected token %q", state.OAuth2.AccessToken)
	}
	if got := fake.logins.Load(); got != 0 {
		t.Errorf("cache hit performed %d logins, want 0", got)
	}
}

func TestGetValidAuthExpiredTokenForcesLogin(t *testing.T) {
	store := newMemAuthStore()
	stale := completedState(-time.Hour)
	stale.Email = testEmail
	stale.CredentialDigest = CredentialDigest(testEmail, testPassword)
	store.PutAuthState(context.Background(), stale)

	fake := &fakeLoginClient{loginState: completedState(time.Hour)}
	m := NewSessionManager(fake, store)

	if _, err := m.GetValidAuth(context.Background(), Credentials{testEmail, testPassword}); err != nil {
		t.Fatalf("GetValidAuth failed: %v", err)
	}
	if got := fake.logins.Load(); got != 1 {
		t.Errorf("expected 1 login for expired cache, got %d", got)
	}
}

func TestGetValidAuthCredentialRotationForcesLogin(t *testing.T) {
	store := newMemAuthStore()
	cached := completedState(time.Hour)
	cached.Email = testEmail
	cached.CredentialDigest = CredentialDigest(testEmail, "old-password")
	store.PutAuthState(context.Background(), cached)

	fake := &fakeLoginClient{loginState: completedState(time.Hour)}
	m := NewSessionManager(fake, store)

	if _, err := m.GetValidAuth(context.Background(), Credentials{testEmail, testPassword}); err != nil {
		t.Fatalf("GetValidAuth failed: %v", err)
	}
	if got := fake.logins.Load(); got != 1 {
		t.Errorf("expected fresh login after credential change, got %d logins", got)
	}
}

func TestGetValidAuthPersistsMfaSuspend(t *testing.T) {
	store := newMemAuthStore()
	suspended := &AuthState{
		Email:            testEmail,
		Stage:            StageNeedsMfaCode,
		MfaCsrfToken:     testMfaCSRF,
		Cookies:          []Cookie{{Name: "GARMIN-SSO", Value: "session-1"}},
		CredentialDigest: CredentialDigest(testEmail, testPassword),
	}
	fake := &fakeLoginClient{loginState: suspended, loginErr: ErrMfaRequired}
	m := NewSessionManager(fake, store)

	_, err := m.GetValidAuth(context.Background(), Credentials{testEmail, testPassword})
	if !errors.Is(err, ErrMfaRequired) {
		t.Fatalf("expected ErrMfaRequired, got %v", err)
	}
	if !m.MfaPending(context.Background(), testEmail) {
		t.Error("suspended handshake not visible via MfaPending")
	}

	persisted, err := store.GetAuthState(context.Background(), testEmail)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Stage != StageNeedsMfaCode || persisted.MfaCsrfToken != testMfaCSRF {
		t.Errorf("suspended state not persisted intact: %+v", persisted)
	}
}

func TestCompleteMfaResume(t *testing.T) {
	store := newMemAuthStore()
	store.PutAuthState(context.Background(), &AuthState{
		Email:            testEmail,
		Stage:            StageNeedsMfaCode,
		MfaCsrfToken:     testMfaCSRF,
		CredentialDigest: CredentialDigest(testEmail, testPassword),
	})

	fake := &fakeLoginClient{mfaState: completedState(time.Hour)}
	m := NewSessionManager(fake, store)

	state, err := m.CompleteMfa(context.Background(), Credentials{testEmail, testPassword}, testMfaCode)
	if err != nil {
		t.Fatalf("CompleteMfa failed: %v", err)
	}
	if state.Stage != StageCompleted {
		t.Errorf("stage = %q, want %q", state.Stage, StageCompleted)
	}
	if m.MfaPending(context.Background(), testEmail) {
		t.Error("MfaPending still true after completion")
	}
}

func TestCompleteMfaWithoutSuspendedState(t *testing.T) {
	m := NewSessionManager(&fakeLoginClient{}, newMemAuthStore())
	_, err := m.CompleteMfa(context.Background(), Credentials{testEmail, testPassword}, testMfaCode)
	if KindOf(err) != KindNotInitialized {
		t.Fatalf("expected %s, got %v", KindNotInitialized, err)
	}
}

func TestCompleteMfaCredentialRotationResets(t *testing.T) {
	store := newMemAuthStore()
	store.PutAuthState(context.Background(), &AuthState{
		Email:            testEmail,
		Stage:            StageNeedsMfaCode,
		MfaCsrfToken:     testMfaCSRF,
		CredentialDigest: CredentialDigest(testEmail, "old-password"),
	})

	m := NewSessionManager(&fakeLoginClient{}, store)
	_, err := m.CompleteMfa(context.Background(), Credentials{testEmail, testPassword}, testMfaCode)
	if KindOf(err) != KindNotInitialized {
		t.Fatalf("expected %s, got %v", KindNotInitialized, err)
	}

	state, _ := store.GetAuthState(context.Background(), testEmail)
	if state.Stage != StageNone || state.MfaCsrfToken != "" {
		t.Errorf("stale suspended state not reset: %+v", state)
	}
}

func TestCompleteMfaFailureResetsStage(t *testing.T) {
	store := newMemAuthStore()
	store.PutAuthState(context.Background(), &AuthState{
		Email:            testEmail,
		Stage:            StageNeedsMfaCode,
		MfaCsrfToken:     testMfaCSRF,
		CredentialDigest: CredentialDigest(testEmail, testPassword),
	})

	fake := &fakeLoginClient{mfaErr: authErr(KindInvalidMfaCode, "mfa", nil)}
	m := NewSessionManager(fake, store)

	_, err := m.CompleteMfa(context.Background(), Credentials{testEmail, testPassword}, "000000")
	if KindOf(err) != KindInvalidMfaCode {
		t.Fatalf("expected %s, got %v", KindInvalidMfaCode, err)
	}

	// The MFA CSRF token is single-use; the suspend must not be resumable.
	state, _ := store.GetAuthState(context.Background(), testEmail)
	if state.Stage != StageNone {
		t.Errorf("stage = %q after failed completion, want %q", state.Stage, StageNone)
	}
}

func TestGetValidAuthSerializesPerAccount(t *testing.T) {
	store := newMemAuthStore()
	fake := &fakeLoginClient{loginState: completedState(time.Hour), loginDelay: 20 * time.Millisecond}
	m := NewSessionManager(fake, store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.GetValidAuth(context.Background(), Credentials{testEmail, testPassword}); err != nil {
				t.Errorf("GetValidAuth failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if max := fake.maxInFlight.Load(); max > 1 {
		t.Errorf("handshakes interleaved: %d concurrent logins", max)
	}
	if got := fake.logins.Load(); got != 1 {
		t.Errorf("expected a single login with cache hits after, got %d", got)
	}
}
