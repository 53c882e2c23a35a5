// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package garmin

import (
	"errors"
	"fmt"
)

// ErrorKind classifies where and how an SSO handshake attempt failed. All
// kinds are terminal for the current attempt; none are retried automatically.
type ErrorKind string

const (
	// KindFailedBeforeCredentials covers failures before credentials were
	// submitted: session init failed, or the CSRF token could not be
	// scraped (the server changed its page or blocked the request).
	KindFailedBeforeCredentials ErrorKind = "failed_before_credentials"

	// KindInvalidCredentials is a credential rejection.
	KindInvalidCredentials ErrorKind = "invalid_credentials"

	// KindCloudflare is a bot-mitigation block (403 with the known
	// challenge marker body).
	KindCloudflare ErrorKind = "cloudflare"

	// KindUnexpectedMfa means the server demanded MFA but the account is
	// not configured to expect it.
	KindUnexpectedMfa ErrorKind = "unexpected_mfa"

	// KindFailedBeforeMfa means the MFA form CSRF token could not be
	// scraped after the MFA redirect.
	KindFailedBeforeMfa ErrorKind = "failed_before_mfa"

	// KindInvalidMfaCode is an MFA code rejection.
	KindInvalidMfaCode ErrorKind = "invalid_mfa_code"

	// KindAuthAppearedSuccessful means credentials (and MFA, if any) were
	// accepted but a downstream artifact — the service ticket or a token
	// exchange — could not be obtained. Surfaced distinctly: the account
	// is fine and the failure is likely transient or server-side.
	KindAuthAppearedSuccessful ErrorKind = "auth_appeared_successful"

	// KindNotInitialized means CompleteMfa was called while no handshake
	// was suspended at the MFA step.
	KindNotInitialized ErrorKind = "not_initialized"
)

// AuthError is the typed failure of one handshake attempt.
type AuthError struct {
	Kind ErrorKind
	Step string
	Err  error
}

// Error implements error.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("garmin auth %s: %s: %v", e.Step, e.Kind, e.Err)
	}
	return fmt.Sprintf("garmin auth %s: %s", e.Step, e.Kind)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// authErr builds an AuthError.
func authErr(kind ErrorKind, step string, err error) *AuthError {
	return &AuthError{Kind: kind, Step: step, Err: err}
}

// KindOf extracts the ErrorKind from an error chain. Returns "" if the error
// is not an AuthError.
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// ErrMfaRequired signals that a login attempt suspended at the MFA step.
// The partial state has been persisted; the caller must obtain the code out
// of band and call CompleteMfa, potentially on a different invocation.
var ErrMfaRequired = errors.New("garmin auth: mfa code required")
