// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package garmin

import (
	"errors"
	"regexp"
)

// The SSO pages are not a structured API; the two artifacts we need are
// scraped from fixed patterns in the HTML. Isolating the patterns here keeps
// them unit-testable without live fixtures, and a future page change only
// touches this file.

var (
	csrfPattern   = regexp.MustCompile(`name="_csrf"\s+value="([^"]+)"`)
	ticketPattern = regexp.MustCompile(`embed\?ticket=([^"]+)"`)
)

// errPatternNotFound is returned when an expected page artifact is absent.
// Callers map it to the appropriate ErrorKind for their handshake step.
var errPatternNotFound = errors.New("expected pattern not found in response body")

// extractCSRFToken scrapes the hidden _csrf input value from a sign-in or
// MFA form body.
func extractCSRFToken(body string) (string, error) {
	m := csrfPattern.FindStringSubmatch(body)
	if m == nil || m[1] == "" {
		return "", errPatternNotFound
	}
	return m[1], nil
}

// extractServiceTicket scrapes the service ticket from the post-login
// response body.
func extractServiceTicket(body string) (string, error) {
	m := ticketPattern.FindStringSubmatch(body)
	if m == nil || m[1] == "" {
		return "", errPatternNotFound
	}
	return m[1], nil
}
