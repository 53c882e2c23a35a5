// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

/*
Package garmin drives the Garmin Connect authentication state machine and the
authenticated upload client.

Garmin has no public API. Authentication emulates the browser SSO widget:

 1. Initialize the session: GET the embed endpoint to seed a cookie jar.
 2. Scrape a CSRF token from the sign-in page.
 3. POST credentials.
 4. If the server redirects to the MFA verification page, scrape a second
    CSRF token, persist the partial state (cookie jar, token, user agent) and
    suspend. The MFA code arrives out of band, possibly on a much later
    invocation.
 5. Extract a short-lived service ticket from the final response body.
 6. Exchange the ticket for an OAuth1 token pair using fetched consumer
    credentials, then exchange that pair for the OAuth2 bearer token used by
    all Connect API calls.

One handshake owns one cookie jar, one CSRF token, and one user agent; mixing
state across concurrent handshakes is rejected by the server (or fails
silently). SessionManager serializes handshakes per account to preserve that
invariant. No handshake step is ever retried automatically.
*/
package garmin
