// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package garmin

import (
	"errors"
	"testing"
)

func TestExtractCSRFToken(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{
			name: "hidden input",
			body: `<form><input type="hidden" name="_csrf" value="abc123" /></form>`,
			want: "abc123",
		},
		{
			name: "surrounded by markup",
			body: `<html><body><input name="_csrf"` + "\n\t" + `value="tok-99"></body></html>`,
			want: "tok-99",
		},
		{
			name:    "absent",
			body:    `<html><body>maintenance page</body></html>`,
			wantErr: true,
		},
		{
			name:    "empty value",
			body:    `<input name="_csrf" value="">`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractCSRFToken(tt.body)
			if tt.wantErr {
				if !errors.Is(err, errPatternNotFound) {
					t.Fatalf("expected errPatternNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractCSRFTokenFirstMatch(t *testing.T) {
	body := `<input name="_csrf" value="first"><input name="_csrf" value="second">`
	got, err := extractCSRFToken(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "first" {
		t.Errorf("got %q, want first match", got)
	}
}

func TestExtractServiceTicket(t *testing.T) {
	body := `<script>var response_url = "https:\/\/sso.garmin.com\/sso\/embed?ticket=ST-0123456-aBcDeF";</script>
<a href="https://sso.garmin.com/sso/embed?ticket=ST-0123456-aBcDeF">continue</a>`
	got, err := extractServiceTicket(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ST-0123456-aBcDeF" {
		t.Errorf("got %q, want %q", got, "ST-0123456-aBcDeF")
	}

	// Parsing is pure: the same body yields the same ticket again.
	again, err := extractServiceTicket(body)
	if err != nil {
		t.Fatalf("unexpected error on second parse: %v", err)
	}
	if again != got {
		t.Errorf("second parse got %q, want %q", again, got)
	}
}

func TestExtractServiceTicketMissing(t *testing.T) {
	if _, err := extractServiceTicket(`<html><body>welcome back</body></html>`); !errors.Is(err, errPatternNotFound) {
		t.Fatalf("expected errPatternNotFound, got %v", err)
	}
}
