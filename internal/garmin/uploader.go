// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package garmin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jcrawford/velosync/internal/gateway"
	"github.com/jcrawford/velosync/internal/logging"
)

const uploadPath = "/upload-service/upload"

// Uploader pushes converted workout files to the Connect upload service.
//
// Uploads are not retried: the upload endpoint is not idempotent, and a
// retry after an ambiguous failure can duplicate an activity.
type Uploader struct {
	gw      *gateway.Gateway
	baseURL string
	ua      string
}

// NewUploader creates an uploader against the Connect API base URL.
func NewUploader(gw *gateway.Gateway, baseURL, userAgent string) *Uploader {
	return &Uploader{gw: gw, baseURL: baseURL, ua: userAgent}
}

// Upload sends one file as a multipart form, authorized with the account's
// bearer token.
func (u *Uploader) Upload(ctx context.Context, auth *AuthState, path string) error {
	if auth == nil || auth.Stage != StageCompleted {
		return authErr(KindNotInitialized, "upload", nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create multipart field: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read upload file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+uploadPath, &body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+auth.OAuth2.AccessToken)
	req.Header.Set("User-Agent", u.ua)

	resp, err := u.gw.Client().Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload %s: status %d: %s", filepath.Base(path), resp.StatusCode, bytes.TrimSpace(snippet))
	}

	logging.Debug().Str("file", filepath.Base(path)).Int("status", resp.StatusCode).Msg("Workout file uploaded")
	return nil
}
