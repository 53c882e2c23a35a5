// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package garmin

import (
	"context"
	"fmt"

	syncpkg "github.com/jcrawford/velosync/internal/sync"
)

// fileUploader is the upload surface SyncUploader drives; satisfied by
// *Uploader.
type fileUploader interface {
	Upload(ctx context.Context, auth *AuthState, path string) error
}

// authProvider is the session surface SyncUploader drives; satisfied by
// *SessionManager.
type authProvider interface {
	GetValidAuth(ctx context.Context, creds Credentials) (*AuthState, error)
}

// SyncUploader adapts the destination uploader to the sync pipeline. Auth is
// acquired once per upload stage, inside Session, so a run performs at most
// one SSO handshake and a destination auth failure degrades only the upload
// stage, never download or convert.
type SyncUploader struct {
	sessions authProvider
	uploader fileUploader
	creds    Credentials
}

// NewSyncUploader creates the pipeline upload adapter for one account.
func NewSyncUploader(sessions authProvider, uploader fileUploader, creds Credentials) *SyncUploader {
	return &SyncUploader{sessions: sessions, uploader: uploader, creds: creds}
}

// Session acquires (or reuses) the account's auth and returns a session that
// uploads every file of this run under it.
func (u *SyncUploader) Session(ctx context.Context) (syncpkg.UploadSession, error) {
	auth, err := u.sessions.GetValidAuth(ctx, u.creds)
	if err != nil {
		return nil, fmt.Errorf("destination auth: %w", err)
	}
	return &uploadSession{uploader: u.uploader, auth: auth}, nil
}

// uploadSession carries one run's auth across its uploads.
type uploadSession struct {
	uploader fileUploader
	auth     *AuthState
}

// Upload pushes one converted file.
func (s *uploadSession) Upload(ctx context.Context, f syncpkg.ConvertedFile) error {
	return s.uploader.Upload(ctx, s.auth, f.Path)
}
