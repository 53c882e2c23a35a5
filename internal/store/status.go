// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	syncpkg "github.com/jcrawford/velosync/internal/sync"
)

// GetSyncStatus loads the persisted sync status. A fresh store reports
// HealthNotRunning with no run history.
func (s *Store) GetSyncStatus(_ context.Context) (*syncpkg.Status, error) {
	data, err := s.get(statusKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return &syncpkg.Status{Health: syncpkg.HealthNotRunning}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync status: %w", err)
	}

	var status syncpkg.Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal sync status: %w", err)
	}
	return &status, nil
}

// PutSyncStatus persists the sync status summary.
func (s *Store) PutSyncStatus(_ context.Context, status *syncpkg.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal sync status: %w", err)
	}
	if err := s.put(statusKey, data); err != nil {
		return fmt.Errorf("put sync status: %w", err)
	}
	return nil
}
