// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// WasSynced reports whether a workout ID was already pushed to the
// destination.
func (s *Store) WasSynced(_ context.Context, workoutID string) (bool, error) {
	_, err := s.get(syncedKeyPrefix + workoutID)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check synced workout: %w", err)
	}
	return true, nil
}

// MarkSynced records a workout ID as pushed. The value is the completion
// timestamp, which makes the history inspectable with badger tooling.
func (s *Store) MarkSynced(_ context.Context, workoutID string) error {
	value := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := s.put(syncedKeyPrefix+workoutID, value); err != nil {
		return fmt.Errorf("mark workout synced: %w", err)
	}
	return nil
}

// SyncedCount returns the number of workouts recorded in the history.
func (s *Store) SyncedCount(_ context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(syncedKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count synced workouts: %w", err)
	}
	return count, nil
}
