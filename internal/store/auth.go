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

	"github.com/jcrawford/velosync/internal/garmin"
)

// GetAuthState loads the persisted authentication state for an account.
// Returns garmin.ErrStateNotFound when none exists.
func (s *Store) GetAuthState(_ context.Context, email string) (*garmin.AuthState, error) {
	data, err := s.get(authKeyPrefix + email)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, garmin.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auth state: %w", err)
	}

	plain, err := s.enc.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("decrypt auth state: %w", err)
	}

	var state garmin.AuthState
	if err := json.Unmarshal(plain, &state); err != nil {
		return nil, fmt.Errorf("unmarshal auth state: %w", err)
	}
	return &state, nil
}

// PutAuthState persists the authentication state for an account, encrypted
// when a master key is configured.
func (s *Store) PutAuthState(_ context.Context, state *garmin.AuthState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal auth state: %w", err)
	}

	sealed, err := s.enc.Encrypt(data)
	if err != nil {
		return fmt.Errorf("encrypt auth state: %w", err)
	}
	if err := s.put(authKeyPrefix+state.Email, sealed); err != nil {
		return fmt.Errorf("put auth state: %w", err)
	}
	return nil
}
