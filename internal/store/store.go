// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

// Package store persists service state in BadgerDB: per-account
// authentication state (encrypted at rest when a master key is configured),
// the sync status summary, and the history of already-synced workout IDs.
package store

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/jcrawford/velosync/internal/config"
)

// Key prefixes for BadgerDB storage
const (
	authKeyPrefix   = "garmin_auth:"
	syncedKeyPrefix = "synced:"
	statusKey       = "sync_status"
)

// Store is the BadgerDB-backed persistence layer.
type Store struct {
	db  *badger.DB
	enc *Encryptor
}

// Open opens (or creates) the store at the configured path.
func Open(cfg config.StoreConfig) (*Store, error) {
	enc, err := NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("configure store encryption: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db at %s: %w", cfg.Path, err)
	}
	return &Store{db: db, enc: enc}, nil
}

// OpenInMemory opens an ephemeral store. Used by tests and by runs with no
// persistence configured.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// put writes one key.
func (s *Store) put(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// get reads one key. Returns badger.ErrKeyNotFound when absent.
func (s *Store) get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, err
}
