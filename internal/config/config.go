// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

// Package config holds the application configuration model and loading logic.
//
// Configuration is loaded via Koanf v2 with layered sources, highest priority
// wins: environment variables > config file (config.yaml) > built-in defaults.
package config

import (
	"sync/atomic"
	"time"
)

// Config is the root configuration for VeloSync.
type Config struct {
	Peloton PelotonConfig `koanf:"peloton"`
	Garmin  GarminConfig  `koanf:"garmin"`
	Sync    SyncConfig    `koanf:"sync"`
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Logging LoggingConfig `koanf:"logging"`
}

// PelotonConfig holds Peloton (source platform) settings.
type PelotonConfig struct {
	Email    string `koanf:"email"`
	Password string `koanf:"password"`
	// URL is the Peloton API base URL. Only overridden in tests.
	URL string `koanf:"url"`
	// RequestsPerSecond caps outbound Peloton calls client-side.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// GarminConfig holds Garmin Connect (destination platform) settings.
type GarminConfig struct {
	Email    string `koanf:"email"`
	Password string `koanf:"password"`
	// TwoStepVerificationEnabled declares whether the Garmin account has MFA
	// turned on. The SSO flow refuses an unexpected MFA challenge when this
	// is false, since that indicates talking to the wrong account.
	TwoStepVerificationEnabled bool `koanf:"two_step_verification_enabled"`
	// SSOBaseURL, APIBaseURL and ConsumerURL are fixed wire contract.
	// They are configurable only so tests can point at fixtures.
	SSOBaseURL  string `koanf:"sso_base_url"`
	APIBaseURL  string `koanf:"api_base_url"`
	ConsumerURL string `koanf:"consumer_url"`
	// UserAgent is echoed on every request of one SSO handshake. The server
	// rejects later handshake steps if it changes mid-flight.
	UserAgent string `koanf:"user_agent"`
}

// SyncConfig holds sync pipeline and poller settings.
type SyncConfig struct {
	// Enabled turns the background poller on. Manual runs via the API work
	// regardless.
	Enabled bool `koanf:"enabled"`
	// Interval is the cadence between automatic runs.
	Interval time.Duration `koanf:"interval"`
	// PollSlice is the short sleep slice used inside the poller so that
	// config changes are observed promptly mid-interval.
	PollSlice time.Duration `koanf:"poll_slice"`
	// WorkoutCount is how many most-recent workouts each run considers.
	WorkoutCount int `koanf:"workout_count"`
	// IgnoreHistory re-syncs workouts already marked as synced.
	IgnoreHistory bool `koanf:"ignore_history"`
	// WorkingDir is the root for download/upload scratch space.
	WorkingDir string `koanf:"working_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// StoreConfig holds badger persistence settings.
type StoreConfig struct {
	Path string `koanf:"path"`
	// InMemory runs badger without disk persistence. Test use only.
	InMemory bool `koanf:"in_memory"`
	// EncryptionKey is the base64-encoded master key used to encrypt
	// credentials at rest. Empty disables encryption.
	EncryptionKey string `koanf:"encryption_key"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Watch is a live view over configuration values the poller re-reads between
// sleep slices. Updates are atomic so a reload or an API toggle is observed
// without restarting the poller.
type Watch struct {
	v atomic.Pointer[SyncConfig]
}

// NewWatch creates a Watch seeded with the given sync configuration.
func NewWatch(cfg SyncConfig) *Watch {
	w := &Watch{}
	w.v.Store(&cfg)
	return w
}

// Sync returns the current sync configuration snapshot.
func (w *Watch) Sync() SyncConfig {
	return *w.v.Load()
}

// Update replaces the sync configuration snapshot.
func (w *Watch) Update(cfg SyncConfig) {
	w.v.Store(&cfg)
}

// SetEnabled toggles the poller without touching other settings.
func (w *Watch) SetEnabled(enabled bool) {
	cfg := w.Sync()
	cfg.Enabled = enabled
	w.v.Store(&cfg)
}
