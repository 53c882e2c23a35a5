// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package sync

import "time"

// Health classifies the service's current ability to sync, derived from the
// most recent runs and the poller state.
type Health string

const (
	// HealthNotRunning means automatic syncing is disabled; on-demand
	// runs still work.
	HealthNotRunning Health = "not_running"

	// HealthRunning means the poller is active and the last run
	// succeeded (or none has happened yet).
	HealthRunning Health = "running"

	// HealthUnhealthy means the last run failed but the poller keeps
	// trying.
	HealthUnhealthy Health = "unhealthy"

	// HealthDead means the poller stopped on an unrecoverable error and
	// will not try again without intervention.
	HealthDead Health = "dead"
)

// Status is the persisted outcome summary exposed by the status endpoint.
type Status struct {
	Health              Health     `json:"health"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastSuccessfulRunAt *time.Time `json:"last_successful_run_at,omitempty"`
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
	LastErrors          []string   `json:"last_errors,omitempty"`
}

// Run is the result of one sync pass.
type Run struct {
	// ID correlates one pass across log lines.
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	RequestedCount int

	// Stage outcomes. Each starts false and is set only when its stage
	// completes; a stage skipped because an earlier one failed stays
	// false. A no-op run (nothing requested, or nothing new to sync)
	// marks all three true since nothing was attempted and nothing
	// failed.
	DownloadOk bool
	ConvertOk  bool
	UploadOk   bool

	// Uploaded is the number of workout files accepted by the
	// destination.
	Uploaded int

	// NoOp marks a run that attempted nothing: nothing was requested, or
	// everything was already synced. No-op runs succeed but do not count
	// as a successful push in the persisted status.
	NoOp bool

	// Errors collects per-item and per-stage failures. Item failures do
	// not abort the run; they are reported here.
	Errors []string
}

// Success reports whether every stage that ran completed without failures.
func (r *Run) Success() bool {
	return r.DownloadOk && r.ConvertOk && r.UploadOk
}
