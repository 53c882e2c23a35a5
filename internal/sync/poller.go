// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package sync

import (
	"context"
	"time"

	"github.com/jcrawford/velosync/internal/config"
	"github.com/jcrawford/velosync/internal/logging"
)

// defaultPollSlice is the sleep granularity between enabled/interval checks.
const defaultPollSlice = 5 * time.Second

// Poller triggers sync runs on the configured interval. It sleeps in short
// slices so a configuration change (enabled toggled, interval changed) is
// observed within one slice instead of one full interval, and toggling the
// poller off mid-sleep skips the pending run.
//
// Poller implements suture.Service: Serve blocks until the context is
// canceled. Runs already in flight finish; cancellation is only checked
// between slices (best effort).
type Poller struct {
	orch   runner
	watch  *config.Watch
	status StatusStore

	// lastRun is maintained across slices so an interval change mid-wait
	// reschedules relative to the previous run, not to the change.
	lastRun time.Time
}

// runner is the orchestrator surface the poller drives; faked in tests.
type runner interface {
	Run(ctx context.Context, opts Options) *Run
}

// NewPoller creates a poller driving the orchestrator.
func NewPoller(orch runner, watch *config.Watch, status StatusStore) *Poller {
	return &Poller{orch: orch, watch: watch, status: status}
}

// String identifies the poller in supervisor logs.
func (p *Poller) String() string {
	return "sync-poller"
}

// Serve implements suture.Service.
func (p *Poller) Serve(ctx context.Context) error {
	logging.Info().Msg("Sync poller started")
	defer logging.Info().Msg("Sync poller stopped")

	// A panic means the poller is gone until the supervisor restarts it;
	// record that in the persisted health before re-raising.
	defer func() {
		if r := recover(); r != nil {
			p.markDead(ctx)
			panic(r)
		}
	}()

	for {
		cfg := p.watch.Sync()
		slice := cfg.PollSlice
		if slice <= 0 {
			slice = defaultPollSlice
		}

		if !cfg.Enabled {
			p.announceNextRun(ctx, nil)
		} else if due, next := p.due(cfg); due {
			run := p.orch.Run(ctx, Options{RequestedCount: cfg.WorkoutCount, IgnoreHistory: cfg.IgnoreHistory})
			p.lastRun = run.FinishedAt
			next = p.lastRun.Add(cfg.Interval)
			p.announceNextRun(ctx, &next)
		} else {
			p.announceNextRun(ctx, &next)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(slice):
		}
	}
}

// due reports whether the interval has elapsed since the last run, and the
// time of the next scheduled run.
func (p *Poller) due(cfg config.SyncConfig) (bool, time.Time) {
	if p.lastRun.IsZero() {
		return true, time.Now()
	}
	next := p.lastRun.Add(cfg.Interval)
	return !time.Now().Before(next), next
}

// markDead persists the dead health state after a poller crash. Best effort;
// the process may be on its way down.
func (p *Poller) markDead(ctx context.Context) {
	status, err := p.status.GetSyncStatus(ctx)
	if err != nil {
		return
	}
	status.Health = HealthDead
	status.NextRunAt = nil
	if err := p.status.PutSyncStatus(ctx, status); err != nil {
		logging.Error().Err(err).Msg("Failed to persist dead poller state")
	}
}

// announceNextRun keeps the persisted status's next-run field current so the
// status endpoint reflects the poller schedule. Best effort.
func (p *Poller) announceNextRun(ctx context.Context, next *time.Time) {
	status, err := p.status.GetSyncStatus(ctx)
	if err != nil {
		return
	}

	changed := false
	if next == nil {
		if status.NextRunAt != nil || status.Health == HealthRunning {
			status.NextRunAt = nil
			if status.Health == HealthRunning {
				status.Health = HealthNotRunning
			}
			changed = true
		}
	} else if status.NextRunAt == nil || !status.NextRunAt.Equal(*next) {
		status.NextRunAt = next
		if status.Health == HealthNotRunning {
			status.Health = HealthRunning
		}
		changed = true
	}

	if changed {
		if err := p.status.PutSyncStatus(ctx, status); err != nil {
			logging.Warn().Err(err).Msg("Failed to persist next run time")
		}
	}
}
