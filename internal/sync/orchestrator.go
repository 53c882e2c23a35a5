// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jcrawford/velosync/internal/logging"
	"github.com/jcrawford/velosync/internal/metrics"
)

// WorkoutRef identifies one source workout through the pipeline.
type WorkoutRef struct {
	ID    string
	Title string
}

// Downloaded is one workout's raw payload on disk.
type Downloaded struct {
	Ref  WorkoutRef
	Path string
}

// ConvertedFile is one uploadable file on disk.
type ConvertedFile struct {
	Ref  WorkoutRef
	Path string
}

// Fetcher lists and downloads source workouts.
type Fetcher interface {
	// RecentWorkouts returns up to limit of the most recent completed
	// workouts, newest first.
	RecentWorkouts(ctx context.Context, limit int) ([]WorkoutRef, error)

	// Workouts resolves explicitly requested workout IDs.
	Workouts(ctx context.Context, ids []string) ([]WorkoutRef, error)

	// Download writes one workout's raw payload into dir.
	Download(ctx context.Context, ref WorkoutRef, dir string) (Downloaded, error)
}

// Converter turns one raw payload into an uploadable file in dir.
type Converter interface {
	Convert(ctx context.Context, d Downloaded, dir string) (ConvertedFile, error)
}

// Uploader opens one destination session per run. Implementations acquire
// destination auth inside Session, so a run performs at most one handshake
// and an auth failure surfaces once, degrading only the upload stage.
type Uploader interface {
	Session(ctx context.Context) (UploadSession, error)
}

// UploadSession pushes converted files under one run's acquired auth.
type UploadSession interface {
	Upload(ctx context.Context, f ConvertedFile) error
}

// History tracks which workouts were already pushed.
type History interface {
	WasSynced(ctx context.Context, workoutID string) (bool, error)
	MarkSynced(ctx context.Context, workoutID string) error
}

// StatusStore persists the run status summary.
type StatusStore interface {
	GetSyncStatus(ctx context.Context) (*Status, error)
	PutSyncStatus(ctx context.Context, status *Status) error
}

// Workspace is the scratch space layout of a run; satisfied by *WorkDirs.
type Workspace interface {
	Ensure() error
	Downloads() string
	Uploads() string
	CleanDownloads() error
	CleanUploads() error
	CleanRoot() error
}

// Options selects what one run syncs.
type Options struct {
	// RequestedCount is the number of most recent workouts to consider.
	// Ignored when WorkoutIDs is set.
	RequestedCount int

	// WorkoutIDs syncs an explicit set instead of the most recent ones.
	WorkoutIDs []string

	// IgnoreHistory re-syncs workouts already marked as pushed.
	IgnoreHistory bool
}

// Orchestrator sequences download, convert and upload for one run, isolating
// failures per workout, and persists the status summary around every run.
type Orchestrator struct {
	fetcher   Fetcher
	converter Converter
	uploader  Uploader
	history   History
	status    StatusStore
	dirs      Workspace
}

// NewOrchestrator wires the pipeline stages.
func NewOrchestrator(fetcher Fetcher, converter Converter, uploader Uploader, history History, status StatusStore, dirs Workspace) *Orchestrator {
	return &Orchestrator{
		fetcher:   fetcher,
		converter: converter,
		uploader:  uploader,
		history:   history,
		status:    status,
		dirs:      dirs,
	}
}

// Run executes one pipeline pass. It never returns an error: every failure
// is folded into the returned Run, and the poller keeps going regardless.
func (o *Orchestrator) Run(ctx context.Context, opts Options) *Run {
	run := &Run{
		ID:             uuid.NewString(),
		StartedAt:      time.Now().UTC(),
		RequestedCount: opts.RequestedCount,
	}
	logging.Info().
		Str("run_id", run.ID).
		Int("requested_count", opts.RequestedCount).
		Int("explicit_ids", len(opts.WorkoutIDs)).
		Bool("ignore_history", opts.IgnoreHistory).
		Msg("Sync run started")

	// Status is persisted whatever happens below; failure to persist is
	// logged and does not change the run result.
	defer func() {
		run.FinishedAt = time.Now().UTC()
		o.observe(run)
		o.persistStatus(ctx, run)
	}()

	if len(opts.WorkoutIDs) == 0 && opts.RequestedCount <= 0 {
		run.NoOp = true
		run.DownloadOk, run.ConvertOk, run.UploadOk = true, true, true
		return run
	}

	if err := o.dirs.Ensure(); err != nil {
		run.fail("download", err)
		return run
	}

	downloaded := o.download(ctx, opts, run)
	if !run.DownloadOk {
		return run
	}

	converted := o.convert(ctx, downloaded, run)
	if !run.ConvertOk {
		return run
	}

	o.upload(ctx, converted, run)
	if !run.UploadOk {
		return run
	}

	o.cleanup()
	return run
}

// download resolves the workout set and pulls raw payloads. A single broken
// workout is recorded and skipped; only a batch-level failure (listing, or
// every item failing) aborts the stage.
func (o *Orchestrator) download(ctx context.Context, opts Options, run *Run) []Downloaded {
	var (
		refs []WorkoutRef
		err  error
	)
	if len(opts.WorkoutIDs) > 0 {
		refs, err = o.fetcher.Workouts(ctx, opts.WorkoutIDs)
	} else {
		refs, err = o.fetcher.RecentWorkouts(ctx, opts.RequestedCount)
	}
	if err != nil {
		run.fail("download", err)
		return nil
	}

	if !opts.IgnoreHistory {
		refs = o.filterSynced(ctx, refs, run)
	}
	if len(refs) == 0 {
		// Nothing new. The remaining stages are no-ops.
		run.NoOp = true
		run.DownloadOk, run.ConvertOk, run.UploadOk = true, true, true
		return nil
	}

	downloaded := make([]Downloaded, 0, len(refs))
	for _, ref := range refs {
		d, err := o.fetcher.Download(ctx, ref, o.dirs.Downloads())
		if err != nil {
			run.itemError("download", ref, err)
			continue
		}
		downloaded = append(downloaded, d)
	}
	if len(downloaded) == 0 {
		run.fail("download", fmt.Errorf("all %d downloads failed", len(refs)))
		return nil
	}

	run.DownloadOk = true
	return downloaded
}

// convert runs the converter over the downloaded payloads with per-item
// isolation.
func (o *Orchestrator) convert(ctx context.Context, downloaded []Downloaded, run *Run) []ConvertedFile {
	if len(downloaded) == 0 {
		run.ConvertOk = true
		return nil
	}

	converted := make([]ConvertedFile, 0, len(downloaded))
	for _, d := range downloaded {
		f, err := o.converter.Convert(ctx, d, o.dirs.Uploads())
		if err != nil {
			run.itemError("convert", d.Ref, err)
			continue
		}
		converted = append(converted, f)
	}
	if len(converted) == 0 {
		run.fail("convert", fmt.Errorf("all %d conversions failed", len(downloaded)))
		return nil
	}

	run.ConvertOk = true
	return converted
}

// upload opens one destination session for the whole stage, pushes the
// converted files through it, and records each success in history so a later
// run does not re-push it.
func (o *Orchestrator) upload(ctx context.Context, converted []ConvertedFile, run *Run) {
	if len(converted) == 0 {
		run.UploadOk = true
		return
	}

	session, err := o.uploader.Session(ctx)
	if err != nil {
		run.fail("upload", err)
		return
	}

	for _, f := range converted {
		if err := session.Upload(ctx, f); err != nil {
			run.itemError("upload", f.Ref, err)
			continue
		}
		run.Uploaded++
		metrics.SyncWorkoutsUploaded.Inc()
		if err := o.history.MarkSynced(ctx, f.Ref.ID); err != nil {
			logging.Warn().Err(err).Str("workout_id", f.Ref.ID).Msg("Failed to record synced workout")
		}
	}
	if run.Uploaded == 0 {
		run.fail("upload", fmt.Errorf("all %d uploads failed", len(converted)))
		return
	}
	if run.Uploaded < len(converted) {
		// Partial uploads degrade the run but the pushed files stand.
		return
	}

	run.UploadOk = true
}

// filterSynced drops workouts already pushed. A history read failure keeps
// the workout in the batch; a duplicate upload is preferable to silently
// dropping a workout.
func (o *Orchestrator) filterSynced(ctx context.Context, refs []WorkoutRef, run *Run) []WorkoutRef {
	fresh := refs[:0]
	for _, ref := range refs {
		synced, err := o.history.WasSynced(ctx, ref.ID)
		if err != nil {
			logging.Warn().Err(err).Str("workout_id", ref.ID).Msg("History check failed, keeping workout in batch")
			fresh = append(fresh, ref)
			continue
		}
		if !synced {
			fresh = append(fresh, ref)
		}
	}
	return fresh
}

// cleanup clears the scratch space after a fully successful run. Artifacts
// from failed runs stay on disk for inspection, and a cleanup failure does
// not degrade the run.
func (o *Orchestrator) cleanup() {
	for _, step := range []struct {
		name  string
		clean func() error
	}{
		{"downloads", o.dirs.CleanDownloads},
		{"uploads", o.dirs.CleanUploads},
		{"working root", o.dirs.CleanRoot},
	} {
		if err := step.clean(); err != nil {
			logging.Warn().Err(err).Str("dir", step.name).Msg("Cleanup failed")
		}
	}
}

// observe emits run metrics and logs the outcome.
func (o *Orchestrator) observe(run *Run) {
	outcome := "success"
	if !run.Success() {
		outcome = "failure"
	}
	metrics.SyncRunsTotal.WithLabelValues(outcome).Inc()
	metrics.SyncRunDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	if run.Success() {
		metrics.SyncLastSuccessTimestamp.SetToCurrentTime()
	}

	evt := logging.Info()
	if !run.Success() {
		evt = logging.Warn()
	}
	evt.
		Str("run_id", run.ID).
		Bool("download_ok", run.DownloadOk).
		Bool("convert_ok", run.ConvertOk).
		Bool("upload_ok", run.UploadOk).
		Int("uploaded", run.Uploaded).
		Strs("errors", run.Errors).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Sync run finished")
}

// persistStatus folds the run into the persisted status summary.
func (o *Orchestrator) persistStatus(ctx context.Context, run *Run) {
	status, err := o.status.GetSyncStatus(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to load sync status, rebuilding")
		status = &Status{}
	}

	now := run.FinishedAt
	status.LastRunAt = &now
	status.LastErrors = run.Errors
	if run.Success() {
		// A run that attempted nothing keeps the previous success
		// timestamp; only real pushes move it.
		if !run.NoOp {
			status.LastSuccessfulRunAt = &now
		}
		status.Health = HealthRunning
	} else {
		status.Health = HealthUnhealthy
	}

	if err := o.status.PutSyncStatus(ctx, status); err != nil {
		logging.Warn().Err(err).Msg("Failed to persist sync status")
	}
}

// fail records a stage-level failure.
func (r *Run) fail(stage string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", stage, err))
	metrics.SyncStageFailures.WithLabelValues(stage).Inc()
	logging.Error().Err(err).Str("stage", stage).Msg("Sync stage failed")
}

// itemError records a per-workout failure without aborting the stage.
func (r *Run) itemError(stage string, ref WorkoutRef, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s %s: %v", stage, ref.ID, err))
	metrics.SyncStageFailures.WithLabelValues(stage).Inc()
	logging.Warn().Err(err).Str("stage", stage).Str("workout_id", ref.ID).Msg("Workout failed, continuing batch")
}
