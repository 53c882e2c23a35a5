// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package peloton

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	stdsync "sync"

	"github.com/goccy/go-json"

	syncpkg "github.com/jcrawford/velosync/internal/sync"
)

// workoutAPI is the client surface the fetcher needs; satisfied by both
// Client and CircuitBreakerClient.
type workoutAPI interface {
	Login(ctx context.Context) error
	GetWorkouts(ctx context.Context, limit int) ([]Workout, error)
	GetWorkoutDetails(ctx context.Context, workoutIDs []string) ([]WorkoutDetail, error)
}

// Fetcher adapts the API client to the sync pipeline: it lists completed
// workouts and downloads each one's full payload as a JSON file for the
// converter.
//
// The session is established lazily on the first call of a process and
// re-established when the platform rejects it.
type Fetcher struct {
	api workoutAPI

	mu       stdsync.Mutex
	loggedIn bool
}

// NewFetcher creates a fetcher over the given client.
func NewFetcher(api workoutAPI) *Fetcher {
	return &Fetcher{api: api}
}

// ensureSession logs in once per process lifetime.
func (f *Fetcher) ensureSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loggedIn {
		return nil
	}
	if err := f.api.Login(ctx); err != nil {
		return err
	}
	f.loggedIn = true
	return nil
}

// RecentWorkouts returns up to limit of the most recent completed workouts.
// In-progress workouts are dropped; their sample data is still growing.
func (f *Fetcher) RecentWorkouts(ctx context.Context, limit int) ([]syncpkg.WorkoutRef, error) {
	if err := f.ensureSession(ctx); err != nil {
		return nil, err
	}

	workouts, err := f.api.GetWorkouts(ctx, limit)
	if err != nil {
		return nil, err
	}

	refs := make([]syncpkg.WorkoutRef, 0, len(workouts))
	for _, w := range workouts {
		if !w.Completed() {
			continue
		}
		refs = append(refs, refFor(&w))
	}
	return refs, nil
}

// Workouts resolves explicitly requested workout IDs.
func (f *Fetcher) Workouts(ctx context.Context, ids []string) ([]syncpkg.WorkoutRef, error) {
	if err := f.ensureSession(ctx); err != nil {
		return nil, err
	}

	details, err := f.api.GetWorkoutDetails(ctx, ids)
	if err != nil {
		return nil, err
	}
	refs := make([]syncpkg.WorkoutRef, 0, len(details))
	for _, d := range details {
		refs = append(refs, refFor(&d.Workout))
	}
	return refs, nil
}

// Download fetches one workout's detail and samples and writes them as
// <workout-id>.json into dir.
func (f *Fetcher) Download(ctx context.Context, ref syncpkg.WorkoutRef, dir string) (syncpkg.Downloaded, error) {
	if err := f.ensureSession(ctx); err != nil {
		return syncpkg.Downloaded{}, err
	}

	details, err := f.api.GetWorkoutDetails(ctx, []string{ref.ID})
	if err != nil {
		return syncpkg.Downloaded{}, err
	}
	if len(details) != 1 {
		return syncpkg.Downloaded{}, fmt.Errorf("expected 1 workout detail, got %d", len(details))
	}

	data, err := json.Marshal(details[0])
	if err != nil {
		return syncpkg.Downloaded{}, fmt.Errorf("marshal workout %s: %w", ref.ID, err)
	}

	path := filepath.Join(dir, ref.ID+".json")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return syncpkg.Downloaded{}, fmt.Errorf("write workout payload: %w", err)
	}
	return syncpkg.Downloaded{Ref: ref, Path: path}, nil
}

// refFor maps a workout onto its pipeline reference.
func refFor(w *Workout) syncpkg.WorkoutRef {
	title := w.Title
	if title == "" && w.Ride != nil {
		title = w.Ride.Title
	}
	return syncpkg.WorkoutRef{ID: w.ID, Title: title}
}
