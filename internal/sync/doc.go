// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

// Package sync runs the download, convert, upload pipeline that moves
// workouts from the source platform to the destination, and the background
// poller that triggers it on an interval.
//
// The orchestrator isolates failures per workout: one broken workout is
// recorded and skipped, the rest of the batch continues. Stages gate each
// other only through their survivors, so the upload stage sees exactly the
// files that converted cleanly. Working directories are cleaned only after a
// fully successful run, which leaves artifacts on disk for inspection after
// a failure.
package sync
