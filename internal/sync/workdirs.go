// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package sync

import (
	"fmt"
	"os"
	"path/filepath"
)

// WorkDirs lays out the scratch space of one run: raw source payloads under
// downloads, converted files ready to push under uploads.
type WorkDirs struct {
	Root string
}

// NewWorkDirs creates the layout rooted at root.
func NewWorkDirs(root string) *WorkDirs {
	return &WorkDirs{Root: root}
}

// Downloads is the raw payload directory.
func (w *WorkDirs) Downloads() string {
	return filepath.Join(w.Root, "downloads")
}

// Uploads is the converted file directory.
func (w *WorkDirs) Uploads() string {
	return filepath.Join(w.Root, "uploads")
}

// Ensure creates both directories.
func (w *WorkDirs) Ensure() error {
	for _, dir := range []string{w.Downloads(), w.Uploads()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create working dir %s: %w", dir, err)
		}
	}
	return nil
}

// CleanDownloads removes all raw payloads.
func (w *WorkDirs) CleanDownloads() error {
	return cleanDir(w.Downloads())
}

// CleanUploads removes all converted files.
func (w *WorkDirs) CleanUploads() error {
	return cleanDir(w.Uploads())
}

// CleanRoot removes the whole working tree.
func (w *WorkDirs) CleanRoot() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("clean working root %s: %w", w.Root, err)
	}
	return nil
}

// cleanDir removes a directory's contents but keeps the directory.
func cleanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}
