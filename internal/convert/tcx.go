// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

// Package convert turns downloaded workout payloads into device-importable
// TCX files the destination accepts.
package convert

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/jcrawford/velosync/internal/peloton"
	syncpkg "github.com/jcrawford/velosync/internal/sync"
)

// TCX is a sync.Converter producing Training Center XML files.
type TCX struct{}

// NewTCX creates the TCX converter.
func NewTCX() *TCX {
	return &TCX{}
}

// Convert reads one downloaded workout payload and writes <workout-id>.tcx
// into dir.
func (c *TCX) Convert(_ context.Context, d syncpkg.Downloaded, dir string) (syncpkg.ConvertedFile, error) {
	raw, err := os.ReadFile(d.Path)
	if err != nil {
		return syncpkg.ConvertedFile{}, fmt.Errorf("read payload: %w", err)
	}

	var detail peloton.WorkoutDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return syncpkg.ConvertedFile{}, fmt.Errorf("decode payload %s: %w", d.Ref.ID, err)
	}

	doc, err := buildDocument(&detail)
	if err != nil {
		return syncpkg.ConvertedFile{}, fmt.Errorf("build tcx for %s: %w", d.Ref.ID, err)
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return syncpkg.ConvertedFile{}, fmt.Errorf("marshal tcx: %w", err)
	}

	path := filepath.Join(dir, d.Ref.ID+".tcx")
	content := append([]byte(xml.Header), data...)
	if err := os.WriteFile(path, content, 0o640); err != nil {
		return syncpkg.ConvertedFile{}, fmt.Errorf("write tcx: %w", err)
	}
	return syncpkg.ConvertedFile{Ref: d.Ref, Path: path}, nil
}

// buildDocument maps the source workout onto the TCX activity layout.
func buildDocument(detail *peloton.WorkoutDetail) (*trainingCenterDatabase, error) {
	w := detail.Workout
	if w.StartTime == 0 {
		return nil, fmt.Errorf("workout has no start time")
	}
	start := time.Unix(w.StartTime, 0).UTC()

	activity := activityElem{
		Sport: sportFor(w.FitnessDiscipline),
		ID:    start.Format(time.RFC3339),
		Notes: notesFor(&w),
	}

	lap := lapElem{
		StartTime:     start.Format(time.RFC3339),
		TriggerMethod: "Manual",
		Intensity:     "Active",
	}
	if w.EndTime > w.StartTime {
		lap.TotalTimeSeconds = float64(w.EndTime - w.StartTime)
	}

	if g := detail.Performance; g != nil {
		if lap.TotalTimeSeconds == 0 {
			lap.TotalTimeSeconds = float64(g.Duration)
		}
		applySummaries(&lap, g)
		lap.Track = buildTrack(start, g)
	}

	activity.Laps = []lapElem{lap}
	return &trainingCenterDatabase{
		Xmlns:      tcxNamespace,
		Activities: activitiesElem{Activities: []activityElem{activity}},
	}, nil
}

// applySummaries maps aggregate values onto the lap.
func applySummaries(lap *lapElem, g *peloton.PerformanceGraph) {
	for _, s := range g.Summaries {
		switch s.Slug {
		case "distance":
			// Source reports miles; TCX wants meters.
			lap.DistanceMeters = s.Value * metersPerMile
		case "calories":
			lap.Calories = int(s.Value)
		}
	}
	for _, m := range g.Metrics {
		switch m.Slug {
		case "heart_rate":
			lap.AverageHeartRate = &heartRateElem{Value: int(m.AverageValue)}
			lap.MaximumHeartRate = &heartRateElem{Value: int(m.MaxValue)}
		case "cadence":
			lap.Cadence = int(m.AverageValue)
		}
	}
}

// buildTrack emits one trackpoint per sample second.
func buildTrack(start time.Time, g *peloton.PerformanceGraph) *trackElem {
	var (
		heartRate []float64
		cadence   []float64
		watts     []float64
		speed     []float64
	)
	for _, m := range g.Metrics {
		switch m.Slug {
		case "heart_rate":
			heartRate = m.Values
		case "cadence":
			cadence = m.Values
		case "output":
			watts = m.Values
		case "speed":
			speed = m.Values
		}
	}

	n := len(g.SecondsSincePedalingStart)
	if n == 0 {
		return nil
	}

	at := func(values []float64, i int) (float64, bool) {
		if i < len(values) {
			return values[i], true
		}
		return 0, false
	}

	points := make([]trackpointElem, 0, n)
	var distance float64
	for i, offset := range g.SecondsSincePedalingStart {
		tp := trackpointElem{
			Time: start.Add(time.Duration(offset) * time.Second).Format(time.RFC3339),
		}
		if v, ok := at(heartRate, i); ok && v > 0 {
			tp.HeartRate = &heartRateElem{Value: int(v)}
		}
		if v, ok := at(cadence, i); ok {
			tp.Cadence = intPtr(int(v))
		}

		var ext *tpxElem
		if v, ok := at(watts, i); ok {
			ext = &tpxElem{Xmlns: tpxNamespace, Watts: intPtr(int(v))}
		}
		if v, ok := at(speed, i); ok {
			// Source reports mph; trackpoints carry meters/second and a
			// running distance integrated over the one-second samples.
			ms := v * metersPerMile / 3600
			distance += ms
			tp.DistanceMeters = floatPtr(distance)
			if ext == nil {
				ext = &tpxElem{Xmlns: tpxNamespace}
			}
			ext.Speed = floatPtr(ms)
		}
		if ext != nil {
			tp.Extensions = &extensionsElem{TPX: ext}
		}
		points = append(points, tp)
	}
	return &trackElem{Trackpoints: points}
}

// sportFor maps the source discipline onto the TCX sport enum, which only
// knows Biking, Running and Other.
func sportFor(discipline string) string {
	switch discipline {
	case "cycling", "bike_bootcamp":
		return "Biking"
	case "running", "walking", "outdoor":
		return "Running"
	default:
		return "Other"
	}
}

// notesFor builds a human-readable activity note from class metadata.
func notesFor(w *peloton.Workout) string {
	if w.Ride == nil {
		return w.Title
	}
	if w.Ride.Instructor != nil && w.Ride.Instructor.Name != "" {
		return fmt.Sprintf("%s with %s", w.Ride.Title, w.Ride.Instructor.Name)
	}
	return w.Ride.Title
}

const metersPerMile = 1609.344

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
