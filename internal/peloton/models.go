// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package peloton

// loginRequest is the wire shape of the session login call.
type loginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

// loginResponse carries the session cookie value and the user ID all later
// calls are scoped to.
type loginResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// Workout is one workout summary from the user's workout list.
type Workout struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	FitnessDiscipline string `json:"fitness_discipline"`
	WorkoutType       string `json:"workout_type"`
	CreatedAt         int64  `json:"created_at"`
	StartTime         int64  `json:"start_time"`
	EndTime           int64  `json:"end_time"`
	Title             string `json:"title,omitempty"`
	Ride              *Ride  `json:"ride,omitempty"`
}

// Completed reports whether the workout finished and is safe to export.
// In-progress workouts have partial sample data.
func (w *Workout) Completed() bool {
	return w.Status == "COMPLETE"
}

// Ride is the class metadata attached to a workout.
type Ride struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Duration   int64       `json:"duration"`
	Instructor *Instructor `json:"instructor,omitempty"`
}

// Instructor is the class instructor.
type Instructor struct {
	Name string `json:"name"`
}

// workoutList is the paginated workout list response.
type workoutList struct {
	Data  []Workout `json:"data"`
	Total int       `json:"total"`
	Count int       `json:"count"`
	Page  int       `json:"page"`
}

// PerformanceGraph is the per-second sample data of one workout.
type PerformanceGraph struct {
	Duration                  int64             `json:"duration"`
	SecondsSincePedalingStart []int64           `json:"seconds_since_pedaling_start"`
	Metrics                   []Metric          `json:"metrics"`
	Summaries                 []Summary         `json:"summaries"`
	LocationData              []LocationSegment `json:"location_data,omitempty"`
}

// Metric is one sampled metric series (output, cadence, heart rate, speed,
// resistance).
type Metric struct {
	DisplayName  string    `json:"display_name"`
	Slug         string    `json:"slug"`
	DisplayUnit  string    `json:"display_unit"`
	Values       []float64 `json:"values"`
	AverageValue float64   `json:"average_value"`
	MaxValue     float64   `json:"max_value"`
}

// Summary is one aggregate value for the workout (total output, distance,
// calories).
type Summary struct {
	DisplayName string  `json:"display_name"`
	Slug        string  `json:"slug"`
	DisplayUnit string  `json:"display_unit"`
	Value       float64 `json:"value"`
}

// LocationSegment carries GPS coordinates for outdoor workouts.
type LocationSegment struct {
	Coordinates []Coordinate `json:"coordinates"`
}

// Coordinate is one GPS sample.
type Coordinate struct {
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	SecondsOffset int64   `json:"seconds_offset_from_start"`
}

// WorkoutDetail bundles everything needed to convert one workout.
type WorkoutDetail struct {
	Workout     Workout           `json:"workout"`
	Performance *PerformanceGraph `json:"performance"`
}
