// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package convert

import "encoding/xml"

// Wire shapes for the Training Center XML schema, limited to the elements
// the destination's importer reads.

const (
	tcxNamespace = "http://www.garmin.com/xmlschemas/TrainingCenterDatabase/v2"
	tpxNamespace = "http://www.garmin.com/xmlschemas/ActivityExtension/v2"
)

type trainingCenterDatabase struct {
	XMLName    xml.Name       `xml:"TrainingCenterDatabase"`
	Xmlns      string         `xml:"xmlns,attr"`
	Activities activitiesElem `xml:"Activities"`
}

type activitiesElem struct {
	Activities []activityElem `xml:"Activity"`
}

type activityElem struct {
	Sport string    `xml:"Sport,attr"`
	ID    string    `xml:"Id"`
	Laps  []lapElem `xml:"Lap"`
	Notes string    `xml:"Notes,omitempty"`
}

type lapElem struct {
	StartTime        string         `xml:"StartTime,attr"`
	TotalTimeSeconds float64        `xml:"TotalTimeSeconds"`
	DistanceMeters   float64        `xml:"DistanceMeters"`
	Calories         int            `xml:"Calories"`
	AverageHeartRate *heartRateElem `xml:"AverageHeartRateBpm,omitempty"`
	MaximumHeartRate *heartRateElem `xml:"MaximumHeartRateBpm,omitempty"`
	Intensity        string         `xml:"Intensity"`
	Cadence          int            `xml:"Cadence,omitempty"`
	TriggerMethod    string         `xml:"TriggerMethod"`
	Track            *trackElem     `xml:"Track,omitempty"`
}

type heartRateElem struct {
	Value int `xml:"Value"`
}

type trackElem struct {
	Trackpoints []trackpointElem `xml:"Trackpoint"`
}

type trackpointElem struct {
	Time           string          `xml:"Time"`
	DistanceMeters *float64        `xml:"DistanceMeters,omitempty"`
	HeartRate      *heartRateElem  `xml:"HeartRateBpm,omitempty"`
	Cadence        *int            `xml:"Cadence,omitempty"`
	Extensions     *extensionsElem `xml:"Extensions,omitempty"`
}

type extensionsElem struct {
	TPX *tpxElem `xml:"TPX,omitempty"`
}

type tpxElem struct {
	Xmlns string   `xml:"xmlns,attr"`
	Speed *float64 `xml:"Speed,omitempty"`
	Watts *int     `xml:"Watts,omitempty"`
}
