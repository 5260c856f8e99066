package adsb

import (
	"fmt"
	"strings"
)

// Unknown is shown for any field the upstream entry did not provide
const Unknown = "Unknown"

// EnrichedAircraft is one upstream entry normalized for display relative to the
// observer. It is rebuilt on every fetch and never mutated afterwards.
type EnrichedAircraft struct {
	Hex          string `json:"hex"`
	Flight       string `json:"flight"`
	AircraftType string `json:"aircraft_type"`
	Registration string `json:"registration"`
	Squawk       string `json:"squawk,omitempty"`

	// Altitude is "<feet> ft", the upstream text (e.g. "ground") or "Unknown"
	Altitude     string   `json:"altitude"`
	AltitudeFeet *float64 `json:"altitude_ft,omitempty"`

	SpeedMPH float64  `json:"speed_mph"`
	TrackDeg *float64 `json:"track_deg,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// Observer-relative; nil when the entry has no position
	DistanceMiles      *float64 `json:"distance_miles"`
	BearingDeg         *float64 `json:"bearing_deg"`
	MagneticBearingDeg *float64 `json:"magnetic_bearing_deg,omitempty"`
	Direction          string   `json:"direction"`
}

// HasPosition reports whether the observer-relative fields are defined
func (a *EnrichedAircraft) HasPosition() bool {
	return a.DistanceMiles != nil
}

// DistanceText renders the distance with two decimals, or "Unknown"
func (a *EnrichedAircraft) DistanceText() string {
	if a.DistanceMiles == nil {
		return Unknown
	}
	return fmt.Sprintf("%.2f miles", *a.DistanceMiles)
}

// SpeedText renders the ground speed with two decimals
func (a *EnrichedAircraft) SpeedText() string {
	return fmt.Sprintf("%.2f mph", a.SpeedMPH)
}

// Summary renders the aircraft as a single list row
func (a *EnrichedAircraft) Summary() string {
	var b strings.Builder
	b.WriteString(a.Flight)
	if a.AircraftType != Unknown {
		fmt.Fprintf(&b, " (%s)", a.AircraftType)
	}
	fmt.Fprintf(&b, " | %s | %s | %s %s", a.Altitude, a.SpeedText(), a.DistanceText(), a.Direction)
	return b.String()
}
