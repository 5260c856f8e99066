package adsb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleField can hold either a string, a number or a boolean. A JSON null or
// a missing key leaves the field absent.
type FlexibleField struct {
	value   any
	present bool
}

// UnmarshalJSON implements custom JSON unmarshaling for FlexibleField
func (f *FlexibleField) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = FlexibleField{}
		return nil
	}

	// Try to unmarshal as a number first
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = FlexibleField{value: num, present: true}
		return nil
	}

	// If that fails, try to unmarshal as a string
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*f = FlexibleField{value: str, present: true}
		return nil
	}

	// If both fail, try to unmarshal as a boolean
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = FlexibleField{value: b, present: true}
		return nil
	}

	return fmt.Errorf("cannot unmarshal %s into FlexibleField", data)
}

// Present reports whether the field carried a non-null, non-blank value
func (f FlexibleField) Present() bool {
	if !f.present {
		return false
	}
	if s, ok := f.value.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Number returns the value as a float64. ok is false when the field is absent.
// err is set when the field is present but not numeric.
func (f FlexibleField) Number() (v float64, ok bool, err error) {
	if !f.Present() {
		return 0, false, nil
	}
	switch val := f.value.(type) {
	case float64:
		return val, true, nil
	case string:
		n, perr := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if perr != nil {
			return 0, false, fmt.Errorf("not a number: %q", val)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("not a number: %v", val)
	}
}

// Float64 returns the value as a float64, 0 when absent or not numeric
func (f FlexibleField) Float64() float64 {
	v, _, err := f.Number()
	if err != nil {
		return 0
	}
	return v
}

// String returns the value as a string
func (f FlexibleField) String() string {
	switch v := f.value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// RawAircraft is a single entry of the upstream point query. The upstream schema
// is loose: any field may be missing, null, a number or a numeric string.
type RawAircraft struct {
	Hex          FlexibleField `json:"hex"`
	Flight       FlexibleField `json:"flight"`
	Registration FlexibleField `json:"r"`
	AircraftType FlexibleField `json:"t"`
	Category     FlexibleField `json:"category"`
	Squawk       FlexibleField `json:"squawk"`
	AltBaro      FlexibleField `json:"alt_baro"`
	AltGeom      FlexibleField `json:"alt_geom"`
	GS           FlexibleField `json:"gs"`
	Track        FlexibleField `json:"track"`
	Lat          FlexibleField `json:"lat"`
	Lon          FlexibleField `json:"lon"`
	Seen         FlexibleField `json:"seen"`
}

// altitude prefers the geometric altitude and falls back to the barometric one
func (r *RawAircraft) altitude() FlexibleField {
	if r.AltGeom.Present() {
		return r.AltGeom
	}
	return r.AltBaro
}
