package adsb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/yegors/ridscan/internal/location"
	"github.com/yegors/ridscan/internal/physics"
	"github.com/yegors/ridscan/pkg/logger"
)

// DefaultArrayKey is the key holding the aircraft array in the current upstream schema
const DefaultArrayKey = "ac"

const excerptLen = 200

// ParseError reports a response body that could not be normalized. Index is the
// offending array element, or -1 when the body itself is unusable.
type ParseError struct {
	Excerpt string
	Index   int
	Err     error
}

func (e *ParseError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("failed to parse aircraft entry %d: %v (body: %q)", e.Index, e.Err, e.Excerpt)
	}
	return fmt.Sprintf("failed to parse aircraft response: %v (body: %q)", e.Err, e.Excerpt)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Normalizer turns an upstream response body into display records relative to a
// location fix. It holds no state between calls.
type Normalizer struct {
	// ArrayKey names the top-level key holding the aircraft array ("ac" when empty)
	ArrayKey string
	// IsolateEntryErrors skips malformed entries instead of failing the whole batch
	IsolateEntryErrors bool
	// MagneticBearing adds a WMM-corrected bearing to each positioned entry
	MagneticBearing bool
	// Logger receives skipped-entry warnings; may be nil
	Logger *logger.Logger
}

// Normalize parses body and enriches every entry relative to fix. Upstream order
// is preserved and an empty array yields an empty, non-nil slice.
func (n Normalizer) Normalize(body []byte, fix location.Fix) ([]EnrichedAircraft, error) {
	key := n.ArrayKey
	if key == "" {
		key = DefaultArrayKey
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, &ParseError{Excerpt: excerpt(body), Index: -1, Err: err}
	}
	if top == nil {
		return nil, &ParseError{Excerpt: excerpt(body), Index: -1, Err: errors.New("top level is not an object")}
	}

	rawArray, ok := top[key]
	if !ok {
		return nil, &ParseError{Excerpt: excerpt(body), Index: -1, Err: fmt.Errorf("missing %q array", key)}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(rawArray, &entries); err != nil || entries == nil {
		if err == nil {
			err = fmt.Errorf("%q is null", key)
		}
		return nil, &ParseError{Excerpt: excerpt(body), Index: -1, Err: fmt.Errorf("%q is not an array: %w", key, err)}
	}

	var declination float64
	if n.MagneticBearing {
		date := fix.Timestamp
		if date.IsZero() {
			date = time.Now().UTC()
		}
		declination = physics.CalculateMagneticVariation(fix.Latitude, fix.Longitude, 0, date)
	}

	out := make([]EnrichedAircraft, 0, len(entries))
	for i, entry := range entries {
		ac, err := n.normalizeEntry(entry, fix, declination)
		if err != nil {
			if n.IsolateEntryErrors {
				if n.Logger != nil {
					n.Logger.Warn("Skipping malformed aircraft entry",
						logger.Int("index", i),
						logger.Error(err))
				}
				continue
			}
			return nil, &ParseError{Excerpt: excerpt(entry), Index: i, Err: err}
		}
		out = append(out, ac)
	}

	return out, nil
}

func (n Normalizer) normalizeEntry(entry json.RawMessage, fix location.Fix, declination float64) (EnrichedAircraft, error) {
	trimmed := bytes.TrimSpace(entry)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return EnrichedAircraft{}, errors.New("entry is not an object")
	}

	var raw RawAircraft
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return EnrichedAircraft{}, err
	}

	ac := EnrichedAircraft{
		Hex:          textOrUnknown(raw.Hex),
		Flight:       textOrUnknown(raw.Flight),
		AircraftType: textOrUnknown(raw.AircraftType),
		Registration: textOrUnknown(raw.Registration),
		Squawk:       raw.Squawk.String(),
		Altitude:     Unknown,
		Direction:    physics.UnknownDirection,
	}

	alt := raw.altitude()
	if alt.Present() {
		if feet, ok, err := alt.Number(); err == nil && ok {
			ac.AltitudeFeet = &feet
			ac.Altitude = strconv.FormatFloat(feet, 'f', -1, 64) + " ft"
		} else {
			// Non-numeric altitude text such as "ground" is shown as-is
			ac.Altitude = alt.String()
		}
	}

	gs, _, err := raw.GS.Number()
	if err != nil {
		return EnrichedAircraft{}, fmt.Errorf("gs: %w", err)
	}
	ac.SpeedMPH = physics.KnotsToMilesPerHour(gs)

	if track, ok, err := raw.Track.Number(); err != nil {
		return EnrichedAircraft{}, fmt.Errorf("track: %w", err)
	} else if ok {
		ac.TrackDeg = &track
	}

	lat, hasLat, err := raw.Lat.Number()
	if err != nil {
		return EnrichedAircraft{}, fmt.Errorf("lat: %w", err)
	}
	lon, hasLon, err := raw.Lon.Number()
	if err != nil {
		return EnrichedAircraft{}, fmt.Errorf("lon: %w", err)
	}

	if hasLat && hasLon && validCoordinate(lat, lon) {
		target := physics.Point{Lat: lat, Lon: lon}
		distance := physics.DistanceMiles(fix.Point(), target)
		bearing := physics.BearingDegrees(fix.Point(), target)

		ac.Latitude = &lat
		ac.Longitude = &lon
		ac.DistanceMiles = &distance
		ac.BearingDeg = &bearing
		ac.Direction = physics.CompassLabel(bearing)

		if n.MagneticBearing {
			magnetic := physics.MagneticBearing(bearing, declination)
			ac.MagneticBearingDeg = &magnetic
		}
	}

	return ac, nil
}

func textOrUnknown(f FlexibleField) string {
	if !f.Present() {
		return Unknown
	}
	return f.String()
}

func validCoordinate(lat, lon float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lon) &&
		lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func excerpt(body []byte) string {
	if len(body) > excerptLen {
		return string(body[:excerptLen]) + "..."
	}
	return string(body)
}
