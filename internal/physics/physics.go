package physics

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	EarthRadiusMiles = 3958.8  // Mean Earth radius in statute miles
	KnotsToMph       = 1.15078 // Conversion factor from knots to statute miles per hour
	FeetToMeters     = 0.3048  // Conversion factor from feet to meters
)

// KnotsToMilesPerHour converts a ground speed in knots to statute miles per hour
func KnotsToMilesPerHour(knots float64) float64 {
	return knots * KnotsToMph
}

// ------------------------------------------------------------------------------------------------
// MAGNETIC VARIATION
// ------------------------------------------------------------------------------------------------

// CalculateMagneticVariation calculates the magnetic declination for a given position and time
// Returns declination in degrees (+East, -West)
func CalculateMagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	altM := altFt * FeetToMeters

	loc := egm96.NewLocationGeodetic(lat, lon, altM)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// Outside the model's validity window; treat as no variation
		return 0.0
	}

	return mag.D()
}

// MagneticBearing converts a true bearing to a magnetic one given the declination (+East)
func MagneticBearing(trueBearing, declination float64) float64 {
	return NormalizeDegrees(trueBearing - declination)
}

// NormalizeDegrees wraps an angle into [0, 360)
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}
