package physics

import "math"

// Point is a latitude/longitude pair in decimal degrees
type Point struct {
	Lat float64
	Lon float64
}

// Compass labels in clockwise order starting at north
var compassLabels = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// UnknownDirection is reported when a bearing cannot be computed
const UnknownDirection = "Unknown"

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func toDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// DistanceMiles returns the great-circle distance in statute miles between two points
// using the haversine formula.
func DistanceMiles(observer, target Point) float64 {
	lat1 := toRadians(observer.Lat)
	lat2 := toRadians(target.Lat)
	dlat := lat2 - lat1
	dlon := toRadians(target.Lon - observer.Lon)

	sinLat := math.Sin(dlat / 2)
	sinLon := math.Sin(dlon / 2)
	a := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	// Rounding can push a slightly outside [0, 1] for antipodal points
	a = math.Max(0, math.Min(1, a))

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMiles * c
}

// BearingDegrees returns the initial great-circle bearing from observer to target,
// in degrees clockwise from true north, within [0, 360).
func BearingDegrees(observer, target Point) float64 {
	lat1 := toRadians(observer.Lat)
	lat2 := toRadians(target.Lat)
	dlon := toRadians(target.Lon - observer.Lon)

	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)

	return NormalizeDegrees(toDegrees(math.Atan2(y, x)))
}

// CompassLabel maps a bearing to one of eight 45° sectors centred on the cardinal and
// intercardinal points. A bearing on a sector edge belongs to the sector that starts there,
// so 22.5 is NE and 337.5 is N.
func CompassLabel(bearing float64) string {
	if math.IsNaN(bearing) || math.IsInf(bearing, 0) {
		return UnknownDirection
	}
	bearing = NormalizeDegrees(bearing)
	idx := int(math.Floor((bearing+22.5)/45.0)) % len(compassLabels)
	return compassLabels[idx]
}
