package distance

import (
	"math"

	"fielddispatch/internal/model"
)

const (
	// EarthRadiusKm is the mean Earth radius (IUGG).
	EarthRadiusKm = 6371.0088
	// FallbackSpeedKph is the assumed average road speed for estimates.
	FallbackSpeedKph = 40.0
)

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b model.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// EstimateMinutes converts the great-circle distance to whole minutes at kph.
func EstimateMinutes(a, b model.GeoPoint, kph float64) int {
	if kph <= 0 {
		kph = FallbackSpeedKph
	}
	return int(math.Round(Haversine(a, b) / kph * 60))
}

// FallbackMinutes is EstimateMinutes at FallbackSpeedKph.
func FallbackMinutes(a, b model.GeoPoint) int { return EstimateMinutes(a, b, FallbackSpeedKph) }

func roundCoord(v float64) float64 { return math.Round(v*100000) / 100000 }

// samePoint compares coordinates at roughly one metre precision.
func samePoint(a, b model.GeoPoint) bool {
	return roundCoord(a.Lat) == roundCoord(b.Lat) && roundCoord(a.Lng) == roundCoord(b.Lng)
}
