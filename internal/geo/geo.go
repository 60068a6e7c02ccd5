package geo

import (
	"math"

	"shiftpilot/mileage-agent/internal/models"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000

// HaversineMeters returns the great-circle distance in meters between two
// coordinates. Identical points yield exactly 0.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	// Clamp against floating-point overshoot near antipodal points, where
	// a can exceed 1 by a few ulps and Sqrt(1-a) would go NaN.
	if a > 1 {
		a = 1
	}

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// PathDistanceMeters sums the haversine distance between consecutive
// samples in order. Zero or one samples yield 0.
func PathDistanceMeters(samples []models.LocationSample) float64 {
	var total float64
	for i := 1; i < len(samples); i++ {
		total += HaversineMeters(
			samples[i-1].Latitude, samples[i-1].Longitude,
			samples[i].Latitude, samples[i].Longitude,
		)
	}
	return total
}

func toRadians(deg float64) float64 {
	return deg * (math.Pi / 180)
}
