// Package validity holds the single trip-validity policy shared by
// automatic detection and manual session stops, so the thresholds can
// never drift between the two paths.
package validity

import "time"

// Default thresholds separating real trips from noise.
const (
	DefaultMinDuration = 60 * time.Second
	DefaultMinDistance = 160.0 // meters (~0.1 miles)
	DefaultMinSamples  = 2
)

// Gate decides whether a candidate trip is real or noise.
type Gate struct {
	MinDuration time.Duration
	MinDistance float64 // meters
	MinSamples  int
}

// DefaultGate returns a gate with the standard thresholds.
func DefaultGate() Gate {
	return Gate{
		MinDuration: DefaultMinDuration,
		MinDistance: DefaultMinDistance,
		MinSamples:  DefaultMinSamples,
	}
}

// IsValid reports whether a trip meets all three minimums. No partial
// credit; every condition is required.
func (g Gate) IsValid(distanceMeters float64, durationMs int64, sampleCount int) bool {
	return durationMs >= g.MinDuration.Milliseconds() &&
		distanceMeters >= g.MinDistance &&
		sampleCount >= g.MinSamples
}
