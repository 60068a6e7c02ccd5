package models

// LocationSample is a single GPS/sensor reading. Samples are treated as
// immutable values; consumers copy slices instead of mutating entries.
type LocationSample struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"` // meters
	Accuracy  *float64 `json:"accuracy,omitempty"` // horizontal, meters
	Speed     *float64 `json:"speed,omitempty"`    // m/s; negative means unknown
	Heading   *float64 `json:"heading,omitempty"`  // degrees
	Timestamp int64    `json:"timestamp"`          // Unix timestamp in milliseconds
}

// SpeedMps returns the sample speed usable for thresholding. Some platforms
// report a missing speed as nil or a negative value; both are treated as 0.
func (s LocationSample) SpeedMps() float64 {
	if s.Speed == nil || *s.Speed < 0 {
		return 0
	}
	return *s.Speed
}
