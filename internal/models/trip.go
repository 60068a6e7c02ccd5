package models

// TripMode identifies how a trip was started.
type TripMode string

const (
	ModeManual TripMode = "manual"
	ModeAuto   TripMode = "auto"
)

// TripPurpose classifies a completed trip, matching the backend enum.
type TripPurpose string

const (
	PurposeWork     TripPurpose = "work"
	PurposePersonal TripPurpose = "personal"
	PurposeMixed    TripPurpose = "mixed"
	PurposeUnknown  TripPurpose = "unknown"
)

// ActiveTrip is the currently-open trip session. It is what gets
// checkpointed to survive a process restart.
type ActiveTrip struct {
	StartTime      int64            `json:"startTime"` // Unix timestamp in milliseconds
	Mode           TripMode         `json:"mode"`
	Locations      []LocationSample `json:"locations"`
	DistanceMeters float64          `json:"distanceMeters"`
	StartLocation  *LocationSample  `json:"startLocation,omitempty"`
}

// DurationMs returns the elapsed trip time as of nowMs.
func (t ActiveTrip) DurationMs(nowMs int64) int64 {
	d := nowMs - t.StartTime
	if d < 0 {
		return 0
	}
	return d
}

// PendingTrip is a finished trip awaiting user classification.
type PendingTrip struct {
	StartTime      int64            `json:"startTime"`
	EndTime        int64            `json:"endTime"`
	Mode           TripMode         `json:"mode"`
	Locations      []LocationSample `json:"locations"`
	DistanceMeters float64          `json:"distanceMeters"`
	StartLocation  *LocationSample  `json:"startLocation,omitempty"`
}

// DurationMs returns the recorded trip duration.
func (t PendingTrip) DurationMs() int64 {
	d := t.EndTime - t.StartTime
	if d < 0 {
		return 0
	}
	return d
}

// CompletedTrip is a classified trip ready for upload, matching the backend
// trip DTO.
type CompletedTrip struct {
	ID             string           `json:"id"`
	DeviceID       string           `json:"deviceId"`
	StartedAt      int64            `json:"startedAt"` // Unix timestamp in milliseconds
	EndedAt        int64            `json:"endedAt"`
	DistanceMeters float64          `json:"distanceMeters"`
	DurationMs     int64            `json:"durationMs"`
	Purpose        TripPurpose      `json:"purpose"`
	Notes          *string          `json:"notes,omitempty"`
	Source         string           `json:"source"` // "manual" or "auto_detected"
	Locations      []LocationSample `json:"locations"`
}

// SourceForMode maps a trip mode to the backend source string.
func SourceForMode(mode TripMode) string {
	if mode == ModeAuto {
		return "auto_detected"
	}
	return "manual"
}

// DeductionRate is a per-mile deduction rate for one trip purpose.
type DeductionRate struct {
	Purpose       TripPurpose `json:"purpose"`
	RatePerMile   float64     `json:"ratePerMile"`
	DisplayName   string      `json:"displayName"`
	EffectiveFrom string      `json:"effectiveFrom,omitempty"`
}
