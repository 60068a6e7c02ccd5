// Package location defines the sample-source boundary: where location
// samples come from and what permission state they arrive under. The
// tracking core only consumes this contract; it never talks to an OS
// location API directly.
package location

import "shiftpilot/mileage-agent/internal/models"

// Source delivers location samples one at a time, in delivery order.
// Permission denial is not an error: a denied source simply stops
// delivering and the consumer's state machine stays put.
type Source interface {
	// Subscribe registers a handler for incoming samples and returns an
	// unsubscribe function.
	Subscribe(handler func(models.LocationSample)) (unsubscribe func())

	// Current returns the most recent known sample, or nil if none is
	// available.
	Current() *models.LocationSample

	// HasForegroundAccess reports whether foreground location access is
	// granted.
	HasForegroundAccess() bool

	// HasBackgroundAccess reports whether background location access is
	// granted.
	HasBackgroundAccess() bool
}
