// Package detect implements the automatic trip-detection state machine: a
// sequential classifier over location samples that decides when a drive
// begins and ends while absorbing GPS noise, red lights, and parking-lot
// jitter.
package detect

import (
	"sync"
	"time"

	"shiftpilot/mileage-agent/internal/geo"
	"shiftpilot/mileage-agent/internal/models"
	"shiftpilot/mileage-agent/internal/validity"

	"go.uber.org/zap"
)

// State is the detection state. Exactly one is active at any time.
type State string

const (
	StateIdle            State = "idle"
	StatePossiblyMoving  State = "possibly_moving"
	StateMoving          State = "moving"
	StatePossiblyStopped State = "possibly_stopped"
)

// Event names emitted by the detector.
const (
	EventTripStarted = "trip_started"
	EventTripStopped = "trip_stopped"
)

// Event is a trip-lifecycle event carrying the candidate snapshot at the
// moment of emission.
type Event struct {
	Name           string
	Locations      []models.LocationSample
	DistanceMeters float64
	DurationMs     int64
}

// TripData is a read-only snapshot of the in-progress trip.
type TripData struct {
	Locations      []models.LocationSample
	DistanceMeters float64
	DurationMs     int64
}

// Config holds the detection thresholds. The two speed thresholds are
// deliberately asymmetric (hysteresis) so speed noise near a single
// boundary cannot flap the machine between moving and stopped.
type Config struct {
	MovementSpeedThreshold   float64       // m/s; above this, movement is suspected
	StationarySpeedThreshold float64       // m/s; below this, stationary is suspected
	MovementConfirmation     time.Duration // dwell above threshold to confirm a start
	StationaryTimeout        time.Duration // dwell below threshold to confirm a stop
	Gate                     validity.Gate
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MovementSpeedThreshold:   3, // ~7 mph
		StationarySpeedThreshold: 1, // ~2 mph
		MovementConfirmation:     60 * time.Second,
		StationaryTimeout:        180 * time.Second,
		Gate:                     validity.DefaultGate(),
	}
}

// Detector consumes one location sample at a time and maintains the
// four-state trip-detection machine. Dwell times are measured on sample
// timestamps, so the machine is deterministic under replay and tolerant of
// batched background delivery. It is safe for concurrent introspection,
// but samples themselves must be delivered one at a time, in order.
type Detector struct {
	cfg    Config
	logger *zap.Logger

	mu             sync.Mutex
	state          State
	stateEnteredAt int64 // ms, timestamp of last transition
	tripStartedAt  int64 // ms, set when Moving is confirmed
	locations      []models.LocationSample
	distanceMeters float64
	lastTimestamp  int64 // monotone clamp for out-of-order samples

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// New creates a detector with the given thresholds.
func New(cfg Config, logger *zap.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
		subs:   make(map[int]func(Event)),
	}
}

// Subscribe registers a handler for trip-lifecycle events and returns an
// unsubscribe function. Handlers are invoked synchronously, outside the
// detector's state lock, in the order samples are processed.
func (d *Detector) Subscribe(handler func(Event)) (unsubscribe func()) {
	d.subMu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = handler
	d.subMu.Unlock()

	return func() {
		d.subMu.Lock()
		delete(d.subs, id)
		d.subMu.Unlock()
	}
}

// ProcessLocationUpdate advances the state machine by exactly one sample.
// It never fails; at worst a trip is missed or discarded, which the
// validity gate bounds. At most one event is emitted per sample.
func (d *Detector) ProcessLocationUpdate(sample models.LocationSample) {
	d.mu.Lock()

	now := sample.Timestamp
	if now < d.lastTimestamp {
		// Out-of-order delivery; treat as arriving at the last accepted
		// time rather than rewinding dwell clocks.
		now = d.lastTimestamp
	}
	d.lastTimestamp = now

	speed := sample.SpeedMps()
	dwell := now - d.stateEnteredAt

	var event *Event

	switch d.state {
	case StateIdle:
		if speed > d.cfg.MovementSpeedThreshold {
			d.transitionTo(StatePossiblyMoving, now)
			d.locations = []models.LocationSample{sample}
			d.distanceMeters = 0
		}

	case StatePossiblyMoving:
		if speed > d.cfg.MovementSpeedThreshold {
			d.appendLocation(sample)
			if dwell >= d.cfg.MovementConfirmation.Milliseconds() {
				event = d.confirmTrip(now)
			}
		} else {
			// Didn't sustain movement; noise, back to idle.
			d.transitionTo(StateIdle, now)
			d.resetCandidate()
		}

	case StateMoving:
		d.appendLocation(sample)
		if speed < d.cfg.StationarySpeedThreshold {
			d.transitionTo(StatePossiblyStopped, now)
		}

	case StatePossiblyStopped:
		d.appendLocation(sample)
		if speed > d.cfg.StationarySpeedThreshold {
			// Traffic light, not a stop; resume.
			d.transitionTo(StateMoving, now)
		} else if dwell >= d.cfg.StationaryTimeout.Milliseconds() {
			event = d.finishTrip(now)
		}
	}

	d.mu.Unlock()

	if event != nil {
		d.notify(*event)
	}
}

// GetState returns the current detection state.
func (d *Detector) GetState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// GetCurrentTripData returns a snapshot of the in-progress trip, or nil
// unless the machine is in Moving or PossiblyStopped (an unconfirmed
// candidate is not yet a trip).
func (d *Detector) GetCurrentTripData() *TripData {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateMoving && d.state != StatePossiblyStopped {
		return nil
	}

	return &TripData{
		Locations:      append([]models.LocationSample(nil), d.locations...),
		DistanceMeters: d.distanceMeters,
		DurationMs:     d.lastTimestamp - d.tripStartedAt,
	}
}

// Reset forces the machine to Idle and discards any candidate. Safe to
// call from any state; used when the caller takes manual control.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Debug("Detection reset", zap.String("from_state", string(d.state)))
	d.state = StateIdle
	d.stateEnteredAt = d.lastTimestamp
	d.resetCandidate()
}

// confirmTrip transitions PossiblyMoving -> Moving. The trip officially
// starts now; the ramp-up samples buffered before confirmation ride along
// so the reported trip covers the whole movement.
func (d *Detector) confirmTrip(now int64) *Event {
	d.state = StateMoving
	d.stateEnteredAt = now
	d.tripStartedAt = now

	d.logger.Info("Trip started",
		zap.Int("buffered_locations", len(d.locations)),
		zap.Float64("distance_m", d.distanceMeters),
	)

	return &Event{
		Name:           EventTripStarted,
		Locations:      append([]models.LocationSample(nil), d.locations...),
		DistanceMeters: d.distanceMeters,
		DurationMs:     0,
	}
}

// finishTrip transitions PossiblyStopped -> Idle. Trips failing the
// validity gate are dropped without an event; false positives are expected
// and not worth alerting on.
func (d *Detector) finishTrip(now int64) *Event {
	duration := int64(0)
	if d.tripStartedAt > 0 {
		duration = now - d.tripStartedAt
	}

	var event *Event
	if d.cfg.Gate.IsValid(d.distanceMeters, duration, len(d.locations)) {
		d.logger.Info("Trip stopped",
			zap.Int64("duration_ms", duration),
			zap.Float64("distance_m", d.distanceMeters),
			zap.Int("locations", len(d.locations)),
		)
		event = &Event{
			Name:           EventTripStopped,
			Locations:      append([]models.LocationSample(nil), d.locations...),
			DistanceMeters: d.distanceMeters,
			DurationMs:     duration,
		}
	} else {
		d.logger.Debug("Trip candidate discarded as noise",
			zap.Int64("duration_ms", duration),
			zap.Float64("distance_m", d.distanceMeters),
			zap.Int("locations", len(d.locations)),
		)
	}

	d.transitionTo(StateIdle, now)
	d.resetCandidate()
	return event
}

func (d *Detector) transitionTo(next State, now int64) {
	d.logger.Debug("Detection state changed",
		zap.String("old_state", string(d.state)),
		zap.String("new_state", string(next)),
	)
	d.state = next
	d.stateEnteredAt = now
}

func (d *Detector) appendLocation(sample models.LocationSample) {
	if n := len(d.locations); n > 0 {
		last := d.locations[n-1]
		d.distanceMeters += geo.HaversineMeters(
			last.Latitude, last.Longitude,
			sample.Latitude, sample.Longitude,
		)
	}
	d.locations = append(d.locations, sample)
}

func (d *Detector) resetCandidate() {
	d.locations = nil
	d.distanceMeters = 0
	d.tripStartedAt = 0
}

func (d *Detector) notify(event Event) {
	d.subMu.Lock()
	handlers := make([]func(Event), 0, len(d.subs))
	for _, h := range d.subs {
		handlers = append(handlers, h)
	}
	d.subMu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}
