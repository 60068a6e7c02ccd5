// Package session owns the active trip: at most one open session
// system-wide, whether started manually or by automatic detection, with
// durable checkpoints so a restart resumes mid-trip.
package session

import (
	"errors"
	"sync"
	"time"

	"shiftpilot/mileage-agent/internal/checkpoint"
	"shiftpilot/mileage-agent/internal/detect"
	"shiftpilot/mileage-agent/internal/geo"
	"shiftpilot/mileage-agent/internal/location"
	"shiftpilot/mileage-agent/internal/models"
	"shiftpilot/mileage-agent/internal/validity"

	"go.uber.org/zap"
)

// DefaultSaveThrottle bounds how often the checkpoint is rewritten while
// samples stream in.
const DefaultSaveThrottle = 30 * time.Second

var (
	// ErrSessionActive is returned when a start request conflicts with an
	// already-open session. The existing session is left untouched.
	ErrSessionActive = errors.New("a trip session is already active")

	// ErrNoActiveSession is returned for stop operations without an open
	// session; that is host misuse, not environmental noise.
	ErrNoActiveSession = errors.New("no active trip session")

	// ErrNoPendingTrip is returned when classification is requested with
	// nothing awaiting it.
	ErrNoPendingTrip = errors.New("no pending trip")
)

// StopResult reports the outcome of a confirmed stop. When the trip fails
// the validity gate, Discarded is set and the measured distance/duration
// let the host explain the discard to the user.
type StopResult struct {
	Discarded      bool
	DistanceMeters float64
	DurationMs     int64
	Pending        *models.PendingTrip
}

// Manager owns the single ActiveTrip slot. Manual sessions take priority
// over auto-detected ones: a conflicting start is rejected, never queued
// or merged.
type Manager struct {
	source       location.Source
	store        checkpoint.Store
	gate         validity.Gate
	saveThrottle time.Duration
	logger       *zap.Logger

	mu            sync.Mutex
	current       *models.ActiveTrip
	pending       *models.PendingTrip
	stopRequested bool
	lastSaveTime  time.Time
	unsubscribe   func()

	now func() time.Time // injected clock, makes the save throttle testable
}

// NewManager creates a session manager.
func NewManager(
	source location.Source,
	store checkpoint.Store,
	gate validity.Gate,
	saveThrottle time.Duration,
	logger *zap.Logger,
) *Manager {
	if saveThrottle <= 0 {
		saveThrottle = DefaultSaveThrottle
	}
	return &Manager{
		source:       source,
		store:        store,
		gate:         gate,
		saveThrottle: saveThrottle,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the wall clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Restore loads a persisted checkpoint, if any, and resumes the session.
// Manual sessions re-subscribe to the sample source so streaming picks up
// where the previous process left off.
func (m *Manager) Restore() error {
	trip, err := m.store.Load()
	if err != nil {
		return err
	}
	if trip == nil {
		return nil
	}

	m.mu.Lock()
	m.current = trip
	m.mu.Unlock()

	m.logger.Info("Restored trip from checkpoint",
		zap.String("mode", string(trip.Mode)),
		zap.Int("locations", len(trip.Locations)),
		zap.Float64("distance_m", trip.DistanceMeters),
	)

	if trip.Mode == models.ModeManual {
		m.subscribeSamples()
	}
	return nil
}

// StartManual opens a manual session. It is rejected if any session is
// already active. The current location is captured best-effort; the
// session may start with zero locations if none is available.
func (m *Manager) StartManual() error {
	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return ErrSessionActive
	}

	start := m.source.Current()
	trip := &models.ActiveTrip{
		StartTime:     m.now().UnixMilli(),
		Mode:          models.ModeManual,
		StartLocation: start,
	}
	if start != nil {
		trip.Locations = []models.LocationSample{*start}
	}
	m.current = trip
	m.lastSaveTime = m.now()
	snapshot := *trip
	m.mu.Unlock()

	m.logger.Info("Manual trip started")
	m.persist(&snapshot)
	m.subscribeSamples()
	return nil
}

// OnLocationSample appends a streamed sample to the open session and
// accumulates haversine distance from the previous one. Duplicate
// timestamps are accepted; a repeated point naturally contributes ~0.
func (m *Manager) OnLocationSample(sample models.LocationSample) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}

	if n := len(m.current.Locations); n > 0 {
		last := m.current.Locations[n-1]
		m.current.DistanceMeters += geo.HaversineMeters(
			last.Latitude, last.Longitude,
			sample.Latitude, sample.Longitude,
		)
	}
	m.current.Locations = append(m.current.Locations, sample)

	var snapshot *models.ActiveTrip
	if now := m.now(); now.Sub(m.lastSaveTime) >= m.saveThrottle {
		m.lastSaveTime = now
		s := *m.current
		snapshot = &s
	}
	m.mu.Unlock()

	if snapshot != nil {
		m.persist(snapshot)
	}
}

// RequestStop signals intent to stop. Nothing changes until ConfirmStop;
// the host shows its confirmation step in between and may CancelStop.
func (m *Manager) RequestStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoActiveSession
	}
	m.stopRequested = true
	return nil
}

// CancelStop withdraws a stop request, leaving the session untouched.
func (m *Manager) CancelStop() {
	m.mu.Lock()
	m.stopRequested = false
	m.mu.Unlock()
}

// ConfirmStop ends the session and evaluates the validity gate. Too-short
// trips are discarded with their measurements reported; valid trips become
// the pending trip awaiting classification. Either way the active-session
// slot is freed and the checkpoint cleared.
func (m *Manager) ConfirmStop() (StopResult, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return StopResult{}, ErrNoActiveSession
	}

	trip := m.current
	nowMs := m.now().UnixMilli()
	duration := trip.DurationMs(nowMs)
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.current = nil
	m.stopRequested = false

	result := StopResult{
		DistanceMeters: trip.DistanceMeters,
		DurationMs:     duration,
	}
	if m.gate.IsValid(trip.DistanceMeters, duration, len(trip.Locations)) {
		pending := &models.PendingTrip{
			StartTime:      trip.StartTime,
			EndTime:        nowMs,
			Mode:           trip.Mode,
			Locations:      trip.Locations,
			DistanceMeters: trip.DistanceMeters,
			StartLocation:  trip.StartLocation,
		}
		m.pending = pending
		result.Pending = pending
	} else {
		result.Discarded = true
	}
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.persist(nil)

	if result.Discarded {
		m.logger.Info("Trip too short, discarded",
			zap.Float64("distance_m", result.DistanceMeters),
			zap.Int64("duration_ms", result.DurationMs),
		)
	} else {
		m.logger.Info("Trip stopped, awaiting classification",
			zap.Float64("distance_m", result.DistanceMeters),
			zap.Int64("duration_ms", result.DurationMs),
		)
	}
	return result, nil
}

// HandleDetectionEvent feeds auto-detection into the same session slot.
// A trip_started opens an auto session unless one is already open (manual
// precedence); a trip_stopped arrives already validity-filtered and
// converts directly to the pending trip.
func (m *Manager) HandleDetectionEvent(event detect.Event) {
	switch event.Name {
	case detect.EventTripStarted:
		m.mu.Lock()
		if m.current != nil {
			mode := m.current.Mode
			m.mu.Unlock()
			m.logger.Info("Ignoring auto-detected start, session already active",
				zap.String("active_mode", string(mode)),
			)
			return
		}
		trip := &models.ActiveTrip{
			StartTime:      m.now().UnixMilli() - event.DurationMs,
			Mode:           models.ModeAuto,
			Locations:      event.Locations,
			DistanceMeters: event.DistanceMeters,
		}
		if len(event.Locations) > 0 {
			start := event.Locations[0]
			trip.StartLocation = &start
		}
		m.current = trip
		m.lastSaveTime = m.now()
		snapshot := *trip
		m.mu.Unlock()

		m.logger.Info("Auto-detected trip started",
			zap.Int("buffered_locations", len(event.Locations)),
		)
		m.persist(&snapshot)

	case detect.EventTripStopped:
		nowMs := m.now().UnixMilli()
		pending := &models.PendingTrip{
			StartTime:      nowMs - event.DurationMs,
			EndTime:        nowMs,
			Mode:           models.ModeAuto,
			Locations:      event.Locations,
			DistanceMeters: event.DistanceMeters,
		}
		if len(event.Locations) > 0 {
			start := event.Locations[0]
			pending.StartLocation = &start
		}

		m.mu.Lock()
		if m.current != nil && m.current.Mode == models.ModeManual {
			// Manual session owns the slot; the detector should have been
			// reset, but never clobber a manual trip.
			m.mu.Unlock()
			m.logger.Warn("Ignoring auto-detected stop during manual trip")
			return
		}
		m.current = nil
		m.pending = pending
		m.mu.Unlock()

		m.logger.Info("Auto-detected trip stopped",
			zap.Float64("distance_m", event.DistanceMeters),
			zap.Int64("duration_ms", event.DurationMs),
		)
		m.persist(nil)
	}
}

// Current returns a snapshot of the open session, or nil.
func (m *Manager) Current() *models.ActiveTrip {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	snapshot := *m.current
	snapshot.Locations = append([]models.LocationSample(nil), m.current.Locations...)
	return &snapshot
}

// Pending returns the trip awaiting classification, or nil.
func (m *Manager) Pending() *models.PendingTrip {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// TakePending removes and returns the pending trip once classification
// has been decided.
func (m *Manager) TakePending() (*models.PendingTrip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil, ErrNoPendingTrip
	}
	p := m.pending
	m.pending = nil
	return p, nil
}

// DiscardPending drops the pending trip without classification.
func (m *Manager) DiscardPending() {
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	m.logger.Info("Pending trip discarded")
}

// IsTracking reports whether a session is open.
func (m *Manager) IsTracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// StopRequested reports whether a stop confirmation is outstanding.
func (m *Manager) StopRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopRequested
}

// FlushCheckpoint writes the checkpoint immediately, bypassing the
// throttle. Called on foreground/background transitions so at most one
// throttle interval of samples is ever at risk.
func (m *Manager) FlushCheckpoint() {
	m.mu.Lock()
	var snapshot *models.ActiveTrip
	if m.current != nil {
		m.lastSaveTime = m.now()
		s := *m.current
		snapshot = &s
	}
	m.mu.Unlock()

	if snapshot != nil {
		m.persist(snapshot)
	}
}

func (m *Manager) subscribeSamples() {
	unsub := m.source.Subscribe(m.OnLocationSample)
	m.mu.Lock()
	m.unsubscribe = unsub
	m.mu.Unlock()
}

// persist is best-effort: a failed checkpoint write never interrupts the
// session, the next successful write catches state up.
func (m *Manager) persist(trip *models.ActiveTrip) {
	if err := m.store.Save(trip); err != nil {
		m.logger.Error("Checkpoint write failed", zap.Error(err))
	}
}
