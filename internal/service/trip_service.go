package service

import (
	"context"
	"sync"
	"time"

	"shiftpilot/mileage-agent/internal/deduction"
	"shiftpilot/mileage-agent/internal/detect"
	"shiftpilot/mileage-agent/internal/location"
	"shiftpilot/mileage-agent/internal/models"
	"shiftpilot/mileage-agent/internal/notify"
	"shiftpilot/mileage-agent/internal/queue"
	"shiftpilot/mileage-agent/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TripClient is the backend surface the service needs for uploads.
type TripClient interface {
	CreateTrip(ctx context.Context, trip models.CompletedTrip) (string, error)
}

// TripService orchestrates all trip components: it feeds the detector from
// the location source, routes detection events into the session manager,
// exposes the manual trip operations, and drains the upload queue in the
// background.
type TripService struct {
	source     location.Source
	detector   *detect.Detector
	sessions   *session.Manager
	tripQueue  *queue.TripQueue
	apiClient  TripClient
	notifier   notify.Notifier
	deductions *deduction.Service
	deviceID   string
	logger     *zap.Logger

	uploadInterval time.Duration
	uploadBatch    int
	uploadTimeout  time.Duration

	mu          sync.Mutex
	autoDetect  bool
	unsubSource func()
	unsubEvents func()

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewTripService creates a trip service. The location source's lifecycle
// belongs to the caller; the service only subscribes to it.
func NewTripService(
	source location.Source,
	detector *detect.Detector,
	sessions *session.Manager,
	tripQueue *queue.TripQueue,
	apiClient TripClient,
	notifier notify.Notifier,
	deductions *deduction.Service,
	deviceID string,
	uploadInterval time.Duration,
	uploadBatch int,
	autoDetect bool,
	logger *zap.Logger,
) *TripService {
	if uploadInterval <= 0 {
		uploadInterval = 60 * time.Second
	}
	if uploadBatch <= 0 {
		uploadBatch = 10
	}
	return &TripService{
		source:         source,
		detector:       detector,
		sessions:       sessions,
		tripQueue:      tripQueue,
		apiClient:      apiClient,
		notifier:       notifier,
		deductions:     deductions,
		deviceID:       deviceID,
		logger:         logger,
		uploadInterval: uploadInterval,
		uploadBatch:    uploadBatch,
		uploadTimeout:  30 * time.Second,
		autoDetect:     autoDetect,
		stopChan:       make(chan struct{}),
	}
}

// Start restores any checkpointed session, wires up detection if enabled,
// and launches the background uploader.
func (ts *TripService) Start() error {
	ts.logger.Info("Starting trip service", zap.String("device_id", ts.deviceID))

	if err := ts.sessions.Restore(); err != nil {
		ts.logger.Warn("Failed to restore trip checkpoint", zap.Error(err))
	}

	ts.mu.Lock()
	if ts.autoDetect {
		ts.enableDetectionLocked()
	}
	ts.mu.Unlock()

	ts.wg.Add(1)
	go ts.queueProcessor()

	ts.logger.Info("Trip service started", zap.Bool("auto_detect", ts.AutoDetect()))
	return nil
}

// Stop detaches from the location source, stops the uploader, and flushes
// the session checkpoint so a restart can resume mid-trip.
func (ts *TripService) Stop() {
	ts.logger.Info("Stopping trip service")

	select {
	case <-ts.stopChan:
		return
	default:
		close(ts.stopChan)
	}

	ts.mu.Lock()
	ts.disableDetectionLocked(false)
	ts.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ts.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		ts.logger.Warn("Queue processor did not stop within timeout")
	}

	ts.sessions.FlushCheckpoint()
	ts.logger.Info("Trip service stopped")
}

// AutoDetect reports whether automatic trip detection is enabled.
func (ts *TripService) AutoDetect() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.autoDetect
}

// SetAutoDetect toggles automatic trip detection. Disabling resets the
// detector so a half-built candidate trip cannot linger; any already
// active session is unaffected.
func (ts *TripService) SetAutoDetect(enabled bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if enabled == ts.autoDetect {
		return
	}
	ts.autoDetect = enabled
	if enabled {
		ts.enableDetectionLocked()
	} else {
		ts.disableDetectionLocked(true)
	}
	ts.logger.Info("Auto-detect toggled", zap.Bool("enabled", enabled))
}

func (ts *TripService) enableDetectionLocked() {
	if ts.unsubSource != nil {
		return
	}
	ts.unsubSource = ts.source.Subscribe(ts.detector.ProcessLocationUpdate)
	ts.unsubEvents = ts.detector.Subscribe(ts.onDetectionEvent)
}

func (ts *TripService) disableDetectionLocked(reset bool) {
	if ts.unsubSource != nil {
		ts.unsubSource()
		ts.unsubSource = nil
	}
	if ts.unsubEvents != nil {
		ts.unsubEvents()
		ts.unsubEvents = nil
	}
	if reset {
		ts.detector.Reset()
	}
}

// onDetectionEvent routes detector events into the session manager and
// surfaces them to the user. A trip_started that lands while a session is
// already open is swallowed by the manager, so the notification is
// suppressed too.
func (ts *TripService) onDetectionEvent(event detect.Event) {
	hadSession := ts.sessions.IsTracking()
	ts.sessions.HandleDetectionEvent(event)

	switch event.Name {
	case detect.EventTripStarted:
		if !hadSession {
			ts.notifier.TripStarted()
		}
	case detect.EventTripStopped:
		if ts.sessions.Pending() != nil {
			ts.notifier.TripCompleted(notify.TripSummary{
				DistanceMeters: event.DistanceMeters,
				DurationMs:     event.DurationMs,
			})
		}
	}
}

// StartManualTrip opens a manual session. The detector is reset first so a
// pending auto candidate cannot race the user's explicit start.
func (ts *TripService) StartManualTrip() error {
	ts.detector.Reset()
	if err := ts.sessions.StartManual(); err != nil {
		return err
	}
	ts.notifier.TripStarted()
	return nil
}

// RequestStop begins the two-phase stop of the active session.
func (ts *TripService) RequestStop() error {
	return ts.sessions.RequestStop()
}

// CancelStop abandons a requested stop; the session keeps recording.
func (ts *TripService) CancelStop() {
	ts.sessions.CancelStop()
}

// ConfirmStop closes the active session. Too-short trips are discarded and
// reported as such; valid trips become pending and await classification.
func (ts *TripService) ConfirmStop() (session.StopResult, error) {
	result, err := ts.sessions.ConfirmStop()
	if err != nil {
		return result, err
	}

	summary := notify.TripSummary{
		DistanceMeters: result.DistanceMeters,
		DurationMs:     result.DurationMs,
	}
	if result.Discarded {
		ts.notifier.TripDiscarded(summary)
	} else {
		ts.notifier.TripCompleted(summary)
	}
	return result, nil
}

// CompleteTrip classifies the pending trip and hands it off for upload.
// The trip is sent immediately when the backend is reachable and queued
// locally otherwise; either way it survives as far as the durable queue.
func (ts *TripService) CompleteTrip(purpose models.TripPurpose, notes *string) (models.CompletedTrip, error) {
	pending, err := ts.sessions.TakePending()
	if err != nil {
		return models.CompletedTrip{}, err
	}

	trip := models.CompletedTrip{
		ID:             uuid.NewString(),
		DeviceID:       ts.deviceID,
		StartedAt:      pending.StartTime,
		EndedAt:        pending.EndTime,
		DistanceMeters: pending.DistanceMeters,
		DurationMs:     pending.DurationMs(),
		Purpose:        purpose,
		Notes:          notes,
		Source:         models.SourceForMode(pending.Mode),
		Locations:      pending.Locations,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ts.uploadTimeout)
	defer cancel()

	if ts.deductions != nil {
		if estimate, err := ts.deductions.Estimate(ctx, trip.DistanceMeters, purpose); err != nil {
			ts.logger.Debug("Deduction estimate unavailable", zap.Error(err))
		} else if estimate > 0 {
			ts.logger.Info("Estimated deduction",
				zap.String("trip_id", trip.ID),
				zap.Float64("amount", estimate),
			)
		}
	}

	if _, err := ts.apiClient.CreateTrip(ctx, trip); err != nil {
		ts.logger.Warn("Failed to upload trip, queuing locally",
			zap.Error(err),
			zap.String("trip_id", trip.ID),
		)
		if queueErr := ts.tripQueue.Enqueue(trip); queueErr != nil {
			ts.logger.Error("Failed to queue trip", zap.Error(queueErr))
			return trip, queueErr
		}
		return trip, nil
	}

	ts.logger.Info("Trip classified and uploaded",
		zap.String("trip_id", trip.ID),
		zap.String("purpose", string(purpose)),
		zap.Float64("distance_m", trip.DistanceMeters),
	)
	return trip, nil
}

// DiscardTrip drops the pending trip without uploading anything.
func (ts *TripService) DiscardTrip() {
	ts.sessions.DiscardPending()
}

// AppStateChange is the host's foreground/background hook. Going to the
// background flushes the checkpoint immediately since the process may be
// killed without further notice.
func (ts *TripService) AppStateChange(foreground bool) {
	if !foreground {
		ts.sessions.FlushCheckpoint()
	}
}

// Status reports the current agent state for the local status endpoint.
func (ts *TripService) Status() map[string]interface{} {
	pendingUploads, err := ts.tripQueue.PendingCount()
	if err != nil {
		ts.logger.Error("Failed to get pending upload count", zap.Error(err))
	}

	status := map[string]interface{}{
		"device_id":       ts.deviceID,
		"detection_state": string(ts.detector.GetState()),
		"auto_detect":     ts.AutoDetect(),
		"tracking":        ts.sessions.IsTracking(),
		"stop_requested":  ts.sessions.StopRequested(),
		"pending_trip":    ts.sessions.Pending() != nil,
		"pending_uploads": pendingUploads,
	}
	if trip := ts.sessions.Current(); trip != nil {
		status["trip_mode"] = string(trip.Mode)
		status["trip_distance_m"] = trip.DistanceMeters
		status["trip_started_at"] = trip.StartTime
	}
	return status
}

// queueProcessor drains the upload queue in the background.
func (ts *TripService) queueProcessor() {
	defer ts.wg.Done()

	ticker := time.NewTicker(ts.uploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ts.processQueue()
		case <-ts.stopChan:
			// One last drain attempt before shutdown.
			ts.processQueue()
			return
		}
	}
}

// processQueue attempts to send queued trips, oldest first.
func (ts *TripService) processQueue() {
	pendingCount, err := ts.tripQueue.PendingCount()
	if err != nil {
		ts.logger.Error("Failed to get pending count", zap.Error(err))
		return
	}
	if pendingCount == 0 {
		return
	}

	ts.logger.Debug("Processing queued trips", zap.Int("pending_count", pendingCount))

	trips, ids, err := ts.tripQueue.Dequeue(ts.uploadBatch)
	if err != nil {
		ts.logger.Error("Failed to dequeue trips", zap.Error(err))
		return
	}

	var sent, failed []int64
	for i, trip := range trips {
		ctx, cancel := context.WithTimeout(context.Background(), ts.uploadTimeout)
		_, err := ts.apiClient.CreateTrip(ctx, trip)
		cancel()

		if err != nil {
			ts.logger.Warn("Failed to upload queued trip",
				zap.Error(err),
				zap.String("trip_id", trip.ID),
			)
			failed = append(failed, ids[i])
			continue
		}
		sent = append(sent, ids[i])
	}

	if len(sent) > 0 {
		if err := ts.tripQueue.Remove(sent); err != nil {
			ts.logger.Error("Failed to remove uploaded trips from queue", zap.Error(err))
		} else {
			ts.logger.Info("Uploaded queued trips", zap.Int("trip_count", len(sent)))
		}
	}
	if len(failed) > 0 {
		if err := ts.tripQueue.IncrementRetry(failed); err != nil {
			ts.logger.Error("Failed to increment retry count", zap.Error(err))
		}
	}
}
