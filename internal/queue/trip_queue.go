package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"shiftpilot/mileage-agent/internal/models"

	"go.uber.org/zap"
)

// TripQueue is a local store-and-forward queue of classified trips that
// have not yet reached the backend. Trips survive restarts and are
// retried until uploaded.
type TripQueue struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTripQueue creates a new trip queue.
func NewTripQueue(db *sql.DB, logger *zap.Logger) *TripQueue {
	return &TripQueue{
		db:     db,
		logger: logger,
	}
}

// Enqueue adds a classified trip to the queue.
func (tq *TripQueue) Enqueue(trip models.CompletedTrip) error {
	tripData, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("failed to marshal trip: %w", err)
	}

	_, err = tq.db.Exec(`
		INSERT INTO pending_trips (trip_data, device_id, created_at, retry_count)
		VALUES (?, ?, ?, 0)
	`, string(tripData), trip.DeviceID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to enqueue trip: %w", err)
	}

	tq.logger.Debug("Trip enqueued for upload",
		zap.String("trip_id", trip.ID),
		zap.String("purpose", string(trip.Purpose)),
	)
	return nil
}

// Dequeue retrieves the oldest queued trips, up to limit, together with
// their queue row IDs.
func (tq *TripQueue) Dequeue(limit int) ([]models.CompletedTrip, []int64, error) {
	rows, err := tq.db.Query(`
		SELECT id, trip_data
		FROM pending_trips
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query pending trips: %w", err)
	}
	defer rows.Close()

	var trips []models.CompletedTrip
	var ids []int64

	for rows.Next() {
		var id int64
		var tripData string

		if err := rows.Scan(&id, &tripData); err != nil {
			tq.logger.Error("Failed to scan row", zap.Error(err))
			continue
		}

		var trip models.CompletedTrip
		if err := json.Unmarshal([]byte(tripData), &trip); err != nil {
			tq.logger.Error("Failed to unmarshal trip", zap.Error(err), zap.Int64("id", id))
			// Remove corrupted entry
			tq.db.Exec("DELETE FROM pending_trips WHERE id = ?", id)
			continue
		}

		trips = append(trips, trip)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate pending trips: %w", err)
	}

	return trips, ids, nil
}

// Remove deletes queued trips by their row IDs, after a successful upload.
func (tq *TripQueue) Remove(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := "DELETE FROM pending_trips WHERE id IN ("
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = id
	}
	query += ")"

	result, err := tq.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to remove trips: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	tq.logger.Debug("Trips removed from queue",
		zap.Int64("count", rowsAffected),
	)
	return nil
}

// IncrementRetry bumps the retry count for trips that failed to upload.
func (tq *TripQueue) IncrementRetry(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := "UPDATE pending_trips SET retry_count = retry_count + 1, last_attempt = ? WHERE id IN ("
	args := make([]interface{}, len(ids)+1)
	args[0] = time.Now()
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i+1] = id
	}
	query += ")"

	if _, err := tq.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to increment retry: %w", err)
	}
	return nil
}

// PendingCount returns the number of trips waiting for upload.
func (tq *TripQueue) PendingCount() (int, error) {
	var count int
	err := tq.db.QueryRow(`SELECT COUNT(*) FROM pending_trips`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return count, nil
}

// CleanupOldTrips removes trips older than the given age that have
// exhausted their retries.
func (tq *TripQueue) CleanupOldTrips(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	result, err := tq.db.Exec(`
		DELETE FROM pending_trips
		WHERE created_at < ? AND retry_count > 10
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old trips: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		tq.logger.Info("Cleaned up stale queued trips",
			zap.Int64("count", rowsAffected),
		)
	}
	return nil
}
