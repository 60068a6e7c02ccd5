// Package checkpoint persists lightweight snapshots of the active trip so
// a process restart can resume mid-trip.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"shiftpilot/mileage-agent/internal/models"

	"go.uber.org/zap"
)

// Store is the durable checkpoint contract. Save(nil) clears the
// checkpoint. Implementations must be safe to call frequently.
type Store interface {
	Save(trip *models.ActiveTrip) error
	Load() (*models.ActiveTrip, error)
}

// SQLiteStore keeps the checkpoint in a single-row table.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a checkpoint store over an opened database.
func NewSQLiteStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: logger,
	}
}

// Save writes the trip snapshot, replacing any previous one. A nil trip
// clears the checkpoint.
func (s *SQLiteStore) Save(trip *models.ActiveTrip) error {
	if trip == nil {
		if _, err := s.db.Exec(`DELETE FROM active_trip WHERE id = 1`); err != nil {
			return fmt.Errorf("failed to clear checkpoint: %w", err)
		}
		return nil
	}

	tripData, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO active_trip (id, trip_data, saved_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET trip_data = excluded.trip_data, saved_at = excluded.saved_at
	`, string(tripData))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug("Checkpoint saved",
		zap.Int("locations", len(trip.Locations)),
		zap.Float64("distance_m", trip.DistanceMeters),
	)
	return nil
}

// Load returns the stored trip, or nil if no checkpoint exists.
func (s *SQLiteStore) Load() (*models.ActiveTrip, error) {
	var tripData string
	err := s.db.QueryRow(`SELECT trip_data FROM active_trip WHERE id = 1`).Scan(&tripData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var trip models.ActiveTrip
	if err := json.Unmarshal([]byte(tripData), &trip); err != nil {
		// A corrupted checkpoint is not worth failing startup over; drop it.
		s.logger.Error("Discarding corrupted checkpoint", zap.Error(err))
		if _, delErr := s.db.Exec(`DELETE FROM active_trip WHERE id = 1`); delErr != nil {
			s.logger.Error("Failed to delete corrupted checkpoint", zap.Error(delErr))
		}
		return nil, nil
	}

	return &trip, nil
}
