package checkpoint

import (
	"path/filepath"
	"testing"

	"shiftpilot/mileage-agent/internal/database"
	"shiftpilot/mileage-agent/internal/models"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "agent.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db.DB, zap.NewNop())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	speed := 12.5
	trip := &models.ActiveTrip{
		StartTime: 1700000000000,
		Mode:      models.ModeManual,
		Locations: []models.LocationSample{
			{Latitude: 37.7749, Longitude: -122.4194, Speed: &speed, Timestamp: 1700000000000},
			{Latitude: 37.7755, Longitude: -122.4200, Timestamp: 1700000005000},
		},
		DistanceMeters: 84.2,
	}

	if err := store.Save(trip); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a checkpoint")
	}
	if loaded.StartTime != trip.StartTime || loaded.Mode != trip.Mode {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if len(loaded.Locations) != 2 {
		t.Fatalf("expected 2 locations, got %d", len(loaded.Locations))
	}
	if loaded.Locations[0].Speed == nil || *loaded.Locations[0].Speed != speed {
		t.Fatal("optional speed field lost in round trip")
	}
	if loaded.DistanceMeters != trip.DistanceMeters {
		t.Fatalf("distance mismatch: %v", loaded.DistanceMeters)
	}
}

func TestLoadWithoutCheckpoint(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil checkpoint, got %+v", loaded)
	}
}

func TestSaveNilClears(t *testing.T) {
	store := newTestStore(t)

	trip := &models.ActiveTrip{StartTime: 1700000000000, Mode: models.ModeAuto}
	if err := store.Save(trip); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(nil); err != nil {
		t.Fatalf("clear: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != nil {
		t.Fatal("expected checkpoint cleared")
	}
}

func TestSaveOverwrites(t *testing.T) {
	store := newTestStore(t)

	first := &models.ActiveTrip{StartTime: 1700000000000, Mode: models.ModeManual, DistanceMeters: 10}
	second := &models.ActiveTrip{StartTime: 1700000000000, Mode: models.ModeManual, DistanceMeters: 250}

	if err := store.Save(first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := store.Save(second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.DistanceMeters != 250 {
		t.Fatalf("expected latest checkpoint, got %+v", loaded)
	}
}
