package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"shiftpilot/mileage-agent/internal/models"

	"go.uber.org/zap"
)

func testClient(url string) *APIClient {
	return NewAPIClient(url, "test-key", 5*time.Second, zap.NewNop())
}

func TestCreateTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/trips" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", got)
		}
		var trip models.CompletedTrip
		if err := json.NewDecoder(r.Body).Decode(&trip); err != nil {
			t.Errorf("decode trip: %v", err)
		}
		if trip.Purpose != models.PurposeWork {
			t.Errorf("unexpected purpose: %v", trip.Purpose)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "trip-abc"})
	}))
	defer srv.Close()

	id, err := testClient(srv.URL).CreateTrip(context.Background(), models.CompletedTrip{
		ID:             "local-1",
		DeviceID:       "device-1",
		DistanceMeters: 4200,
		DurationMs:     600000,
		Purpose:        models.PurposeWork,
		Source:         "manual",
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if id != "trip-abc" {
		t.Fatalf("expected backend trip id, got %q", id)
	}
}

func TestCreateTripRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "trip-retry"})
	}))
	defer srv.Close()

	id, err := testClient(srv.URL).CreateTrip(context.Background(), models.CompletedTrip{ID: "local-1"})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if id != "trip-retry" {
		t.Fatalf("expected success after retries, got %q", id)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestCreateTripBadRequestFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CreateTrip(context.Background(), models.CompletedTrip{ID: "local-1"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestDeductionRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/deduction-rates" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]models.DeductionRate{
			{Purpose: models.PurposeWork, RatePerMile: 0.67, DisplayName: "Business"},
			{Purpose: models.PurposePersonal, RatePerMile: 0, DisplayName: "Personal"},
		})
	}))
	defer srv.Close()

	rates, err := testClient(srv.URL).DeductionRates(context.Background())
	if err != nil {
		t.Fatalf("deduction rates: %v", err)
	}
	if len(rates) != 2 || rates[0].RatePerMile != 0.67 {
		t.Fatalf("unexpected rates: %+v", rates)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := testClient(srv.URL).HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
}
