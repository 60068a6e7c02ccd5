package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type stubProvider struct{}

func (stubProvider) Status() map[string]interface{} {
	return map[string]interface{}{
		"device_id":       "device-1",
		"detection_state": "idle",
		"tracking":        false,
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := NewStatusServer(stubProvider{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["device_id"] != "device-1" {
		t.Errorf("device_id = %v, want device-1", body["device_id"])
	}
	if body["detection_state"] != "idle" {
		t.Errorf("detection_state = %v, want idle", body["detection_state"])
	}
}

func TestStatusMethodNotAllowed(t *testing.T) {
	srv := NewStatusServer(stubProvider{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want 405", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewStatusServer(stubProvider{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
}

func TestUnknownPathNotFound(t *testing.T) {
	srv := NewStatusServer(stubProvider{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", rec.Code)
	}
}
