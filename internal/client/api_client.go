package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"shiftpilot/mileage-agent/internal/models"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
)

// APIClient handles communication with the backend API. Transient failures
// are retried with full-jitter exponential backoff; anything still failing
// is left to the durable trip queue to try again later.
type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAPIClient creates a new API client.
func NewAPIClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// CreateTrip uploads a classified trip and returns the persisted trip ID
// assigned by the backend.
func (c *APIClient) CreateTrip(ctx context.Context, trip models.CompletedTrip) (string, error) {
	jsonData, err := json.Marshal(trip)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trip: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	url := fmt.Sprintf("%s/api/v1/trips", c.baseURL)
	if err := c.doJSON(ctx, http.MethodPost, url, jsonData, &result); err != nil {
		return "", err
	}

	c.logger.Info("Trip uploaded",
		zap.String("trip_id", result.ID),
		zap.Float64("distance_m", trip.DistanceMeters),
		zap.String("purpose", string(trip.Purpose)),
	)
	return result.ID, nil
}

// DeductionRates fetches the active per-mile deduction rates.
func (c *APIClient) DeductionRates(ctx context.Context) ([]models.DeductionRate, error) {
	var rates []models.DeductionRate
	url := fmt.Sprintf("%s/api/v1/deduction-rates", c.baseURL)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &rates); err != nil {
		return nil, err
	}
	return rates, nil
}

// HealthCheck checks if the backend is reachable.
func (c *APIClient) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// doJSON performs one JSON request with retries on network errors, rate
// limits, and server errors. 4xx responses other than 429 fail fast.
func (c *APIClient) doJSON(ctx context.Context, method, url string, body []byte, out interface{}) error {
	return retry.Do(
		func() error {
			var reader io.Reader
			if body != nil {
				reader = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, url, reader)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			if c.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+c.apiKey)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				if out == nil || len(respBody) == 0 {
					return nil
				}
				if err := json.Unmarshal(respBody, out); err != nil {
					return retry.Unrecoverable(fmt.Errorf("failed to parse response: %w", err))
				}
				return nil
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				c.logger.Warn("Retryable backend error",
					zap.Int("status_code", resp.StatusCode),
					zap.String("url", url),
				)
				return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(respBody))
			default:
				return retry.Unrecoverable(
					fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(respBody)))
			}
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("Retrying backend request",
				zap.Uint("attempt", n),
				zap.String("url", url),
				zap.Error(err),
			)
		}),
	)
}
