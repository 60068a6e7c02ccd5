// Package deduction resolves per-mile deduction rates and estimates
// dollar values for trips. All dollar math lives here, outside the
// tracking core, which stays distance-and-duration only.
package deduction

import (
	"context"
	"fmt"
	"math"
	"time"

	"shiftpilot/mileage-agent/internal/models"

	"github.com/maypok86/otter/v2"
	"go.uber.org/zap"
)

const metersPerMile = 1609.34

// ratesKey is the single cache key; the backend returns all active rates
// in one call.
const ratesKey = "deduction-rates"

// RatesProvider fetches the active deduction rates from the backend.
type RatesProvider interface {
	DeductionRates(ctx context.Context) ([]models.DeductionRate, error)
}

// Service caches deduction rates for a bounded time so the agent is not
// hitting the backend on every estimate.
type Service struct {
	provider RatesProvider
	cache    otter.Cache[string, []models.DeductionRate]
	logger   *zap.Logger
}

// NewService creates a deduction service with the given cache TTL.
func NewService(provider RatesProvider, ttl time.Duration, logger *zap.Logger) *Service {
	cache := otter.Must(&otter.Options[string, []models.DeductionRate]{
		MaximumSize:      4,
		ExpiryCalculator: otter.ExpiryWriting[string, []models.DeductionRate](ttl),
	})

	return &Service{
		provider: provider,
		cache:    *cache,
		logger:   logger,
	}
}

// Rates returns the active deduction rates, cached.
func (s *Service) Rates(ctx context.Context) ([]models.DeductionRate, error) {
	if rates, ok := s.cache.GetIfPresent(ratesKey); ok {
		return rates, nil
	}

	rates, err := s.provider.DeductionRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deduction rates: %w", err)
	}

	s.cache.Set(ratesKey, rates)
	s.logger.Debug("Deduction rates refreshed", zap.Int("count", len(rates)))
	return rates, nil
}

// RateFor returns the rate for one purpose, or nil if the backend defines
// none (e.g. personal trips deduct nothing).
func (s *Service) RateFor(ctx context.Context, purpose models.TripPurpose) (*models.DeductionRate, error) {
	rates, err := s.Rates(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rates {
		if r.Purpose == purpose {
			rate := r
			return &rate, nil
		}
	}
	return nil, nil
}

// Estimate computes the dollar deduction for a distance at a purpose's
// rate. An unknown purpose estimates to 0.
func (s *Service) Estimate(ctx context.Context, distanceMeters float64, purpose models.TripPurpose) (float64, error) {
	rate, err := s.RateFor(ctx, purpose)
	if err != nil {
		return 0, err
	}
	if rate == nil {
		return 0, nil
	}
	return EstimateAt(distanceMeters, rate.RatePerMile), nil
}

// EstimateAt is the pure rate math: meters to miles times rate, rounded
// to cents.
func EstimateAt(distanceMeters, ratePerMile float64) float64 {
	miles := distanceMeters / metersPerMile
	return math.Round(miles*ratePerMile*100) / 100
}

// ClearCache forces the next Rates call to hit the backend.
func (s *Service) ClearCache() {
	s.cache.Invalidate(ratesKey)
}
