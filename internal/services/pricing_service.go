package services

import (
	"context"
	"fmt"
	"math"

	"github.com/pedalport/rental-backend/internal/database"
	"github.com/pedalport/rental-backend/internal/models"
)

// PricingService computes rental quotes. Quotes are pure reads over the
// catalog: the same bike row and duration always produce the same breakdown,
// so the service is safe to call unboundedly and concurrently.
//
// Combination rule: total = dailyRate * days * demandFactor * locationFactor,
// rounded half-up to 2 decimals.
type PricingService struct {
	bikeRepo *database.BikeRepository
	currency string
}

// NewPricingService creates a new PricingService
func NewPricingService(bikeRepo *database.BikeRepository, currency string) *PricingService {
	return &PricingService{
		bikeRepo: bikeRepo,
		currency: currency,
	}
}

// Quote computes the price for renting a bike for the given number of days.
func (s *PricingService) Quote(ctx context.Context, bikeID int64, days int) (*models.PriceQuote, error) {
	if days <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %d: %w", days, models.ErrInvalidArgument)
	}

	bike, err := s.bikeRepo.GetByID(ctx, bikeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bike: %w", err)
	}
	if bike == nil {
		return nil, fmt.Errorf("bike %d: %w", bikeID, models.ErrNotFound)
	}

	baseFare := roundCurrency(bike.DailyRate * float64(days))
	total := roundCurrency(bike.DailyRate * float64(days) * bike.DemandFactor * bike.LocationFactor)

	return &models.PriceQuote{
		BikeID:         bike.ID,
		Days:           days,
		DailyRate:      bike.DailyRate,
		BaseFare:       baseFare,
		DemandFactor:   bike.DemandFactor,
		LocationFactor: bike.LocationFactor,
		Total:          total,
		Currency:       s.currency,
	}, nil
}

// roundCurrency rounds half-up to 2 decimals.
func roundCurrency(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
