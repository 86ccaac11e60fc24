package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pedalport/rental-backend/internal/models"
)

// BikeRepository handles bike catalog database operations
type BikeRepository struct {
	db *sqlx.DB
}

// NewBikeRepository creates a new BikeRepository
func NewBikeRepository(db *sqlx.DB) *BikeRepository {
	return &BikeRepository{db: db}
}

// GetByID retrieves a bike by id. Returns nil without error when the bike
// does not exist.
func (r *BikeRepository) GetByID(ctx context.Context, bikeID int64) (*models.Bike, error) {
	var bike models.Bike
	query := `
		SELECT id, owner_id, name, location, daily_rate, demand_factor,
		       location_factor, available, created_at, updated_at
		FROM bikes
		WHERE id = $1`

	err := r.db.GetContext(ctx, &bike, query, bikeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bike: %w", err)
	}
	return &bike, nil
}

// Release marks a bike available again. Called only by the booking lifecycle
// manager when a booking leaves pending without activating.
func (r *BikeRepository) Release(ctx context.Context, bikeID int64) error {
	query := `UPDATE bikes SET available = true, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, bikeID)
	if err != nil {
		return fmt.Errorf("failed to release bike: %w", err)
	}
	return nil
}
