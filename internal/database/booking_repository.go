package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pedalport/rental-backend/internal/models"
)

// BookingRepository handles read-side booking queries. All writes go through
// the LedgerRepository.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// GetByID retrieves a booking by id. Returns nil without error when the
// booking does not exist.
func (r *BookingRepository) GetByID(ctx context.Context, bookingID int64) (*models.Booking, error) {
	var booking models.Booking
	query := `
		SELECT id, customer_id, bike_id, start_at, end_at, total_price,
		       currency, status, created_at, updated_at
		FROM bookings
		WHERE id = $1`

	err := r.db.GetContext(ctx, &booking, query, bookingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// GetByCustomer retrieves a customer's bookings, newest first.
func (r *BookingRepository) GetByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	query := `
		SELECT id, customer_id, bike_id, start_at, end_at, total_price,
		       currency, status, created_at, updated_at
		FROM bookings
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	var bookings []models.Booking
	err := r.db.SelectContext(ctx, &bookings, query, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// GetPaymentByCorrelationID retrieves a payment intent by correlation id.
// Returns nil without error when no intent was ever opened with that id.
func (r *BookingRepository) GetPaymentByCorrelationID(ctx context.Context, correlationID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	query := `
		SELECT correlation_id, booking_id, amount, currency, method, status,
		       gateway_ref, created_at, updated_at
		FROM payments
		WHERE correlation_id = $1`

	err := r.db.GetContext(ctx, &payment, query, correlationID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}
