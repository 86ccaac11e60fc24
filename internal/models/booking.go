package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusActive    BookingStatus = "active"
	BookingStatusFailed    BookingStatus = "failed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// IsTerminal reports whether the status accepts no further gateway-driven
// transitions. Only a pending booking is mutable by reconciliation.
func (s BookingStatus) IsTerminal() bool {
	return s != BookingStatusPending
}

// Booking is a rental reservation. It is created pending with the bike held
// unavailable, and leaves pending exactly once: via a gateway result, an
// explicit cancel, or the hold-expiration sweep.
type Booking struct {
	ID         int64         `json:"id" db:"id"`
	CustomerID uuid.UUID     `json:"customer_id" db:"customer_id"`
	BikeID     int64         `json:"bike_id" db:"bike_id"`
	StartAt    time.Time     `json:"start_at" db:"start_at"`
	EndAt      time.Time     `json:"end_at" db:"end_at"`
	TotalPrice float64       `json:"total_price" db:"total_price"`
	Currency   string        `json:"currency" db:"currency"`
	Status     BookingStatus `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
}

// CreateBookingRequest is the booking-creation request body.
type CreateBookingRequest struct {
	BikeID  int64      `json:"bike_id" binding:"required"`
	Days    int        `json:"days" binding:"required"`
	StartAt *time.Time `json:"start_at,omitempty"`
}

// BookingResponse is returned from booking endpoints.
type BookingResponse struct {
	Booking *Booking    `json:"booking"`
	Quote   *PriceQuote `json:"quote,omitempty"`
}

// ExpiredHold identifies a pending booking failed by the reservation-timeout
// sweep, so the lifecycle manager can release its bike.
type ExpiredHold struct {
	BookingID int64 `db:"id"`
	BikeID    int64 `db:"bike_id"`
}
