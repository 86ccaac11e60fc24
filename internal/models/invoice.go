package models

import (
	"time"

	"github.com/google/uuid"
)

// Invoice is a read-mostly snapshot of a successfully paid booking, created
// exactly once when the payment reaches success. The reconciliation engine
// never mutates it afterwards.
type Invoice struct {
	ID            int64     `json:"id" db:"id"`
	BookingID     int64     `json:"booking_id" db:"booking_id"`
	CorrelationID uuid.UUID `json:"correlation_id" db:"correlation_id"`
	CustomerID    uuid.UUID `json:"customer_id" db:"customer_id"`
	BikeID        int64     `json:"bike_id" db:"bike_id"`
	StartAt       time.Time `json:"start_at" db:"start_at"`
	EndAt         time.Time `json:"end_at" db:"end_at"`
	Total         float64   `json:"total" db:"total"`
	Currency      string    `json:"currency" db:"currency"`
	GatewayRef    string    `json:"gateway_ref" db:"gateway_ref"`
	IssuedAt      time.Time `json:"issued_at" db:"issued_at"`
}
