package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pedalport/rental-backend/internal/models"
)

// InvoiceRepository handles invoice reads. Invoices are written exactly once
// by the ledger when a payment succeeds and never mutated here.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository creates a new InvoiceRepository
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// GetByBookingID retrieves the invoice for a booking. Returns nil without
// error when the booking has no invoice yet.
func (r *InvoiceRepository) GetByBookingID(ctx context.Context, bookingID int64) (*models.Invoice, error) {
	var invoice models.Invoice
	query := `
		SELECT id, booking_id, correlation_id, customer_id, bike_id,
		       start_at, end_at, total, currency, gateway_ref, issued_at
		FROM invoices
		WHERE booking_id = $1`

	err := r.db.GetContext(ctx, &invoice, query, bookingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &invoice, nil
}
