package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pedalport/rental-backend/internal/models"
)

// LedgerRepository owns the Booking and Payment tables and every state
// transition on them. All mutations are conditional on the expected current
// state ("UPDATE ... WHERE status = 'pending'"), never read-then-write, which
// is what makes duplicate and out-of-order gateway callbacks safe: at most
// one transition out of pending can ever win.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new LedgerRepository
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ApplyOutcome describes the result of applying a gateway result or an
// explicit cancellation against the ledger.
type ApplyOutcome struct {
	CorrelationID    uuid.UUID
	BookingID        int64
	BikeID           int64
	OldBookingStatus models.BookingStatus
	NewBookingStatus models.BookingStatus
	ExpectedAmount   float64
	Currency         string
	Idempotent       bool
}

// OpenBooking atomically claims the bike and inserts a pending booking.
// Claiming is a compare-and-swap on the availability flag, so two concurrent
// requests for the same bike cannot both succeed.
func (r *LedgerRepository) OpenBooking(ctx context.Context, booking *models.Booking) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE bikes
		SET available = false, updated_at = NOW()
		WHERE id = $1 AND available = true
	`, booking.BikeID)
	if err != nil {
		return fmt.Errorf("failed to claim bike: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return models.ErrBikeUnavailable
	}

	booking.Status = models.BookingStatusPending
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bookings (customer_id, bike_id, start_at, end_at, total_price, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, booking.CustomerID, booking.BikeID, booking.StartAt, booking.EndAt,
		booking.TotalPrice, booking.Currency, booking.Status,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	return tx.Commit()
}

// OpenPaymentIntent creates a fresh payment intent for a pending booking.
// Any other pending intent rows for the booking are purged in the same
// transaction, keeping at most one live intent per booking.
func (r *LedgerRepository) OpenPaymentIntent(
	ctx context.Context,
	bookingID int64,
	amount float64,
	currency string,
	method models.PaymentMethod,
) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Row lock serializes intent creation per booking.
	var status models.BookingStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM bookings WHERE id = $1 FOR UPDATE`, bookingID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	if status != models.BookingStatusPending {
		return nil, fmt.Errorf("booking %d is %s: %w", bookingID, status, models.ErrInvalidState)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM payments WHERE booking_id = $1 AND status = 'pending'`, bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to purge stale intents: %w", err)
	}

	payment := &models.Payment{
		CorrelationID: uuid.New(),
		BookingID:     bookingID,
		Amount:        amount,
		Currency:      currency,
		Method:        method,
		Status:        models.PaymentStatusPending,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO payments (correlation_id, booking_id, amount, currency, method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`, payment.CorrelationID, payment.BookingID, payment.Amount,
		payment.Currency, payment.Method, payment.Status,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment intent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment intent: %w", err)
	}
	return payment, nil
}

// ApplyGatewayResult commits exactly one outcome for a correlation id.
// Safe to call any number of times with the same arguments: only the call
// that wins the conditional pending transition mutates anything, every other
// call reports Idempotent=true. An unknown correlation id returns
// ErrUnknownCorrelation without touching state.
func (r *LedgerRepository) ApplyGatewayResult(
	ctx context.Context,
	correlationID uuid.UUID,
	gatewayRef string,
	success bool,
) (*ApplyOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row struct {
		BookingID     int64                `db:"booking_id"`
		Amount        float64              `db:"amount"`
		Currency      string               `db:"currency"`
		BikeID        int64                `db:"bike_id"`
		CustomerID    uuid.UUID            `db:"customer_id"`
		StartAt       time.Time            `db:"start_at"`
		EndAt         time.Time            `db:"end_at"`
		BookingStatus models.BookingStatus `db:"booking_status"`
	}
	err = tx.QueryRowxContext(ctx, `
		SELECT p.booking_id, p.amount, p.currency,
		       b.bike_id, b.customer_id, b.start_at, b.end_at,
		       b.status AS booking_status
		FROM payments p
		JOIN bookings b ON b.id = p.booking_id
		WHERE p.correlation_id = $1
	`, correlationID).StructScan(&row)
	if err == sql.ErrNoRows {
		return nil, models.ErrUnknownCorrelation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve correlation id: %w", err)
	}

	newStatus := models.BookingStatusActive
	paymentStatus := models.PaymentStatusSuccess
	if !success {
		newStatus = models.BookingStatusFailed
		paymentStatus = models.PaymentStatusFailed
	}

	outcome := &ApplyOutcome{
		CorrelationID:    correlationID,
		BookingID:        row.BookingID,
		BikeID:           row.BikeID,
		OldBookingStatus: row.BookingStatus,
		ExpectedAmount:   row.Amount,
		Currency:         row.Currency,
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, row.BookingID, newStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to transition booking: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		// Another result (or the sweep, or a cancel) already won the
		// transition out of pending. Re-read for an accurate current state:
		// the snapshot above may predate the winner's commit.
		var current models.BookingStatus
		if err := tx.QueryRowContext(ctx,
			`SELECT status FROM bookings WHERE id = $1`, row.BookingID,
		).Scan(&current); err != nil {
			return nil, fmt.Errorf("failed to read booking status: %w", err)
		}
		outcome.OldBookingStatus = current
		outcome.NewBookingStatus = current
		outcome.Idempotent = true
		return outcome, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status = $2, gateway_ref = $3, updated_at = NOW()
		WHERE correlation_id = $1 AND status = 'pending'
	`, correlationID, paymentStatus, gatewayRef)
	if err != nil {
		return nil, fmt.Errorf("failed to transition payment: %w", err)
	}

	if success {
		// ON CONFLICT backstop keeps the invoice unique per booking even if
		// a replayed correlation id ever raced past the status guard.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO invoices (booking_id, correlation_id, customer_id, bike_id, start_at, end_at, total, currency, gateway_ref, issued_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
			ON CONFLICT (booking_id) DO NOTHING
		`, row.BookingID, correlationID, row.CustomerID, row.BikeID,
			row.StartAt, row.EndAt, row.Amount, row.Currency, gatewayRef)
		if err != nil {
			return nil, fmt.Errorf("failed to create invoice: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit gateway result: %w", err)
	}

	outcome.NewBookingStatus = newStatus
	return outcome, nil
}

// CancelBooking transitions a pending booking to cancelled and fails its
// pending payment intents. Uses the same conditional guard as
// ApplyGatewayResult, so it cannot race a late gateway callback.
func (r *LedgerRepository) CancelBooking(ctx context.Context, bookingID int64) (*ApplyOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var bikeID int64
	err = tx.QueryRowContext(ctx, `
		UPDATE bookings SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING bike_id
	`, bookingID).Scan(&bikeID)
	if err == sql.ErrNoRows {
		return nil, models.ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status = 'failed', updated_at = NOW()
		WHERE booking_id = $1 AND status = 'pending'
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to fail payment intents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	return &ApplyOutcome{
		BookingID:        bookingID,
		BikeID:           bikeID,
		OldBookingStatus: models.BookingStatusPending,
		NewBookingStatus: models.BookingStatusCancelled,
	}, nil
}

// ExpireStaleHolds fails every pending booking older than the hold TTL and
// its pending payment intents. Returns the expired holds so the lifecycle
// manager can release the bikes. The status guard means a hold that receives
// a gateway result between the sweep's snapshot and its UPDATE is skipped.
func (r *LedgerRepository) ExpireStaleHolds(ctx context.Context, ttl time.Duration) ([]models.ExpiredHold, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := time.Now().Add(-ttl)
	var expired []models.ExpiredHold
	err = tx.SelectContext(ctx, &expired, `
		UPDATE bookings SET status = 'failed', updated_at = NOW()
		WHERE status = 'pending' AND created_at < $1
		RETURNING id, bike_id
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale holds: %w", err)
	}
	if len(expired) == 0 {
		return nil, tx.Commit()
	}

	bookingIDs := make([]int64, len(expired))
	for i, h := range expired {
		bookingIDs[i] = h.BookingID
	}

	query, args, err := sqlx.In(`
		UPDATE payments SET status = 'failed', updated_at = NOW()
		WHERE booking_id IN (?) AND status = 'pending'
	`, bookingIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build payment expiry query: %w", err)
	}
	query = r.db.Rebind(query)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fail expired payment intents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit hold expiry: %w", err)
	}
	return expired, nil
}
