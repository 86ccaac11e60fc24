package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T) (*LedgerRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewLedgerRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestOpenBooking(t *testing.T) {
	repo, mock := newMockLedger(t)
	customerID := uuid.New()
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bikes`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO bookings`).
			WithArgs(customerID, int64(7), sqlmock.AnyArg(), sqlmock.AnyArg(), 1500.00, "NPR", models.BookingStatusPending).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(int64(42), now, now))
		mock.ExpectCommit()

		booking := &models.Booking{
			CustomerID: customerID,
			BikeID:     7,
			StartAt:    now,
			EndAt:      now.AddDate(0, 0, 3),
			TotalPrice: 1500.00,
			Currency:   "NPR",
		}
		err := repo.OpenBooking(context.Background(), booking)
		require.NoError(t, err)
		assert.Equal(t, int64(42), booking.ID)
		assert.Equal(t, models.BookingStatusPending, booking.Status)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Bike Already Held", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bikes`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		booking := &models.Booking{CustomerID: customerID, BikeID: 7}
		err := repo.OpenBooking(context.Background(), booking)
		assert.ErrorIs(t, err, models.ErrBikeUnavailable)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOpenPaymentIntent(t *testing.T) {
	repo, mock := newMockLedger(t)
	now := time.Now()

	t.Run("Success Purges Stale Intents", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM bookings`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
		mock.ExpectExec(`DELETE FROM payments`).
			WithArgs(int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO payments`).
			WithArgs(sqlmock.AnyArg(), int64(42), 1500.00, "NPR", models.PaymentMethodEsewa, models.PaymentStatusPending).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectCommit()

		payment, err := repo.OpenPaymentIntent(context.Background(), 42, 1500.00, "NPR", models.PaymentMethodEsewa)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, payment.CorrelationID)
		assert.Equal(t, int64(42), payment.BookingID)
		assert.Equal(t, models.PaymentStatusPending, payment.Status)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Booking Not Found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM bookings`).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := repo.OpenPaymentIntent(context.Background(), 99, 1500.00, "NPR", models.PaymentMethodEsewa)
		assert.ErrorIs(t, err, models.ErrNotFound)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Booking Not Pending", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM bookings`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
		mock.ExpectRollback()

		_, err := repo.OpenPaymentIntent(context.Background(), 42, 1500.00, "NPR", models.PaymentMethodKhalti)
		assert.ErrorIs(t, err, models.ErrInvalidState)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestApplyGatewayResult(t *testing.T) {
	repo, mock := newMockLedger(t)
	correlationID := uuid.New()
	customerID := uuid.New()
	now := time.Now()

	resolveColumns := []string{
		"booking_id", "amount", "currency", "bike_id", "customer_id",
		"start_at", "end_at", "booking_status",
	}
	pendingRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(resolveColumns).
			AddRow(int64(42), 1500.00, "NPR", int64(7), customerID, now, now.AddDate(0, 0, 3), "pending")
	}

	t.Run("Success Activates And Issues Invoice", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT p.booking_id`).
			WithArgs(correlationID).
			WillReturnRows(pendingRow())
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(int64(42), models.BookingStatusActive).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE payments`).
			WithArgs(correlationID, models.PaymentStatusSuccess, "000AWEO").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO invoices`).
			WithArgs(int64(42), correlationID, customerID, int64(7),
				sqlmock.AnyArg(), sqlmock.AnyArg(), 1500.00, "NPR", "000AWEO").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		outcome, err := repo.ApplyGatewayResult(context.Background(), correlationID, "000AWEO", true)
		require.NoError(t, err)
		assert.False(t, outcome.Idempotent)
		assert.Equal(t, int64(42), outcome.BookingID)
		assert.Equal(t, int64(7), outcome.BikeID)
		assert.Equal(t, models.BookingStatusPending, outcome.OldBookingStatus)
		assert.Equal(t, models.BookingStatusActive, outcome.NewBookingStatus)
		assert.Equal(t, 1500.00, outcome.ExpectedAmount)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failure Skips Invoice", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT p.booking_id`).
			WithArgs(correlationID).
			WillReturnRows(pendingRow())
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(int64(42), models.BookingStatusFailed).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE payments`).
			WithArgs(correlationID, models.PaymentStatusFailed, "000AWEO").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		outcome, err := repo.ApplyGatewayResult(context.Background(), correlationID, "000AWEO", false)
		require.NoError(t, err)
		assert.False(t, outcome.Idempotent)
		assert.Equal(t, models.BookingStatusFailed, outcome.NewBookingStatus)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Duplicate Is Idempotent", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT p.booking_id`).
			WithArgs(correlationID).
			WillReturnRows(pendingRow())
		// The conditional transition finds the booking already out of pending.
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(int64(42), models.BookingStatusActive).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM bookings`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
		mock.ExpectRollback()

		outcome, err := repo.ApplyGatewayResult(context.Background(), correlationID, "000AWEO", true)
		require.NoError(t, err)
		assert.True(t, outcome.Idempotent)
		assert.Equal(t, models.BookingStatusActive, outcome.NewBookingStatus)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown Correlation", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT p.booking_id`).
			WithArgs(correlationID).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := repo.ApplyGatewayResult(context.Background(), correlationID, "000AWEO", true)
		assert.ErrorIs(t, err, models.ErrUnknownCorrelation)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Storage Error", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT p.booking_id`).
			WithArgs(correlationID).
			WillReturnError(fmt.Errorf("connection reset"))
		mock.ExpectRollback()

		_, err := repo.ApplyGatewayResult(context.Background(), correlationID, "000AWEO", true)
		require.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrUnknownCorrelation)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCancelBooking(t *testing.T) {
	repo, mock := newMockLedger(t)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE bookings`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"bike_id"}).AddRow(int64(7)))
		mock.ExpectExec(`UPDATE payments`).
			WithArgs(int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		outcome, err := repo.CancelBooking(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, int64(7), outcome.BikeID)
		assert.Equal(t, models.BookingStatusCancelled, outcome.NewBookingStatus)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Already Left Pending", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE bookings`).
			WithArgs(int64(42)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := repo.CancelBooking(context.Background(), 42)
		assert.ErrorIs(t, err, models.ErrInvalidState)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExpireStaleHolds(t *testing.T) {
	repo, mock := newMockLedger(t)

	t.Run("Expires And Fails Intents", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE bookings`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "bike_id"}).
				AddRow(int64(42), int64(7)).
				AddRow(int64(43), int64(8)))
		mock.ExpectExec(`UPDATE payments`).
			WithArgs(int64(42), int64(43)).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		expired, err := repo.ExpireStaleHolds(context.Background(), 15*time.Minute)
		require.NoError(t, err)
		require.Len(t, expired, 2)
		assert.Equal(t, int64(42), expired[0].BookingID)
		assert.Equal(t, int64(7), expired[0].BikeID)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nothing Stale", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE bookings`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "bike_id"}))
		mock.ExpectCommit()

		expired, err := repo.ExpireStaleHolds(context.Background(), 15*time.Minute)
		require.NoError(t, err)
		assert.Empty(t, expired)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
