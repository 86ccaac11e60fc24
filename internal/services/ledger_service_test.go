package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pedalport/rental-backend/internal/database"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerServiceHarness(t *testing.T) (*LedgerService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	bikeRepo := database.NewBikeRepository(sqlxDB)
	bookingRepo := database.NewBookingRepository(sqlxDB)
	ledgerRepo := database.NewLedgerRepository(sqlxDB)
	auditRepo := database.NewPaymentAuditRepository(sqlxDB, logger)

	lifecycle := NewBookingLifecycleService(bikeRepo, bookingRepo, NewNoopDispatcher(logger), logger)
	return NewLedgerService(ledgerRepo, bookingRepo, auditRepo, lifecycle, "NPR", 15*time.Minute, logger), mock
}

func TestOpenPaymentIntentValidation(t *testing.T) {
	customerID := uuid.New()
	now := time.Now()

	bookingRow := func(owner uuid.UUID, status string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "customer_id", "bike_id", "start_at", "end_at", "total_price",
			"currency", "status", "created_at", "updated_at",
		}).AddRow(int64(42), owner, int64(7), now, now.AddDate(0, 0, 3), 1500.0, "NPR", status, now, now)
	}

	t.Run("Unknown Method", func(t *testing.T) {
		svc, mock := newLedgerServiceHarness(t)

		_, _, err := svc.OpenPaymentIntent(context.Background(), 42, customerID, "stripe")
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown Booking", func(t *testing.T) {
		svc, mock := newLedgerServiceHarness(t)
		mock.ExpectQuery(`SELECT (.+) FROM bookings`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, _, err := svc.OpenPaymentIntent(context.Background(), 42, customerID, models.PaymentMethodEsewa)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Other Customer's Booking", func(t *testing.T) {
		svc, mock := newLedgerServiceHarness(t)
		mock.ExpectQuery(`SELECT (.+) FROM bookings`).
			WithArgs(int64(42)).
			WillReturnRows(bookingRow(uuid.New(), "pending"))

		// Not disclosed as a state problem: foreign bookings read as absent.
		_, _, err := svc.OpenPaymentIntent(context.Background(), 42, customerID, models.PaymentMethodEsewa)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Booking Already Active", func(t *testing.T) {
		svc, mock := newLedgerServiceHarness(t)
		mock.ExpectQuery(`SELECT (.+) FROM bookings`).
			WithArgs(int64(42)).
			WillReturnRows(bookingRow(customerID, "active"))

		// Rejected before any transaction is opened.
		_, _, err := svc.OpenPaymentIntent(context.Background(), 42, customerID, models.PaymentMethodEsewa)
		assert.ErrorIs(t, err, models.ErrInvalidState)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Booking Cancelled", func(t *testing.T) {
		svc, mock := newLedgerServiceHarness(t)
		mock.ExpectQuery(`SELECT (.+) FROM bookings`).
			WithArgs(int64(42)).
			WillReturnRows(bookingRow(customerID, "cancelled"))

		_, _, err := svc.OpenPaymentIntent(context.Background(), 42, customerID, models.PaymentMethodEsewa)
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})
}

func TestBookingStatusIsTerminal(t *testing.T) {
	assert.False(t, models.BookingStatusPending.IsTerminal())
	assert.True(t, models.BookingStatusActive.IsTerminal())
	assert.True(t, models.BookingStatusFailed.IsTerminal())
	assert.True(t, models.BookingStatusCancelled.IsTerminal())
	assert.True(t, models.BookingStatusCompleted.IsTerminal())
}
