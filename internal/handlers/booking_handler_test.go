package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pedalport/rental-backend/internal/database"
	"github.com/pedalport/rental-backend/internal/middleware"
	"github.com/pedalport/rental-backend/internal/services"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bikeColumns = []string{
	"id", "owner_id", "name", "location", "daily_rate", "demand_factor",
	"location_factor", "available", "created_at", "updated_at",
}

// fakeCustomer injects an authenticated customer without going through JWT.
func fakeCustomer(customerID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.CustomerContextKey, middleware.CustomerContext{CustomerID: customerID})
		c.Next()
	}
}

func setupBookingRouter(t *testing.T, customerID uuid.UUID) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	bikeRepo := database.NewBikeRepository(sqlxDB)
	bookingRepo := database.NewBookingRepository(sqlxDB)
	invoiceRepo := database.NewInvoiceRepository(sqlxDB)
	ledgerRepo := database.NewLedgerRepository(sqlxDB)
	auditRepo := database.NewPaymentAuditRepository(sqlxDB, logger)

	pricing := services.NewPricingService(bikeRepo, "NPR")
	lifecycle := services.NewBookingLifecycleService(bikeRepo, bookingRepo, services.NewNoopDispatcher(logger), logger)
	ledger := services.NewLedgerService(ledgerRepo, bookingRepo, auditRepo, lifecycle, "NPR", 15*time.Minute, logger)

	handler := NewBookingHandler(pricing, ledger, bookingRepo, invoiceRepo, logger)

	router := gin.New()
	router.GET("/api/v1/bikes/:id/quote", handler.GetQuote)
	authed := router.Group("/api/v1/bookings", fakeCustomer(customerID))
	{
		authed.POST("", handler.CreateBooking)
		authed.GET("/:id", handler.GetBooking)
		authed.POST("/:id/cancel", handler.CancelBooking)
	}
	return router, mock
}

func TestGetQuote(t *testing.T) {
	customerID := uuid.New()
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		router, mock := setupBookingRouter(t, customerID)
		mock.ExpectQuery(`SELECT (.+) FROM bikes`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(bikeColumns).
				AddRow(int64(7), "owner-1", "City Cruiser", "Thamel", 500.0, 1.0, 1.0, true, now, now))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bikes/7/quote?days=3", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var quote map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quote))
		assert.Equal(t, 1500.0, quote["total"])
		assert.Equal(t, "NPR", quote["currency"])

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown Bike", func(t *testing.T) {
		router, mock := setupBookingRouter(t, customerID)
		mock.ExpectQuery(`SELECT (.+) FROM bikes`).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bikes/99/quote?days=3", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Invalid Days", func(t *testing.T) {
		router, _ := setupBookingRouter(t, customerID)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bikes/7/quote?days=0", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCreateBooking(t *testing.T) {
	customerID := uuid.New()
	now := time.Now()

	body := func() *bytes.Buffer {
		raw, _ := json.Marshal(map[string]interface{}{"bike_id": 7, "days": 3})
		return bytes.NewBuffer(raw)
	}

	t.Run("Success", func(t *testing.T) {
		router, mock := setupBookingRouter(t, customerID)
		mock.ExpectQuery(`SELECT (.+) FROM bikes`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(bikeColumns).
				AddRow(int64(7), "owner-1", "City Cruiser", "Thamel", 500.0, 1.0, 1.0, true, now, now))
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bikes`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO bookings`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(int64(42), now, now))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", body())
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"pending"`)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Bike Already Held", func(t *testing.T) {
		router, mock := setupBookingRouter(t, customerID)
		mock.ExpectQuery(`SELECT (.+) FROM bikes`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(bikeColumns).
				AddRow(int64(7), "owner-1", "City Cruiser", "Thamel", 500.0, 1.0, 1.0, false, now, now))
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bikes`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", body())
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "bike_unavailable")

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing Fields", func(t *testing.T) {
		router, _ := setupBookingRouter(t, customerID)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", bytes.NewBufferString(`{}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCancelBookingHandler(t *testing.T) {
	customerID := uuid.New()
	now := time.Now()

	bookingRow := func(owner uuid.UUID, status string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "customer_id", "bike_id", "start_at", "end_at", "total_price",
			"currency", "status", "created_at", "updated_at",
		}).AddRow(int64(42), owner, int64(7), now, now.AddDate(0, 0, 3), 1500.0, "NPR", status, now, now)
	}

	t.Run("Success", func(t *testing.T) {
		router, mock := setupBookingRouter(t, customerID)
		mock.ExpectQuery(`SELECT (.+) FROM bookings`).
			WithArgs(int64(42)).
			WillReturnRows(bookingRow(customerID, "pending"))
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE bookings`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"bike_id"}).AddRow(int64(7)))
		mock.ExpectExec(`UPDATE payments`).
			WithArgs(int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		// Lifecycle releases the bike after the cancellation commits.
		mock.ExpectExec(`UPDATE bikes`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/42/cancel", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Other Customer's Booking", func(t *testing.T) {
		router, mock := setupBookingRouter(t, customerID)
		mock.ExpectQuery(`SELECT (.+) FROM bookings`).
			WithArgs(int64(42)).
			WillReturnRows(bookingRow(uuid.New(), "pending"))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/42/cancel", nil)
		router.ServeHTTP(w, req)

		// Not 403: existence of other customers' bookings is not disclosed.
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Already Active", func(t *testing.T) {
		router, mock := setupBookingRouter(t, customerID)
		mock.ExpectQuery(`SELECT (.+) FROM bookings`).
			WithArgs(int64(42)).
			WillReturnRows(bookingRow(customerID, "active"))
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE bookings`).
			WithArgs(int64(42)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/42/cancel", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
