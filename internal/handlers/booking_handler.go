package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pedalport/rental-backend/internal/database"
	"github.com/pedalport/rental-backend/internal/middleware"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/pedalport/rental-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// BookingHandler handles quote and booking endpoints.
type BookingHandler struct {
	pricingService *services.PricingService
	ledgerService  *services.LedgerService
	bookingRepo    *database.BookingRepository
	invoiceRepo    *database.InvoiceRepository
	logger         *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(
	pricingService *services.PricingService,
	ledgerService *services.LedgerService,
	bookingRepo *database.BookingRepository,
	invoiceRepo *database.InvoiceRepository,
	logger *logrus.Logger,
) *BookingHandler {
	return &BookingHandler{
		pricingService: pricingService,
		ledgerService:  ledgerService,
		bookingRepo:    bookingRepo,
		invoiceRepo:    invoiceRepo,
		logger:         logger,
	}
}

// GetQuote handles GET /api/v1/bikes/:id/quote?days=N
func (h *BookingHandler) GetQuote(c *gin.Context) {
	bikeID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid bike id",
		})
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid days parameter",
		})
		return
	}

	quote, err := h.pricingService.Quote(c.Request.Context(), bikeID, days)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to compute quote")
		return
	}

	c.JSON(http.StatusOK, quote)
}

// CreateBooking handles POST /api/v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	customerCtx, ok := middleware.GetCustomerContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	quote, err := h.pricingService.Quote(c.Request.Context(), req.BikeID, req.Days)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to price booking")
		return
	}

	startAt := time.Now()
	if req.StartAt != nil {
		startAt = *req.StartAt
	}
	endAt := startAt.AddDate(0, 0, req.Days)

	booking, err := h.ledgerService.OpenBooking(
		c.Request.Context(),
		customerCtx.CustomerID,
		req.BikeID,
		startAt, endAt,
		quote.Total,
	)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to open booking")
		return
	}

	c.JSON(http.StatusCreated, models.BookingResponse{
		Booking: booking,
		Quote:   quote,
	})
}

// GetBooking handles GET /api/v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	customerCtx, ok := middleware.GetCustomerContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bookingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid booking id",
		})
		return
	}

	booking, err := h.ledgerService.GetBooking(c.Request.Context(), bookingID, customerCtx.CustomerID)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to get booking")
		return
	}

	c.JSON(http.StatusOK, models.BookingResponse{Booking: booking})
}

// ListBookings handles GET /api/v1/bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	customerCtx, ok := middleware.GetCustomerContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	bookings, err := h.bookingRepo.GetByCustomer(c.Request.Context(), customerCtx.CustomerID, limit, offset)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to list bookings")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// CancelBooking handles POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	customerCtx, ok := middleware.GetCustomerContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bookingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid booking id",
		})
		return
	}

	if err := h.ledgerService.CancelBooking(c.Request.Context(), bookingID, customerCtx.CustomerID); err != nil {
		respondServiceError(c, h.logger, err, "Failed to cancel booking")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Booking cancelled",
		"booking_id": bookingID,
	})
}

// GetInvoice handles GET /api/v1/bookings/:id/invoice
func (h *BookingHandler) GetInvoice(c *gin.Context) {
	customerCtx, ok := middleware.GetCustomerContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bookingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid booking id",
		})
		return
	}

	// Ownership check first so invoices never leak across customers.
	if _, err := h.ledgerService.GetBooking(c.Request.Context(), bookingID, customerCtx.CustomerID); err != nil {
		respondServiceError(c, h.logger, err, "Failed to get booking")
		return
	}

	invoice, err := h.invoiceRepo.GetByBookingID(c.Request.Context(), bookingID)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to get invoice")
		return
	}
	if invoice == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No invoice issued for this booking",
		})
		return
	}

	c.JSON(http.StatusOK, invoice)
}

// respondServiceError maps service-layer sentinel errors to HTTP responses.
func respondServiceError(c *gin.Context, logger *logrus.Logger, err error, logMsg string) {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, models.ErrBikeUnavailable):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "bike_unavailable",
			"message": "The bike is already held by another booking",
		})
	case errors.Is(err, models.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": "The booking is not in a state that allows this operation",
		})
	default:
		logger.WithError(err).Error(logMsg)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}
