package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pedalport/rental-backend/internal/database"
	"github.com/pedalport/rental-backend/internal/gateway"
	"github.com/pedalport/rental-backend/internal/metrics"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// LedgerService fronts the transaction ledger: it validates caller input,
// delegates the conditional transitions to the LedgerRepository and drives
// the lifecycle manager after each committed transition. It is the only
// mutation surface other subsystems may call.
type LedgerService struct {
	ledgerRepo  *database.LedgerRepository
	bookingRepo *database.BookingRepository
	auditRepo   *database.PaymentAuditRepository
	lifecycle   *BookingLifecycleService
	currency    string
	holdTTL     time.Duration
	logger      *logrus.Logger
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(
	ledgerRepo *database.LedgerRepository,
	bookingRepo *database.BookingRepository,
	auditRepo *database.PaymentAuditRepository,
	lifecycle *BookingLifecycleService,
	currency string,
	holdTTL time.Duration,
	logger *logrus.Logger,
) *LedgerService {
	return &LedgerService{
		ledgerRepo:  ledgerRepo,
		bookingRepo: bookingRepo,
		auditRepo:   auditRepo,
		lifecycle:   lifecycle,
		currency:    currency,
		holdTTL:     holdTTL,
		logger:      logger,
	}
}

// OpenBooking creates a pending booking with the bike held unavailable.
// Fails with ErrBikeUnavailable when another non-terminal booking already
// holds the bike.
func (s *LedgerService) OpenBooking(
	ctx context.Context,
	customerID uuid.UUID,
	bikeID int64,
	startAt, endAt time.Time,
	price float64,
) (*models.Booking, error) {
	if !endAt.After(startAt) {
		return nil, fmt.Errorf("end must be after start: %w", models.ErrInvalidArgument)
	}
	if price < 0 {
		return nil, fmt.Errorf("price must be non-negative: %w", models.ErrInvalidArgument)
	}

	booking := &models.Booking{
		CustomerID: customerID,
		BikeID:     bikeID,
		StartAt:    startAt,
		EndAt:      endAt,
		TotalPrice: price,
		Currency:   s.currency,
	}
	if err := s.ledgerRepo.OpenBooking(ctx, booking); err != nil {
		return nil, err
	}

	metrics.IncBookingOpened()
	s.logger.WithFields(logrus.Fields{
		"booking_id":  booking.ID,
		"customer_id": customerID,
		"bike_id":     bikeID,
		"total_price": price,
		"expires_at":  booking.CreatedAt.Add(s.holdTTL),
	}).Info("Booking opened, bike held")

	return booking, nil
}

// OpenPaymentIntent opens a fresh payment intent for a pending booking owned
// by the customer. Any prior live intent for the booking is superseded.
func (s *LedgerService) OpenPaymentIntent(
	ctx context.Context,
	bookingID int64,
	customerID uuid.UUID,
	method models.PaymentMethod,
) (*models.Payment, *models.Booking, error) {
	if !method.Valid() {
		return nil, nil, fmt.Errorf("unknown payment method %q: %w", method, models.ErrInvalidArgument)
	}

	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if booking == nil {
		return nil, nil, fmt.Errorf("booking %d: %w", bookingID, models.ErrNotFound)
	}
	if booking.CustomerID != customerID {
		return nil, nil, fmt.Errorf("booking %d belongs to another customer: %w", bookingID, models.ErrNotFound)
	}
	// Cheap pre-check; the repository re-verifies under a row lock.
	if booking.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, models.ErrInvalidState)
	}

	payment, err := s.ledgerRepo.OpenPaymentIntent(ctx, bookingID, booking.TotalPrice, booking.Currency, method)
	if err != nil {
		return nil, nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":     bookingID,
		"correlation_id": payment.CorrelationID,
		"method":         method,
		"amount":         payment.Amount,
	}).Info("Payment intent opened")

	return payment, booking, nil
}

// ApplyGatewayResult commits a normalized gateway result against the ledger
// and lets the lifecycle manager react to the transition. Duplicate results
// are reported idempotent, never re-applied.
func (s *LedgerService) ApplyGatewayResult(ctx context.Context, result *gateway.NormalizedResult) (*database.ApplyOutcome, error) {
	outcome, err := s.ledgerRepo.ApplyGatewayResult(
		ctx,
		result.CorrelationID,
		result.GatewayRef,
		result.Outcome == gateway.OutcomeSuccess,
	)
	if err != nil {
		return nil, err
	}

	if outcome.Idempotent {
		metrics.IncIdempotentReplay()
		s.logger.WithFields(logrus.Fields{
			"correlation_id": result.CorrelationID,
			"booking_id":     outcome.BookingID,
			"current_state":  outcome.NewBookingStatus,
		}).Info("Duplicate gateway result ignored")
		return outcome, nil
	}

	s.logger.WithFields(logrus.Fields{
		"correlation_id": result.CorrelationID,
		"booking_id":     outcome.BookingID,
		"gateway_ref":    result.GatewayRef,
		"new_state":      outcome.NewBookingStatus,
	}).Info("Gateway result applied")

	s.lifecycle.OnBookingStateChanged(ctx, outcome.BookingID, outcome.BikeID,
		outcome.OldBookingStatus, outcome.NewBookingStatus)
	return outcome, nil
}

// CancelBooking cancels a customer's pending booking and releases the bike.
func (s *LedgerService) CancelBooking(ctx context.Context, bookingID int64, customerID uuid.UUID) error {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking == nil || booking.CustomerID != customerID {
		return fmt.Errorf("booking %d: %w", bookingID, models.ErrNotFound)
	}

	outcome, err := s.ledgerRepo.CancelBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":  bookingID,
		"customer_id": customerID,
	}).Info("Booking cancelled")

	s.lifecycle.OnBookingStateChanged(ctx, outcome.BookingID, outcome.BikeID,
		outcome.OldBookingStatus, outcome.NewBookingStatus)
	return nil
}

// ExpireStaleHolds fails pending bookings past the hold TTL and releases
// their bikes. Called by the background sweep.
func (s *LedgerService) ExpireStaleHolds(ctx context.Context) (int, error) {
	expired, err := s.ledgerRepo.ExpireStaleHolds(ctx, s.holdTTL)
	if err != nil {
		return 0, err
	}
	for _, hold := range expired {
		audit := models.NewPaymentAudit(models.PaymentEventHoldExpired, models.PaymentSourceSweep).
			SetBooking(hold.BookingID)
		if auditErr := s.auditRepo.Log(ctx, audit); auditErr != nil {
			s.logger.WithError(auditErr).WithField("booking_id", hold.BookingID).
				Error("Failed to record hold expiry")
		}
		s.lifecycle.OnBookingStateChanged(ctx, hold.BookingID, hold.BikeID,
			models.BookingStatusPending, models.BookingStatusFailed)
	}
	if len(expired) > 0 {
		metrics.AddHoldsExpired(len(expired))
	}
	return len(expired), nil
}

// GetBooking retrieves a booking owned by the customer.
func (s *LedgerService) GetBooking(ctx context.Context, bookingID int64, customerID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil || booking.CustomerID != customerID {
		return nil, fmt.Errorf("booking %d: %w", bookingID, models.ErrNotFound)
	}
	return booking, nil
}
