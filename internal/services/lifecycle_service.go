package services

import (
	"context"

	"github.com/pedalport/rental-backend/internal/database"
	"github.com/pedalport/rental-backend/internal/metrics"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// BookingLifecycleService owns the bike-availability side effects of booking
// state transitions. It is the only code path that flips the availability
// flag after the initial hold, so future lifecycle states (ride start,
// damage holds) can add rules here without touching the payment state
// machine.
type BookingLifecycleService struct {
	bikeRepo    *database.BikeRepository
	bookingRepo *database.BookingRepository
	notifier    NotificationDispatcher
	logger      *logrus.Logger
}

// NewBookingLifecycleService creates a new BookingLifecycleService
func NewBookingLifecycleService(
	bikeRepo *database.BikeRepository,
	bookingRepo *database.BookingRepository,
	notifier NotificationDispatcher,
	logger *logrus.Logger,
) *BookingLifecycleService {
	return &BookingLifecycleService{
		bikeRepo:    bikeRepo,
		bookingRepo: bookingRepo,
		notifier:    notifier,
		logger:      logger,
	}
}

// OnBookingStateChanged reacts to a committed booking transition. Invoked by
// the ledger service after each transition; never before commit.
func (s *BookingLifecycleService) OnBookingStateChanged(
	ctx context.Context,
	bookingID, bikeID int64,
	oldState, newState models.BookingStatus,
) {
	if oldState == newState {
		return
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"bike_id":    bikeID,
		"old_state":  oldState,
		"new_state":  newState,
	})

	switch newState {
	case models.BookingStatusFailed, models.BookingStatusCancelled, models.BookingStatusCompleted:
		// The hold was taken when the booking opened; every path out of the
		// rental returns the bike to the catalog.
		if err := s.bikeRepo.Release(ctx, bikeID); err != nil {
			log.WithError(err).Error("Failed to release bike")
		} else {
			log.Info("Bike released")
			metrics.IncBikeReleased()
		}
		s.notifier.BookingReleased(ctx, bookingID, bikeID, newState)

	case models.BookingStatusActive:
		// Bike stays held; tell the customer their rental is live.
		log.Info("Booking activated, bike remains held")
		booking, err := s.bookingRepo.GetByID(ctx, bookingID)
		if err != nil || booking == nil {
			log.WithError(err).Warn("Could not load booking for activation notice")
			return
		}
		s.notifier.BookingActivated(ctx, booking)
	}
}
