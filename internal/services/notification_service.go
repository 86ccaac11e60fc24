package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pedalport/rental-backend/internal/config"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Notification routing keys.
const (
	eventBookingActivated = "booking.activated"
	eventBookingReleased  = "booking.released"
)

// NotificationDispatcher publishes booking lifecycle events for the
// notification subsystem. Dispatch is fire-and-forget: failures are logged,
// never propagated into the payment path.
type NotificationDispatcher interface {
	BookingActivated(ctx context.Context, booking *models.Booking)
	BookingReleased(ctx context.Context, bookingID, bikeID int64, newStatus models.BookingStatus)
}

// bookingEvent is the message body consumers receive.
type bookingEvent struct {
	BookingID int64                `json:"booking_id"`
	BikeID    int64                `json:"bike_id"`
	Status    models.BookingStatus `json:"status"`
	Total     float64              `json:"total,omitempty"`
	Currency  string               `json:"currency,omitempty"`
	EmittedAt time.Time            `json:"emitted_at"`
}

// AMQPDispatcher publishes events to a topic exchange.
type AMQPDispatcher struct {
	channel  *amqp.Channel
	exchange string
	logger   *logrus.Logger
}

// NewAMQPDispatcher connects to the broker and declares the exchange.
func NewAMQPDispatcher(cfg config.AMQPConfig, logger *logrus.Logger) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPDispatcher{
		channel:  ch,
		exchange: cfg.Exchange,
		logger:   logger,
	}, nil
}

// BookingActivated publishes a booking.activated event.
func (d *AMQPDispatcher) BookingActivated(_ context.Context, booking *models.Booking) {
	d.publish(eventBookingActivated, bookingEvent{
		BookingID: booking.ID,
		BikeID:    booking.BikeID,
		Status:    booking.Status,
		Total:     booking.TotalPrice,
		Currency:  booking.Currency,
		EmittedAt: time.Now(),
	})
}

// BookingReleased publishes a booking.released event.
func (d *AMQPDispatcher) BookingReleased(_ context.Context, bookingID, bikeID int64, newStatus models.BookingStatus) {
	d.publish(eventBookingReleased, bookingEvent{
		BookingID: bookingID,
		BikeID:    bikeID,
		Status:    newStatus,
		EmittedAt: time.Now(),
	})
}

func (d *AMQPDispatcher) publish(routingKey string, event bookingEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.WithError(err).Error("Failed to marshal notification event")
		return
	}
	err = d.channel.Publish(d.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   event.EmittedAt,
	})
	if err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"routing_key": routingKey,
			"booking_id":  event.BookingID,
		}).Error("Failed to publish notification event")
		return
	}
	d.logger.WithFields(logrus.Fields{
		"routing_key": routingKey,
		"booking_id":  event.BookingID,
	}).Debug("Notification event published")
}

// NoopDispatcher is used when no broker is configured.
type NoopDispatcher struct {
	logger *logrus.Logger
}

// NewNoopDispatcher creates a dispatcher that only logs.
func NewNoopDispatcher(logger *logrus.Logger) *NoopDispatcher {
	return &NoopDispatcher{logger: logger}
}

// BookingActivated logs the event and drops it.
func (d *NoopDispatcher) BookingActivated(_ context.Context, booking *models.Booking) {
	d.logger.WithField("booking_id", booking.ID).Debug("Notification dropped (no broker configured)")
}

// BookingReleased logs the event and drops it.
func (d *NoopDispatcher) BookingReleased(_ context.Context, bookingID, _ int64, _ models.BookingStatus) {
	d.logger.WithField("booking_id", bookingID).Debug("Notification dropped (no broker configured)")
}
