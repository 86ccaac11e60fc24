package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// PaymentAuditRepository handles the immutable payment event trail.
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry.
// This should never fail silently - payment events must be logged.
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, correlation_id, booking_id, provider,
			event_type, event_source,
			expected_amount, received_amount, amounts_match,
			gateway_ref, raw_payload, error_message, is_duplicate,
			ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.CorrelationID, audit.BookingID, audit.Provider,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.AmountsMatch,
		audit.GatewayRef, audit.RawPayload, audit.ErrorMessage, audit.IsDuplicate,
		audit.IPAddress, audit.UserAgent, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":     audit.EventType,
			"correlation_id": audit.CorrelationID,
		}).Error("Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	return nil
}

// HasOutcomeApplied reports whether an outcome was already recorded for the
// correlation id. Replayed callbacks without one mean the booking left
// pending by some other path.
func (r *PaymentAuditRepository) HasOutcomeApplied(ctx context.Context, correlationID uuid.UUID) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM payment_audits
		WHERE correlation_id = $1 AND event_type = $2`

	err := r.db.GetContext(ctx, &count, query, correlationID, models.PaymentEventOutcomeApplied)
	if err != nil {
		return false, fmt.Errorf("failed to check prior outcomes: %w", err)
	}
	return count > 0, nil
}

// ListByCorrelationID returns the event trail for a correlation id, oldest
// first. Used by operator tooling.
func (r *PaymentAuditRepository) ListByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]models.PaymentAudit, error) {
	query := `
		SELECT id, correlation_id, booking_id, provider, event_type, event_source,
		       expected_amount, received_amount, amounts_match,
		       gateway_ref, raw_payload, error_message, is_duplicate,
		       ip_address, user_agent, created_at
		FROM payment_audits
		WHERE correlation_id = $1
		ORDER BY created_at ASC`

	var audits []models.PaymentAudit
	err := r.db.SelectContext(ctx, &audits, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment audits: %w", err)
	}
	return audits, nil
}
