package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/mssola/user_agent"
	"github.com/pedalport/rental-backend/internal/database"
	"github.com/pedalport/rental-backend/internal/gateway"
	"github.com/pedalport/rental-backend/internal/metrics"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// CallbackMeta carries request metadata for the audit trail.
type CallbackMeta struct {
	IP        string
	UserAgent string
	RawQuery  string
}

// CallbackAck is the reconciliation verdict on one callback delivery. Status
// is the HTTP status the handler must answer with: anything below 500 tells
// the gateway to stop retrying this delivery.
type CallbackAck struct {
	Status     int    `json:"-"`
	Result     string `json:"result"`
	BookingID  int64  `json:"booking_id,omitempty"`
	Idempotent bool   `json:"idempotent,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ReconciliationService is the single entry point for gateway callbacks. It
// verifies the callback through the provider adapter, applies the normalized
// result to the ledger exactly once, and records every delivery in the audit
// trail, including the ones it refuses to act on.
type ReconciliationService struct {
	registry    *gateway.Registry
	ledger      *LedgerService
	paymentRepo *database.BookingRepository
	auditRepo   *database.PaymentAuditRepository
	logger      *logrus.Logger
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	registry *gateway.Registry,
	ledger *LedgerService,
	paymentRepo *database.BookingRepository,
	auditRepo *database.PaymentAuditRepository,
	logger *logrus.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		registry:    registry,
		ledger:      ledger,
		paymentRepo: paymentRepo,
		auditRepo:   auditRepo,
		logger:      logger,
	}
}

// HandleCallback processes one callback delivery from a provider.
//
// Ack contract: deliveries the system can never act on (bad signature,
// malformed payload, unknown correlation id) are acknowledged so the gateway
// stops retrying; only storage failures return a retryable status.
func (s *ReconciliationService) HandleCallback(
	ctx context.Context,
	provider string,
	params url.Values,
	meta CallbackMeta,
) *CallbackAck {
	adapter, err := s.registry.Lookup(provider)
	if err != nil {
		metrics.IncCallback(provider, "unknown_provider")
		return &CallbackAck{
			Status:  http.StatusNotFound,
			Result:  "rejected",
			Message: fmt.Sprintf("unknown provider %q", provider),
		}
	}
	source := callbackSource(provider)

	result, err := adapter.ParseCallback(ctx, params)
	if err != nil {
		return s.ackParseFailure(ctx, provider, source, meta, err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"provider":       provider,
		"correlation_id": result.CorrelationID,
		"gateway_ref":    result.GatewayRef,
		"outcome":        result.Outcome,
	})

	received := models.NewPaymentAudit(models.PaymentEventCallbackReceived, source).
		SetProvider(provider).
		SetCorrelation(result.CorrelationID).
		SetGatewayRef(result.GatewayRef).
		SetRawPayload(meta.RawQuery).
		SetClient(meta.IP, describeUserAgent(meta.UserAgent))
	if err := s.auditRepo.Log(ctx, received); err != nil {
		log.WithError(err).Error("Failed to record callback receipt")
	}

	s.checkAmounts(ctx, provider, source, meta, result, log)

	outcome, err := s.ledger.ApplyGatewayResult(ctx, result)
	if err != nil {
		if errors.Is(err, models.ErrUnknownCorrelation) {
			log.Warn("Callback references no known payment intent")
			unknown := models.NewPaymentAudit(models.PaymentEventUnknownCorrelation, source).
				SetProvider(provider).
				SetCorrelation(result.CorrelationID).
				SetGatewayRef(result.GatewayRef).
				SetRawPayload(meta.RawQuery).
				SetClient(meta.IP, describeUserAgent(meta.UserAgent))
			if auditErr := s.auditRepo.Log(ctx, unknown); auditErr != nil {
				log.WithError(auditErr).Error("Failed to record unknown-correlation callback")
			}
			metrics.IncCallback(provider, "unknown_correlation")
			// Retrying cannot make the correlation id known.
			return &CallbackAck{
				Status:  http.StatusOK,
				Result:  "unmatched",
				Message: "no payment intent matches this callback",
			}
		}

		log.WithError(err).Error("Failed to apply gateway result")
		metrics.IncCallback(provider, "storage_error")
		return &CallbackAck{
			Status:  http.StatusBadGateway,
			Result:  "retry",
			Message: "transient failure, retry delivery",
		}
	}

	if outcome.Idempotent {
		// A replay with no applied outcome on record means the booking left
		// pending some other way (sweep, cancel) before this verdict landed.
		if applied, checkErr := s.auditRepo.HasOutcomeApplied(ctx, result.CorrelationID); checkErr != nil {
			log.WithError(checkErr).Error("Failed to check prior outcomes")
		} else if !applied {
			log.Warn("Gateway result arrived after the booking left pending without one")
		}

		dup := models.NewPaymentAudit(models.PaymentEventDuplicateCallback, source).
			SetProvider(provider).
			SetCorrelation(result.CorrelationID).
			SetBooking(outcome.BookingID).
			SetGatewayRef(result.GatewayRef).
			SetRawPayload(meta.RawQuery).
			SetClient(meta.IP, describeUserAgent(meta.UserAgent))
		dup.IsDuplicate = true
		if err := s.auditRepo.Log(ctx, dup); err != nil {
			log.WithError(err).Error("Failed to record duplicate callback")
		}
		metrics.IncCallback(provider, "duplicate")
		return &CallbackAck{
			Status:     http.StatusOK,
			Result:     string(outcome.NewBookingStatus),
			BookingID:  outcome.BookingID,
			Idempotent: true,
		}
	}

	applied := models.NewPaymentAudit(models.PaymentEventOutcomeApplied, source).
		SetProvider(provider).
		SetCorrelation(result.CorrelationID).
		SetBooking(outcome.BookingID).
		SetGatewayRef(result.GatewayRef).
		SetRawPayload(meta.RawQuery).
		SetClient(meta.IP, describeUserAgent(meta.UserAgent))
	if err := s.auditRepo.Log(ctx, applied); err != nil {
		log.WithError(err).Error("Failed to record applied outcome")
	}
	metrics.IncCallback(provider, string(result.Outcome))

	return &CallbackAck{
		Status:    http.StatusOK,
		Result:    string(outcome.NewBookingStatus),
		BookingID: outcome.BookingID,
	}
}

// ackParseFailure records and acknowledges callbacks the adapter refused.
func (s *ReconciliationService) ackParseFailure(
	ctx context.Context,
	provider string,
	source models.PaymentEventSource,
	meta CallbackMeta,
	err error,
) *CallbackAck {
	if errors.Is(err, models.ErrPendingOutcome) {
		// The gateway has no final verdict yet; the next delivery will.
		s.logger.WithField("provider", provider).Info("Callback outcome still pending at gateway")
		metrics.IncCallback(provider, "pending")
		return &CallbackAck{
			Status:  http.StatusOK,
			Result:  "pending",
			Message: "gateway outcome not final yet",
		}
	}

	if errors.Is(err, models.ErrGatewayUnreachable) {
		// Verification failed, the callback didn't. Same retryable contract
		// as a ledger storage failure: redelivery can succeed.
		s.logger.WithError(err).WithField("provider", provider).
			Warn("Gateway verification unavailable, asking for redelivery")
		metrics.IncCallback(provider, "gateway_unreachable")
		return &CallbackAck{
			Status:  http.StatusBadGateway,
			Result:  "retry",
			Message: "verification unavailable, retry delivery",
		}
	}

	s.logger.WithError(err).WithField("provider", provider).Warn("Rejected gateway callback")

	rejected := models.NewPaymentAudit(models.PaymentEventCallbackRejected, source).
		SetProvider(provider).
		SetRawPayload(meta.RawQuery).
		SetError(err.Error()).
		SetClient(meta.IP, describeUserAgent(meta.UserAgent))
	if auditErr := s.auditRepo.Log(ctx, rejected); auditErr != nil {
		s.logger.WithError(auditErr).Error("Failed to record rejected callback")
	}

	reason := "rejected"
	if errors.Is(err, models.ErrBadSignature) {
		reason = "bad_signature"
	} else if errors.Is(err, models.ErrMalformedPayload) {
		reason = "malformed"
	}
	metrics.IncCallback(provider, reason)

	// The payload itself is unusable, so redelivery of the same bytes is
	// pointless. Client error, ledger untouched.
	return &CallbackAck{
		Status:  http.StatusBadRequest,
		Result:  "rejected",
		Message: "callback could not be verified",
	}
}

// checkAmounts compares the callback amount against the opened intent and
// records a mismatch event. Mismatches do not block the outcome: the signed
// verdict wins, the trail flags the discrepancy for operators.
func (s *ReconciliationService) checkAmounts(
	ctx context.Context,
	provider string,
	source models.PaymentEventSource,
	meta CallbackMeta,
	result *gateway.NormalizedResult,
	log *logrus.Entry,
) {
	if result.RawAmount <= 0 {
		return
	}
	payment, err := s.paymentRepo.GetPaymentByCorrelationID(ctx, result.CorrelationID)
	if err != nil {
		log.WithError(err).Warn("Could not load payment for amount check")
		return
	}
	if payment == nil {
		return
	}

	mismatch := models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, source).
		SetProvider(provider).
		SetCorrelation(result.CorrelationID).
		SetBooking(payment.BookingID).
		SetGatewayRef(result.GatewayRef).
		SetRawPayload(meta.RawQuery)
	if mismatch.SetAmounts(payment.Amount, result.RawAmount) {
		return
	}

	log.WithFields(logrus.Fields{
		"expected_amount": payment.Amount,
		"received_amount": result.RawAmount,
	}).Error("Callback amount does not match payment intent")
	if err := s.auditRepo.Log(ctx, mismatch); err != nil {
		log.WithError(err).Error("Failed to record amount mismatch")
	}
}

// Trail returns the audit trail for a correlation id. The caller must own the
// booking behind the payment; anything else reads as not found so foreign
// correlation ids are not probeable.
func (s *ReconciliationService) Trail(ctx context.Context, correlationID string, customerID uuid.UUID) ([]models.PaymentAudit, error) {
	id, err := uuid.Parse(correlationID)
	if err != nil {
		return nil, fmt.Errorf("bad correlation id %q: %w", correlationID, models.ErrInvalidArgument)
	}

	payment, err := s.paymentRepo.GetPaymentByCorrelationID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("correlation id %s: %w", id, models.ErrNotFound)
	}
	booking, err := s.paymentRepo.GetByID(ctx, payment.BookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil || booking.CustomerID != customerID {
		return nil, fmt.Errorf("correlation id %s: %w", id, models.ErrNotFound)
	}

	return s.auditRepo.ListByCorrelationID(ctx, id)
}

func callbackSource(provider string) models.PaymentEventSource {
	switch provider {
	case string(models.PaymentMethodEsewa):
		return models.PaymentSourceEsewaCallback
	case string(models.PaymentMethodKhalti):
		return models.PaymentSourceKhaltiCallback
	default:
		return models.PaymentSourceBackend
	}
}

// describeUserAgent reduces a raw User-Agent header to a short readable form.
func describeUserAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := user_agent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return raw
	}
	desc := name
	if version != "" {
		desc += " " + version
	}
	if os := ua.OS(); os != "" {
		desc += " on " + os
	}
	return desc
}
