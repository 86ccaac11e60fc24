package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event being audited.
type PaymentEventType string

const (
	PaymentEventIntentOpened           PaymentEventType = "intent_opened"
	PaymentEventCheckoutBuilt          PaymentEventType = "checkout_built"
	PaymentEventCallbackReceived       PaymentEventType = "callback_received"
	PaymentEventCallbackRejected       PaymentEventType = "callback_rejected"
	PaymentEventOutcomeApplied         PaymentEventType = "outcome_applied"
	PaymentEventDuplicateCallback      PaymentEventType = "duplicate_callback"
	PaymentEventUnknownCorrelation     PaymentEventType = "unknown_correlation"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
	PaymentEventHoldExpired            PaymentEventType = "hold_expired"
)

// PaymentEventSource identifies where the event originated.
type PaymentEventSource string

const (
	PaymentSourceBackend        PaymentEventSource = "backend"
	PaymentSourceEsewaCallback  PaymentEventSource = "esewa_callback"
	PaymentSourceKhaltiCallback PaymentEventSource = "khalti_callback"
	PaymentSourceSweep          PaymentEventSource = "sweep"
)

// PaymentAudit is an immutable audit log entry for payment events. Raw bodies
// are kept verbatim; amount comparison is recorded so reconciliation
// mismatches can be alerted on without re-parsing payloads.
type PaymentAudit struct {
	ID            uuid.UUID          `json:"id" db:"id"`
	CorrelationID *uuid.UUID         `json:"correlation_id,omitempty" db:"correlation_id"`
	BookingID     *int64             `json:"booking_id,omitempty" db:"booking_id"`
	Provider      *string            `json:"provider,omitempty" db:"provider"`
	EventType     PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource   PaymentEventSource `json:"event_source" db:"event_source"`

	ExpectedAmount *float64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *float64 `json:"received_amount,omitempty" db:"received_amount"`
	AmountsMatch   *bool    `json:"amounts_match,omitempty" db:"amounts_match"`

	GatewayRef   *string `json:"gateway_ref,omitempty" db:"gateway_ref"`
	RawPayload   *string `json:"raw_payload,omitempty" db:"raw_payload"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
	IsDuplicate  bool    `json:"is_duplicate" db:"is_duplicate"`

	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates an audit entry with required fields set.
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetCorrelation attaches the correlation id.
func (pa *PaymentAudit) SetCorrelation(id uuid.UUID) *PaymentAudit {
	pa.CorrelationID = &id
	return pa
}

// SetBooking attaches the booking id.
func (pa *PaymentAudit) SetBooking(id int64) *PaymentAudit {
	pa.BookingID = &id
	return pa
}

// SetProvider attaches the gateway provider name.
func (pa *PaymentAudit) SetProvider(provider string) *PaymentAudit {
	pa.Provider = &provider
	return pa
}

// SetGatewayRef attaches the gateway-assigned reference.
func (pa *PaymentAudit) SetGatewayRef(ref string) *PaymentAudit {
	pa.GatewayRef = &ref
	return pa
}

// SetRawPayload stores the raw callback body or query string.
func (pa *PaymentAudit) SetRawPayload(raw string) *PaymentAudit {
	pa.RawPayload = &raw
	return pa
}

// SetError records an error message on the entry.
func (pa *PaymentAudit) SetError(msg string) *PaymentAudit {
	pa.ErrorMessage = &msg
	return pa
}

// SetClient records caller metadata from the HTTP request.
func (pa *PaymentAudit) SetClient(ip, userAgent string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	return pa
}

// SetAmounts records expected vs received amounts and returns whether they
// match within a one-cent tolerance.
func (pa *PaymentAudit) SetAmounts(expected, received float64) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received

	diff := expected - received
	if diff < 0 {
		diff = -diff
	}
	match := diff < 0.01
	pa.AmountsMatch = &match
	return match
}
