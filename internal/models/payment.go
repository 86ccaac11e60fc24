package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod identifies the external gateway a payment runs through.
type PaymentMethod string

const (
	PaymentMethodEsewa  PaymentMethod = "esewa"
	PaymentMethodKhalti PaymentMethod = "khalti"
)

// Valid reports whether the method names a supported gateway.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodEsewa || m == PaymentMethodKhalti
}

// PaymentStatus represents the state of a payment intent.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Payment is a payment intent row. CorrelationID is generated before any
// gateway interaction and is the only join key recovered from callbacks;
// GatewayRef is populated once a callback arrives.
type Payment struct {
	CorrelationID uuid.UUID     `json:"correlation_id" db:"correlation_id"`
	BookingID     int64         `json:"booking_id" db:"booking_id"`
	Amount        float64       `json:"amount" db:"amount"`
	Currency      string        `json:"currency" db:"currency"`
	Method        PaymentMethod `json:"method" db:"method"`
	Status        PaymentStatus `json:"status" db:"status"`
	GatewayRef    *string       `json:"gateway_ref,omitempty" db:"gateway_ref"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// InitiatePaymentRequest is the payment-initiation request body.
type InitiatePaymentRequest struct {
	BookingID int64         `json:"booking_id" binding:"required"`
	Method    PaymentMethod `json:"method" binding:"required"`
}

// InitiatePaymentResponse carries whatever the selected gateway needs for the
// redirect: form fields for the HMAC form provider, a URL for the
// lookup-verified provider.
type InitiatePaymentResponse struct {
	CorrelationID uuid.UUID         `json:"correlation_id"`
	Provider      string            `json:"provider"`
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	RedirectURL   string            `json:"redirect_url,omitempty"`
	FormAction    string            `json:"form_action,omitempty"`
	FormFields    map[string]string `json:"form_fields,omitempty"`
}
