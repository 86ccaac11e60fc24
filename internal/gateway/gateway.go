// Package gateway translates between the internal payment-intent model and
// the wire formats of the external payment providers. Adapters never touch
// the ledger: they only produce a NormalizedResult, so provider-specific
// field names stop at this package boundary.
package gateway

import (
	"context"
	"net/url"

	"github.com/google/uuid"
	"github.com/pedalport/rental-backend/internal/models"
)

// Outcome is the shared vocabulary both providers' callbacks are mapped onto.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// CheckoutIntent carries what an adapter needs to build a provider request.
type CheckoutIntent struct {
	CorrelationID uuid.UUID
	BookingID     int64
	Amount        float64
	Currency      string
	Description   string
}

// CheckoutPayload is the provider-specific redirect material. The HMAC form
// provider fills FormAction/FormFields; the lookup provider fills
// RedirectURL and the gateway-assigned reference.
type CheckoutPayload struct {
	Provider    string
	RedirectURL string
	FormAction  string
	FormFields  map[string]string
	GatewayRef  string
}

// NormalizedResult is a provider callback reduced to the fields the
// reconciliation coordinator needs.
type NormalizedResult struct {
	CorrelationID uuid.UUID
	GatewayRef    string
	Outcome       Outcome
	RawAmount     float64
}

// Adapter is implemented once per provider.
type Adapter interface {
	// Provider returns the provider name used in callback routes.
	Provider() string

	// BuildRequest turns an intent into the provider's checkout payload.
	BuildRequest(ctx context.Context, intent CheckoutIntent) (*CheckoutPayload, error)

	// ParseCallback verifies and normalizes a provider callback. Returns
	// models.ErrBadSignature or models.ErrMalformedPayload for callbacks
	// that must not be trusted, and models.ErrPendingOutcome when the
	// gateway has no final verdict yet.
	ParseCallback(ctx context.Context, params url.Values) (*NormalizedResult, error)
}

// Registry resolves adapters by provider name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

// Lookup returns the adapter for a provider name.
func (r *Registry) Lookup(provider string) (Adapter, error) {
	a, ok := r.adapters[provider]
	if !ok {
		return nil, models.ErrInvalidArgument
	}
	return a, nil
}

// ForMethod returns the adapter handling a payment method.
func (r *Registry) ForMethod(method models.PaymentMethod) (Adapter, error) {
	return r.Lookup(string(method))
}
