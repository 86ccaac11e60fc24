package models

import "errors"

// Sentinel errors shared across the ledger, gateway adapters and handlers.
// Handlers map these onto HTTP statuses with errors.Is.
var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates bad caller input (non-positive duration,
	// unknown payment method, malformed id). Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBikeUnavailable indicates the bike is already held by a booking in a
	// non-terminal state.
	ErrBikeUnavailable = errors.New("bike is not available")

	// ErrInvalidState indicates an operation attempted against a booking that
	// is not in the state the operation requires.
	ErrInvalidState = errors.New("booking is not in a valid state for this operation")

	// ErrUnknownCorrelation indicates a gateway result referenced a
	// correlation id no payment intent was ever opened with.
	ErrUnknownCorrelation = errors.New("unknown correlation id")

	// ErrBadSignature indicates a gateway callback failed signature
	// verification. Security-relevant, never trusted.
	ErrBadSignature = errors.New("callback signature verification failed")

	// ErrMalformedPayload indicates a gateway callback could not be decoded
	// into the provider's documented shape.
	ErrMalformedPayload = errors.New("malformed callback payload")

	// ErrPendingOutcome indicates the gateway reports the payment as still in
	// flight; the callback is acknowledged but no state is applied.
	ErrPendingOutcome = errors.New("payment outcome still pending at gateway")

	// ErrGatewayUnreachable indicates the provider's verification endpoint
	// failed transiently (transport error or 5xx). Retryable: the callback must
	// be answered so the gateway redelivers, never refused.
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")
)
