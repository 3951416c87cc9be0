package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Risk gate: an expected negative validation result, not a failure.
	// Never logged at error level; returned to the caller as a normal outcome.
	ErrValidationRejected = errors.New("order intent rejected by risk gate")

	// Broker Errors
	ErrBrokerUnavailable    = errors.New("broker venue is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the broker")
	ErrRateLimited          = errors.New("venue rate limit exceeded")
	ErrAuthenticationFailed = errors.New("broker authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found at the broker")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Reconciliation: a timeout or composite-leg race left an order in a
	// best-known state; resolved by the periodic sweep, logged as a warning.
	ErrReconciliation = errors.New("order state ambiguous, pending reconciliation")

	// Persistence Errors
	ErrDBConnection = errors.New("event store connection error")
	ErrAppendFailed = errors.New("event store append failed")
	ErrReplayFailed = errors.New("event store replay failed")
)
