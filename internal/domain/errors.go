package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrEngineClosed      = errors.New("engine_closed")
	ErrHubClosed         = errors.New("hub_closed")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
