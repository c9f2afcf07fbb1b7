package coincheck

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two status classes callers handle specially.
// Callers should back off on ErrRateLimited; this client never retries.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrAuthFailed  = errors.New("authentication failed")
	ErrValidation  = errors.New("validation failed")
)

// APIError is any other non-2xx response from the exchange.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP Error: %d", e.Status)
}

// RemoteError is a 2xx response whose payload reports success: false,
// e.g. an order rejected for insufficient funds. The message is the
// exchange's own, passed through unchanged.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
