package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Pre-flight dispatch errors; no remote call has been attempted when one of
// these is returned.
var (
	ErrNoTargets      = errors.New("messaging: no target tokens")
	ErrTooManyTargets = errors.New("messaging: too many target tokens")
	ErrInvalidTargets = errors.New("messaging: invalid target token")
)

// ProviderError carries the structured error body the send endpoint returned
// for a non-200 response, so callers can tell permanent rejections from
// transient outages. Reach it with errors.As.
type ProviderError struct {
	// Status is the HTTP status code.
	Status int
	// Code is the provider's symbolic error status, e.g. "UNREGISTERED".
	Code string
	// Message is the provider's human-readable error message.
	Message string
	// Details is the raw details array from the error body, if any.
	Details json.RawMessage
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("messaging: send failed: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("messaging: send failed: status %d: %s", e.Status, e.Message)
}

// Temporary reports whether the failure is plausibly transient and worth a
// caller-side retry.
func (e *ProviderError) Temporary() bool {
	switch e.Status {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
