package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"warden/pkg/platform/sentinel"
)

// ErrorCategory classifies why a lookup against an external source failed.
type ErrorCategory string

const (
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorBadData        ErrorCategory = "bad_data"
	ErrorAuthentication ErrorCategory = "authentication" // missing or rejected API key
	ErrorProviderOutage ErrorCategory = "provider_outage"
	ErrorNotFound       ErrorCategory = "not_found" // the source has no such player or address
	ErrorRateLimited    ErrorCategory = "rate_limited"
	ErrorInternal       ErrorCategory = "internal"
)

// retryable categories are transient: the same lookup may succeed later.
var retryable = map[ErrorCategory]bool{
	ErrorTimeout:        true,
	ErrorProviderOutage: true,
	ErrorRateLimited:    true,
}

// ProviderError is a categorized failure from one source.
type ProviderError struct {
	Category   ErrorCategory
	ProviderID string
	Message    string
	Underlying error
	Retryable  bool
}

func NewProviderError(category ErrorCategory, providerID, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:   category,
		ProviderID: providerID,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable[category],
	}
}

func (e *ProviderError) Error() string {
	msg := e.ProviderID + " " + string(e.Category) + ": " + e.Message
	if e.Underlying == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Underlying)
}

func (e *ProviderError) Unwrap() error { return e.Underlying }

// Is lets callers match source failures against the infrastructure
// sentinels without knowing the taxonomy.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case sentinel.ErrNotFound:
		return e.Category == ErrorNotFound
	case sentinel.ErrRateLimited:
		return e.Category == ErrorRateLimited
	case sentinel.ErrUnavailable:
		return e.Category == ErrorProviderOutage || e.Category == ErrorTimeout
	}
	return false
}

// IsRetryable reports whether err is a transient source failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// GetCategory returns err's category, or ErrorInternal for foreign errors.
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

// categoryForStatus maps an unexpected HTTP status onto the taxonomy.
func categoryForStatus(status int) ErrorCategory {
	switch {
	case status == http.StatusNoContent || status == http.StatusNotFound:
		return ErrorNotFound
	case status == http.StatusTooManyRequests:
		return ErrorRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorAuthentication
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorTimeout
	case status >= 500:
		return ErrorProviderOutage
	case status == http.StatusBadRequest:
		return ErrorBadData
	default:
		return ErrorInternal
	}
}

// transportError classifies a failure to complete the HTTP exchange.
func transportError(providerID string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewProviderError(ErrorTimeout, providerID, "request timed out", err)
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return NewProviderError(ErrorTimeout, providerID, "request timed out", err)
	}
	return NewProviderError(ErrorProviderOutage, providerID, "request failed", err)
}
