package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"warden/pkg/platform/sentinel"
)

func TestProviderError_MatchesSentinels(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		sentinel  error
		retryable bool
	}{
		{ErrorNotFound, sentinel.ErrNotFound, false},
		{ErrorRateLimited, sentinel.ErrRateLimited, true},
		{ErrorProviderOutage, sentinel.ErrUnavailable, true},
		{ErrorTimeout, sentinel.ErrUnavailable, true},
		{ErrorBadData, nil, false},
		{ErrorAuthentication, nil, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := fmt.Errorf("lookup Notch: %w", NewProviderError(tt.category, "mojang", "failed", nil))
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.category, GetCategory(err))
			for _, s := range []error{sentinel.ErrNotFound, sentinel.ErrRateLimited, sentinel.ErrUnavailable} {
				assert.Equal(t, s == tt.sentinel, errors.Is(err, s), "errors.Is(%v)", s)
			}
		})
	}
}

func TestProviderError_Message(t *testing.T) {
	bare := NewProviderError(ErrorNotFound, "ashcon", "no such player", nil)
	assert.Equal(t, "ashcon not_found: no such player", bare.Error())

	wrapped := NewProviderError(ErrorProviderOutage, "ipstack", "request failed", errors.New("connection reset"))
	assert.Equal(t, "ipstack provider_outage: request failed: connection reset", wrapped.Error())
	assert.Equal(t, ErrorInternal, GetCategory(errors.New("foreign")))
}

func TestCategoryForStatus(t *testing.T) {
	tests := map[int]ErrorCategory{
		http.StatusNoContent:        ErrorNotFound,
		http.StatusNotFound:         ErrorNotFound,
		http.StatusTooManyRequests:  ErrorRateLimited,
		http.StatusUnauthorized:     ErrorAuthentication,
		http.StatusForbidden:        ErrorAuthentication,
		http.StatusGatewayTimeout:   ErrorTimeout,
		http.StatusBadGateway:       ErrorProviderOutage,
		http.StatusBadRequest:       ErrorBadData,
		http.StatusMovedPermanently: ErrorInternal,
	}
	for status, want := range tests {
		assert.Equal(t, want, categoryForStatus(status), "status %d", status)
	}
}

func TestTransportError(t *testing.T) {
	assert.Equal(t, ErrorTimeout, transportError("mojang", context.DeadlineExceeded).Category)
	assert.Equal(t, ErrorProviderOutage, transportError("mojang", errors.New("dial tcp: refused")).Category)
}
