package inference

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/teslashibe/go-assistant/internal/httpc"
	"github.com/teslashibe/go-assistant/pkg/apperr"
)

const opRespond = "inference.respond"

// Sentinel errors for common conditions.
var (
	// ErrNoAPIKey is returned when API key is required but missing.
	ErrNoAPIKey = errors.New("inference: API key required")

	// ErrProviderUnavailable is returned when no providers are available.
	ErrProviderUnavailable = errors.New("inference: provider unavailable")

	// ErrEmptyResponse is returned when the reply has no usable text.
	ErrEmptyResponse = errors.New("inference: no response content")
)

// APIError represents an error response from an inference API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference [%s]: API error %d (%s): %s",
			e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("inference [%s]: API error %d: %s",
		e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited returns true for HTTP 429.
func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsUnauthorized returns true for HTTP 401.
func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// IsNotFound returns true for HTTP 404.
func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsServerError returns true for HTTP 5xx.
func (e *APIError) IsServerError() bool { return e.StatusCode >= 500 && e.StatusCode < 600 }

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("inference [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// classify maps a provider failure onto the error taxonomy. Errors that are
// already classified pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		e := &apperr.Error{Op: opRespond, StatusCode: apiErr.StatusCode, Err: err}
		switch {
		case apiErr.IsUnauthorized():
			e.Kind = apperr.ErrAuth
			e.Message = "API authentication failed. Please check your Gemini API key."
		case apiErr.IsRateLimited():
			e.Kind = apperr.ErrRateLimited
		case apiErr.IsNotFound():
			e.Kind = apperr.ErrInvalidEndpoint
		default:
			e.Kind = apperr.ErrBackend
		}
		return e
	}

	if httpc.IsTimeout(err) {
		return apperr.Wrap(apperr.ErrTimeout, opRespond, err)
	}
	return apperr.Wrap(apperr.ErrBackend, opRespond, err)
}
