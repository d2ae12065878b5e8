// Package apperrors defines the failure taxonomy shared by the dispatch engine
// and the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrProviderNotConfigured   = errors.New("provider not configured")
	ErrRecipientInvalid        = errors.New("recipient invalid")
	ErrProviderTransport       = errors.New("provider transport error")
	ErrLimitExceeded           = errors.New("provider limit exceeded")
	ErrCampaignTerminal        = errors.New("campaign is terminal")
	ErrWebhookUnsupported      = errors.New("provider does not support webhooks")
	ErrUnsupportedProvider     = errors.New("unsupported provider type")
	ErrInvalidCredentials      = errors.New("invalid provider credentials")
	ErrRecipientSuppressed     = errors.New("recipient is on the suppression list")
	ErrUnsupportedExportFormat = errors.New("unsupported export format")
)

// ValidationError is a malformed request. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func NewValidation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// TransportError wraps a network failure or a non-2xx provider response.
// Body carries the raw provider text so operators see it verbatim.
type TransportError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error: %d - %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProviderTransport, e.Err}
	}
	return []error{ErrProviderTransport}
}

// Retryable reports whether a send failure may succeed on a later attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderTransport) || errors.Is(err, ErrLimitExceeded)
}
