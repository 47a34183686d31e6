package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure for retry and reporting decisions.
type Kind string

const (
	// KindTransient covers network failures and 5xx responses. Retryable.
	KindTransient Kind = "transient"
	// KindRateLimited is a 429. Retryable after backoff.
	KindRateLimited Kind = "rate_limited"
	// KindInvalidInput is a 400 the caller cannot fix by retrying.
	KindInvalidInput Kind = "invalid_input"
	// KindContextTooLarge means the prompt exceeded the model's window.
	KindContextTooLarge Kind = "context_too_large"
	// KindUnavailable covers auth failures and missing configuration.
	KindUnavailable Kind = "unavailable"
	// KindMalformed means the model replied but the output could not be
	// parsed into the expected structure.
	KindMalformed Kind = "malformed"
)

// Error is the typed error every provider returns. Kind drives retry
// decisions; Provider names the backend for logs.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s provider: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s provider: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified provider error.
func NewError(kind Kind, providerName, message string, err error) *Error {
	return &Error{Kind: kind, Provider: providerName, Message: message, Err: err}
}

// KindOf extracts the Kind from err, or KindTransient for unclassified
// errors so unknown failures stay retryable.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// Retryable reports whether retrying the same call may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}
