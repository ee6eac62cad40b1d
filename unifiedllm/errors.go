package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError is an error reported by the LLM provider. Retryable applies
// to the generic form only; the concrete kinds below fix their own policy.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter time.Duration // zero when the provider sent no hint
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d)", e.Provider, e.Message, e.StatusCode)
}

func (e *ProviderError) retryable() bool { return e.Retryable }

func (e *ProviderError) retryAfter() time.Duration { return e.RetryAfter }

// Provider error kinds.
type (
	AuthenticationError struct{ ProviderError }
	AccessDeniedError   struct{ ProviderError }
	NotFoundError       struct{ ProviderError }
	InvalidRequestError struct{ ProviderError }
	RateLimitError      struct{ ProviderError }
	ServerError         struct{ ProviderError }
	ContentFilterError  struct{ ProviderError }
	ContextLengthError  struct{ ProviderError }
)

// Errors raised on this side of the wire.
type (
	RequestTimeoutError struct{ SDKError }
	AbortError          struct{ SDKError }
	ConfigurationError  struct{ SDKError }
)

func (*AuthenticationError) retryable() bool { return false }
func (*AccessDeniedError) retryable() bool   { return false }
func (*NotFoundError) retryable() bool       { return false }
func (*InvalidRequestError) retryable() bool { return false }
func (*ContentFilterError) retryable() bool  { return false }
func (*ContextLengthError) retryable() bool  { return false }
func (*RateLimitError) retryable() bool      { return true }
func (*ServerError) retryable() bool         { return true }
func (*RequestTimeoutError) retryable() bool { return true }
func (*AbortError) retryable() bool          { return false }
func (*ConfigurationError) retryable() bool  { return false }

// ErrorFromStatusCode builds the error kind matching an HTTP status. Unknown
// statuses yield a retryable *ProviderError.
func ErrorFromStatusCode(status int, message, provider string, cause error) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message, Cause: cause},
		Provider:   provider,
		StatusCode: status,
	}
	switch status {
	case 400, 422:
		return &InvalidRequestError{pe}
	case 401:
		return &AuthenticationError{pe}
	case 403:
		return &AccessDeniedError{pe}
	case 404:
		return &NotFoundError{pe}
	case 408:
		return &RequestTimeoutError{pe.SDKError}
	case 413:
		return &ContextLengthError{pe}
	case 429:
		return &RateLimitError{pe}
	case 500, 502, 503, 504:
		return &ServerError{pe}
	default:
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable reports whether a failed call may be attempted again.
// Cancellation is never retried; errors outside the hierarchy are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r interface{ retryable() bool }
	if errors.As(err, &r) {
		return r.retryable()
	}
	return true
}
