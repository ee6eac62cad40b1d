package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status     int
		expectType string
		retryable  bool
	}{
		{400, "*unifiedllm.InvalidRequestError", false},
		{401, "*unifiedllm.AuthenticationError", false},
		{403, "*unifiedllm.AccessDeniedError", false},
		{404, "*unifiedllm.NotFoundError", false},
		{408, "*unifiedllm.RequestTimeoutError", true},
		{413, "*unifiedllm.ContextLengthError", false},
		{422, "*unifiedllm.InvalidRequestError", false},
		{429, "*unifiedllm.RateLimitError", true},
		{500, "*unifiedllm.ServerError", true},
		{503, "*unifiedllm.ServerError", true},
		{418, "*unifiedllm.ProviderError", true},
	}

	cause := errors.New("upstream")
	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "test error", "openai", cause)
		if got := fmt.Sprintf("%T", err); got != tt.expectType {
			t.Errorf("status %d: expected %s, got %s", tt.status, tt.expectType, got)
		}
		if IsRetryable(err) != tt.retryable {
			t.Errorf("status %d: expected retryable=%v", tt.status, tt.retryable)
		}
		if !errors.Is(err, cause) {
			t.Errorf("status %d: cause not preserved", tt.status)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"auth error", &AuthenticationError{}, false},
		{"access denied", &AccessDeniedError{}, false},
		{"not found", &NotFoundError{}, false},
		{"invalid request", &InvalidRequestError{}, false},
		{"context length", &ContextLengthError{}, false},
		{"content filter", &ContentFilterError{}, false},
		{"config error", &ConfigurationError{}, false},
		{"rate limit", &RateLimitError{}, true},
		{"server error", &ServerError{}, true},
		{"wrapped server error", fmt.Errorf("complete: %w", &ServerError{}), true},
		{"generic provider error", &ProviderError{Retryable: false}, false},
		{"abort", &AbortError{}, false},
		{"context canceled", fmt.Errorf("call: %w", context.Canceled), false},
		{"deadline exceeded", &RequestTimeoutError{SDKError: SDKError{Message: "timeout", Cause: context.DeadlineExceeded}}, false},
		{"timeout error", &RequestTimeoutError{}, true},
		{"unknown error", errors.New("unknown"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsRetryable(tt.err)
			if got != tt.retryable {
				t.Errorf("IsRetryable(%T) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestSDKErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &SDKError{Message: "wrapper", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected SDKError to unwrap to its cause")
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := ErrorFromStatusCode(429, "rate limit exceeded", "openai", nil)
	msg := err.Error()
	if !strings.Contains(msg, "openai") || !strings.Contains(msg, "rate limit") {
		t.Errorf("error message missing expected content: %q", msg)
	}
}
