package unifiedllm

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff for failed model calls.
type RetryPolicy struct {
	MaxRetries int // attempts after the first call
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool // scale each delay by a factor in [0.5, 1.5)
	OnRetry    func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns two retries with jittered exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// NewRetryPolicy returns the default policy with maxRetries attempts, logging
// every retry to logger.
func NewRetryPolicy(maxRetries int, logger *slog.Logger) RetryPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	p := DefaultRetryPolicy()
	p.MaxRetries = maxRetries
	p.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying model call",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
	return p
}

// Delay returns the backoff before retry attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(float64(p.BaseDelay)*math.Pow(p.Multiplier, float64(attempt)), float64(p.MaxDelay))
	if p.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or the
// policy runs out of attempts. A provider Retry-After hint replaces the
// computed backoff; a hint longer than MaxDelay returns the error at once.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	for attempt := 0; err != nil && attempt < policy.MaxRetries; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt)
		var hint interface{ retryAfter() time.Duration }
		if errors.As(err, &hint) && hint.retryAfter() > 0 {
			if hint.retryAfter() > policy.MaxDelay {
				return zero, err
			}
			delay = hint.retryAfter()
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
		result, err = fn(ctx)
	}
	if err != nil {
		return zero, err
	}
	return result, nil
}

// RetryMiddleware retries provider calls that fail with a retryable error.
// Adapters are built with their own retries disabled so this is the only
// retry layer.
func RetryMiddleware(policy RetryPolicy) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		return Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
			return next(ctx, req)
		})
	}
}
