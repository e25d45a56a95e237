// Package utils provides utility functions for the censor system.
package utils

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	censor "github.com/phoenix4ge/censor"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries).
	MaxRetries int

	// InitialDelay is the delay before the first retry. It doubles after
	// every retry.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// JitterPercent adds +/- that percentage of randomness to each delay.
	JitterPercent uint64

	// RetryIf is a function that determines if an error is retryable.
	// If nil, uses censor.IsRetryable.
	RetryIf func(error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns sensible defaults for retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    censor.DefaultMaxRetries,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		JitterPercent: 10,
		RetryIf:       censor.IsRetryable,
	}
}

// Retryer provides retry functionality with capped exponential backoff.
type Retryer struct {
	config RetryConfig
}

// NewRetryer creates a new retryer with the given configuration.
func NewRetryer(config RetryConfig) *Retryer {
	if config.RetryIf == nil {
		config.RetryIf = censor.IsRetryable
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 200 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Retryer{config: config}
}

// Config returns the effective configuration.
func (r *Retryer) Config() RetryConfig {
	return r.config
}

// RetryResult contains the result of a retry operation.
type RetryResult[T any] struct {
	Value    T
	Attempts int
	Errors   []error
}

// LastError returns the error of the final failed attempt, if any.
func (r RetryResult[T]) LastError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[len(r.Errors)-1]
}

// Do executes the function with retry logic.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult executes the function with retry logic and returns the value
// together with the attempt history. When ctx is done while waiting between
// attempts, ctx.Err() is returned.
func DoWithResult[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (RetryResult[T], error) {
	var res RetryResult[T]

	b := r.backoff(func(delay time.Duration) {
		r.config.OnRetry(res.Attempts, res.LastError(), delay)
	})
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		res.Attempts++
		v, err := fn(ctx)
		if err == nil {
			res.Value = v
			return nil
		}
		res.Errors = append(res.Errors, err)
		if r.config.RetryIf(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return res, err
}

// backoff builds a fresh backoff for one Do call. Backoffs are stateful.
func (r *Retryer) backoff(onRetry func(delay time.Duration)) retry.Backoff {
	b := retry.NewExponential(r.config.InitialDelay)
	if r.config.JitterPercent > 0 {
		b = retry.WithJitterPercent(r.config.JitterPercent, b)
	}
	b = retry.WithCappedDuration(r.config.MaxDelay, b)
	b = retry.WithMaxRetries(uint64(r.config.MaxRetries), b)

	if r.config.OnRetry == nil {
		return b
	}
	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := b.Next()
		if !stop {
			onRetry(delay)
		}
		return delay, stop
	})
}

// Retry is a convenience function for simple retry operations.
func Retry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error {
	r := NewRetryer(RetryConfig{MaxRetries: maxRetries})
	return r.Do(ctx, fn)
}
