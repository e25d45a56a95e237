package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	censor "github.com/phoenix4ge/censor"
)

func TestRetryer_Do_Success(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxRetries: 3})

	callCount := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Do() error = %v, want nil", err)
	}
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
}

func TestRetryer_Do_RetrySuccess(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
	})

	callCount := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return censor.ErrTimeout // Retryable error
		}
		return nil
	})

	if err != nil {
		t.Errorf("Do() error = %v, want nil", err)
	}
	if callCount != 3 {
		t.Errorf("callCount = %d, want 3", callCount)
	}
}

func TestRetryer_Do_MaxRetriesExceeded(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxRetries:   2,
		InitialDelay: 10 * time.Millisecond,
	})

	callCount := 0
	expectedErr := censor.NewTransientRemoteError("nudenet", "apply", censor.ErrTimeout)
	err := r.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return expectedErr
	})

	if !errors.Is(err, expectedErr) {
		t.Errorf("Do() error = %v, want %v", err, expectedErr)
	}
	// Initial call + 2 retries = 3 total calls
	if callCount != 3 {
		t.Errorf("callCount = %d, want 3", callCount)
	}
}

func TestRetryer_Do_NonRetryableError(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
	})

	callCount := 0
	nonRetryableErr := censor.NewRemoteRejectionError("nudenet", 400, "bad threshold")
	err := r.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return nonRetryableErr
	})

	if err != nonRetryableErr {
		t.Errorf("Do() error = %v, want %v", err, nonRetryableErr)
	}
	// Should only be called once since error is not retryable
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
}

func TestRetryer_Do_ContextCanceled(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxRetries:   10,
		InitialDelay: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func(ctx context.Context) error {
		return censor.ErrTimeout
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	retryAttempts := []int{}
	var lastErrs []error

	r := NewRetryer(RetryConfig{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retryAttempts = append(retryAttempts, attempt)
			lastErrs = append(lastErrs, err)
		},
	})

	_ = r.Do(context.Background(), func(ctx context.Context) error {
		return censor.ErrTimeout
	})

	// Called after attempts 1, 2 and 3; attempt 4 is the last.
	if len(retryAttempts) != 3 || retryAttempts[0] != 1 || retryAttempts[2] != 3 {
		t.Errorf("retryAttempts = %v, want [1 2 3]", retryAttempts)
	}
	for i, err := range lastErrs {
		if !errors.Is(err, censor.ErrTimeout) {
			t.Errorf("lastErrs[%d] = %v, want ErrTimeout", i, err)
		}
	}
}

func TestRetryer_ExponentialBackoff(t *testing.T) {
	delays := []time.Duration{}
	r := NewRetryer(RetryConfig{
		MaxRetries:   3,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	})

	_ = r.Do(context.Background(), func(ctx context.Context) error {
		return censor.ErrTimeout
	})

	want := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRetryer_MaxDelayRespected(t *testing.T) {
	delays := []time.Duration{}
	r := NewRetryer(RetryConfig{
		MaxRetries:    5,
		InitialDelay:  1 * time.Second,
		MaxDelay:      20 * time.Millisecond, // Very small max
		JitterPercent: 50,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	})

	start := time.Now()
	_ = r.Do(context.Background(), func(ctx context.Context) error {
		return censor.ErrTimeout
	})
	elapsed := time.Since(start)

	for i, d := range delays {
		if d > 20*time.Millisecond {
			t.Errorf("delay[%d] = %v, want <= 20ms", i, d)
		}
	}

	// 5 retries * 20ms = 100ms max (plus some execution time)
	if elapsed > 500*time.Millisecond {
		t.Errorf("elapsed = %v, want < 500ms", elapsed)
	}
}

func TestRetry_Convenience(t *testing.T) {
	callCount := 0
	err := Retry(context.Background(), 2, func(ctx context.Context) error {
		callCount++
		if callCount < 2 {
			return censor.ErrTimeout
		}
		return nil
	})

	if err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}
	if callCount != 2 {
		t.Errorf("callCount = %d, want 2", callCount)
	}
}

func TestDoWithResult(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
	})

	callCount := 0
	result, err := DoWithResult(context.Background(), r, func(ctx context.Context) (string, error) {
		callCount++
		if callCount < 2 {
			return "", censor.ErrTimeout
		}
		return "success", nil
	})

	if err != nil {
		t.Errorf("DoWithResult() error = %v, want nil", err)
	}
	if result.Value != "success" {
		t.Errorf("result = %q, want %q", result.Value, "success")
	}
	if result.Attempts != 2 || len(result.Errors) != 1 {
		t.Errorf("Attempts = %d, Errors = %v, want 2 attempts and 1 error", result.Attempts, result.Errors)
	}
}
