package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoReturnsLastError(t *testing.T) {
	wantErr := errors.New("always fails")
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoRetryIfStopsEarly(t *testing.T) {
	fatal := errors.New("fatal")
	cfg := fastConfig()
	cfg.RetryIf = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error must not retry, got %d calls", calls)
	}
}

func TestDoRetryIfPrecedesRetryableErrors(t *testing.T) {
	listed := errors.New("listed")
	cfg := fastConfig()
	cfg.RetryableErrors = []error{listed}
	cfg.RetryIf = func(error) bool { return false }

	calls := 0
	Do(context.Background(), cfg, func() error {
		calls++
		return listed
	})
	if calls != 1 {
		t.Errorf("RetryIf should override RetryableErrors, got %d calls", calls)
	}
}

func TestDoOnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	Do(context.Background(), cfg, func() error {
		return errors.New("transient")
	})

	// Called before each backoff sleep: after attempts 1 and 2, not 3.
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("unexpected OnRetry attempts: %v", attempts)
	}
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastConfig(), func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("cancelled context should prevent the first attempt, got %d calls", calls)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "value", nil
	})
	if err != nil {
		t.Fatalf("DoWithResult returned error: %v", err)
	}
	if got != "value" {
		t.Errorf("unexpected result: %q", got)
	}
}
