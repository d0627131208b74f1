package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultBackoffConfig(), nil, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	cfg := BackoffConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, ExponentialBase: 2, Jitter: false}
	err := Do(context.Background(), cfg, nil, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	cfg := BackoffConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, ExponentialBase: 2, Jitter: false}
	wantErr := errors.New("permanent failure")
	err := Do(context.Background(), cfg, nil, func() error {
		calls++
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly MaxAttempts calls, got %d", calls)
	}
}

func TestDoStopsEarlyOnNonRetryableError(t *testing.T) {
	calls := 0
	permanent := errors.New("permanent")
	isRetryable := func(err error) bool { return err != permanent }

	err := Do(context.Background(), DefaultBackoffConfig(), isRetryable, func() error {
		calls++
		return permanent
	})
	if err != permanent {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for non-retryable error, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := BackoffConfig{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, ExponentialBase: 2, Jitter: false}

	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, nil, func() error {
		calls++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call before cancellation interrupted the sleep, got %d", calls)
	}
}

func TestDelayCapsAtMaxDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, ExponentialBase: 2, Jitter: false}
	d := cfg.delay(10) // would be huge without capping
	if d != 3*time.Second {
		t.Fatalf("expected delay capped at MaxDelay, got %v", d)
	}
}
