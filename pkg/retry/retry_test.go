package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient failure")

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), FixedConfig(3, time.Millisecond), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), FixedConfig(3, time.Millisecond), func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got: %d", attempts)
	}
}

func TestDo_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), FixedConfig(2, time.Millisecond), func() error {
		attempts++
		return errTransient
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("expected wrapped transient error, got: %v", err)
	}
	// One initial try plus two retries.
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got: %d", attempts)
	}
}

func TestDo_PermanentStopsRetrying(t *testing.T) {
	errFatal := errors.New("fatal")
	attempts := 0
	err := Do(context.Background(), FixedConfig(5, time.Millisecond), func() error {
		attempts++
		return Permanent(errFatal)
	})

	if !errors.Is(err, errFatal) {
		t.Errorf("expected fatal error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := FixedConfig(3, time.Second)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error { return errTransient })

	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation did not interrupt the wait")
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), FixedConfig(2, time.Millisecond), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errTransient
		}
		return "ready", nil
	})

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got != "ready" {
		t.Errorf("expected %q, got %q", "ready", got)
	}
}

func TestDelayFor_FixedAndBackoff(t *testing.T) {
	fixed := FixedConfig(3, 50*time.Millisecond)
	for attempt := 0; attempt < 3; attempt++ {
		if d := delayFor(fixed, attempt); d != 50*time.Millisecond {
			t.Errorf("fixed policy attempt %d: expected 50ms, got %v", attempt, d)
		}
	}

	backoff := Config{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2.0}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}
	for attempt, expected := range want {
		if d := delayFor(backoff, attempt); d != expected {
			t.Errorf("backoff attempt %d: expected %v, got %v", attempt, expected, d)
		}
	}
}
