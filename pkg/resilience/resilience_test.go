// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ecanlabs/weave/pkg/errors"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Jitter: time.Millisecond}

	err := cfg.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient %d", attempts)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnUnrecoverable(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}

	err := cfg.Do(context.Background(), func() error {
		attempts++
		return errors.New(errors.KindSchemaValidation, "bad input", nil).WithRecoverable(false)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("unrecoverable error must not be retried, got %d attempts", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	err := cfg.Do(context.Background(), func() error {
		attempts++
		return fmt.Errorf("always failing")
	})
	if err == nil || attempts != 3 {
		t.Fatalf("expected 3 failed attempts, got err=%v attempts=%d", err, attempts)
	}
}

func TestBackoffDoubles(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond}

	for i, want := range []time.Duration{100, 200, 400, 800} {
		got := cfg.Backoff(i + 1)
		if got != want*time.Millisecond {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, want*time.Millisecond, got)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, Jitter: 50 * time.Millisecond}

	for i := 0; i < 20; i++ {
		d := cfg.Backoff(1)
		if d < 100*time.Millisecond || d >= 150*time.Millisecond {
			t.Fatalf("backoff %v outside [100ms, 150ms)", d)
		}
	}
}

func TestRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour}
	err := cfg.Do(ctx, func() error { return fmt.Errorf("fail") })
	if !errors.IsKind(err, errors.KindCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}

func TestWithTimeoutExpires(t *testing.T) {
	err := WithTimeout(context.Background(), TimeoutConfig{Duration: 10 * time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.IsKind(err, errors.KindDeadline) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestWithTimeoutPassesThrough(t *testing.T) {
	err := WithTimeout(context.Background(), TimeoutConfig{Duration: time.Second}, func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
		Name:             "test",
	})
	ctx := context.Background()

	fail := func() error { return fmt.Errorf("down") }
	_ = cb.Call(ctx, fail)
	_ = cb.Call(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	if err := cb.Call(ctx, func() error { return nil }); err == nil {
		t.Fatal("open breaker must reject calls")
	}

	time.Sleep(15 * time.Millisecond)
	if err := cb.Call(ctx, func() error { return nil }); err != nil {
		t.Fatalf("half-open probe should pass: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after probe, got %s", cb.State())
	}
}

func TestCachedFallback(t *testing.T) {
	fb := &CachedFallback{Cache: "snapshot-v1"}
	got, err := WithFallback(context.Background(), func() (any, error) {
		return nil, fmt.Errorf("cloud unreachable")
	}, fb)
	if err != nil || got != "snapshot-v1" {
		t.Fatalf("expected cached value, got %v err=%v", got, err)
	}
}
