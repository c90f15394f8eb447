// SPDX-License-Identifier: Apache-2.0
// Package resilience provides retry, timeout and circuit breaker helpers
// used by node execution and the outbound clients.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ecanlabs/weave/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// BaseDelay is the backoff unit: the wait before attempt n+1 is
	// BaseDelay * 2^(n-1) plus a random amount in [0, Jitter).
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay. Zero means no cap.
	MaxDelay time.Duration

	// Jitter is the upper bound of the additive random delay.
	Jitter time.Duration

	// IsRecoverable determines if an error should be retried.
	// If nil, typed errors consult their Recoverable flag and
	// everything else is retried.
	IsRecoverable func(error) bool
}

// DefaultRetryConfig returns the retry configuration applied to node bodies
// when a node declares retries without tuning the delays.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   300 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      200 * time.Millisecond,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithBaseDelay returns a new config with BaseDelay set.
func (rc RetryConfig) WithBaseDelay(d time.Duration) RetryConfig {
	rc.BaseDelay = d
	return rc
}

// WithJitter returns a new config with Jitter set.
func (rc RetryConfig) WithJitter(d time.Duration) RetryConfig {
	rc.Jitter = d
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// Do executes fn with retry logic, returning the last error if all attempts fail.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = isRecoverableDefault
	}

	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.New(errors.KindCancelled, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts)
			case <-time.After(rc.Backoff(attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !rc.IsRecoverable(err) {
			return err
		}
	}

	return lastErr
}

// DoWithResult executes fn with retry logic, returning both result and error.
func (rc RetryConfig) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var result any
	err := rc.Do(ctx, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}

// Backoff computes the delay before the given retry attempt (attempt >= 1):
// BaseDelay doubled per prior failure, plus a random amount below Jitter.
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(rc.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if rc.MaxDelay > 0 && d > rc.MaxDelay {
		d = rc.MaxDelay
	}
	if rc.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(rc.Jitter)))
	}
	return d
}

// isRecoverableDefault consults the typed error's Recoverable flag and falls
// back to retrying unknown errors.
func isRecoverableDefault(err error) bool {
	if err == nil {
		return false
	}
	if we, ok := err.(*errors.WeaveError); ok {
		return we.Recoverable
	}
	return true
}
