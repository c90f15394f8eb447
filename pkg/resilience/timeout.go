// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	"github.com/ecanlabs/weave/pkg/errors"
)

// TimeoutConfig controls timeout behavior.
type TimeoutConfig struct {
	// Duration is the maximum time allowed for the operation.
	// Zero disables the boundary.
	Duration time.Duration
}

// WithTimeout executes fn with a timeout boundary.
// Returns a KindDeadline error if the deadline is exceeded; fn keeps running
// in its goroutine and should honor the derived context.
func WithTimeout(ctx context.Context, config TimeoutConfig, fn func(context.Context) error) error {
	if config.Duration == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, config.Duration)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case <-ctx.Done():
		return errors.New(errors.KindDeadline, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", config.Duration.String()).
			WithRecoverable(true)
	case err := <-done:
		return err
	}
}

// WithTimeoutResult executes fn with a timeout boundary, returning both
// result and error.
func WithTimeoutResult(ctx context.Context, config TimeoutConfig, fn func(context.Context) (any, error)) (any, error) {
	var result any
	err := WithTimeout(ctx, config, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}
