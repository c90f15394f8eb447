// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"

	"github.com/ecanlabs/weave/pkg/errors"
)

// FallbackStrategy defines a fallback behavior when the primary operation fails.
type FallbackStrategy interface {
	Execute(ctx context.Context, primaryErr error) (any, error)
}

// FallbackFunc wraps a function as a FallbackStrategy.
type FallbackFunc func(ctx context.Context, primaryErr error) (any, error)

// Execute implements FallbackStrategy.
func (f FallbackFunc) Execute(ctx context.Context, err error) (any, error) {
	return f(ctx, err)
}

// CachedFallback returns the last known good value on failure. The catalog
// uses this to keep serving the previous cloud snapshot when a refresh fails.
type CachedFallback struct {
	Cache any
}

// Execute implements FallbackStrategy.
func (c *CachedFallback) Execute(ctx context.Context, primaryErr error) (any, error) {
	if c.Cache == nil {
		return nil, errors.New(errors.KindInternal, "no cached value available", primaryErr).
			WithContext("fallback", "cache").
			WithRecoverable(false)
	}
	return c.Cache, nil
}

// WithFallback executes fn, and on error, uses the fallback strategy.
func WithFallback(ctx context.Context, fn func() (any, error), fallback FallbackStrategy) (any, error) {
	value, err := fn()
	if err == nil {
		return value, nil
	}
	return fallback.Execute(ctx, err)
}
