// SPDX-License-Identifier: Apache-2.0
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type runIDKey struct{}

// WithRunID attaches a run id to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run id if present.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

// EnsureRunID ensures a run id exists in the context.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}

// NewRunID generates a fresh correlation id for a run.
func NewRunID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "run-unknown"
	}
	return "run-" + hex.EncodeToString(buf)
}
