package telemetry

import (
	"context"
	"testing"

	"github.com/ecanlabs/weave/pkg/errors"
)

func TestErrorMetricsRecording(t *testing.T) {
	ctx := context.Background()
	em, err := NewErrorMetrics(ctx)
	if err != nil {
		t.Fatalf("NewErrorMetrics: %v", err)
	}

	// Recording against the global no-op meter must not panic for either
	// structured or plain errors.
	werr := errors.New(errors.KindToolCallFailure, "tool exploded", nil).
		WithRecoverable(true)
	em.RecordErrorMetric(ctx, werr, "mcp")
	em.RecordErrorMetric(ctx, context.DeadlineExceeded, "engine")
	em.RecordRecovery(ctx, errors.KindToolCallFailure)
	em.RecordErrorRate(ctx, "task", 1.5)
	em.RecordHealthStatus(ctx, "catalog", 2)
	em.RecordCircuitBreakerState(ctx, "catalog.cloud", 2)
}

func TestErrorMetricsNilSafe(t *testing.T) {
	ctx := context.Background()
	var em *ErrorMetrics
	em.RecordErrorMetric(ctx, errors.New(errors.KindInternal, "boom", nil), "x")
	em.RecordRecovery(ctx, errors.KindInternal)
	em.RecordErrorRate(ctx, "x", 0)
	em.RecordHealthStatus(ctx, "x", 0)
	em.RecordCircuitBreakerState(ctx, "x", 0)
}

func TestErrorMetricsIgnoresNilError(t *testing.T) {
	ctx := context.Background()
	em, err := NewErrorMetrics(ctx)
	if err != nil {
		t.Fatalf("NewErrorMetrics: %v", err)
	}
	em.RecordErrorMetric(ctx, nil, "engine")
}
