// SPDX-License-Identifier: Apache-2.0
package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics tracks dispatch loop activity for production monitoring.
type Metrics struct {
	steps       metric.Int64Counter
	suspensions metric.Int64Counter
	resumes     metric.Int64Counter
	completions metric.Int64Counter
	failures    metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewMetrics creates the engine meter instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("weave/engine")

	steps, err := meter.Int64Counter(
		"weave.engine.steps",
		metric.WithDescription("Node dispatches by skill"),
	)
	if err != nil {
		return nil, err
	}
	suspensions, err := meter.Int64Counter(
		"weave.engine.suspensions",
		metric.WithDescription("Runs parked on an interrupt"),
	)
	if err != nil {
		return nil, err
	}
	resumes, err := meter.Int64Counter(
		"weave.engine.resumes",
		metric.WithDescription("Suspended runs resumed"),
	)
	if err != nil {
		return nil, err
	}
	completions, err := meter.Int64Counter(
		"weave.engine.completions",
		metric.WithDescription("Runs finished without error"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"weave.engine.failures",
		metric.WithDescription("Runs ended by an error"),
	)
	if err != nil {
		return nil, err
	}
	runDuration, err := meter.Float64Histogram(
		"weave.engine.run.duration_ms",
		metric.WithDescription("Wall time per engine run segment"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		steps:       steps,
		suspensions: suspensions,
		resumes:     resumes,
		completions: completions,
		failures:    failures,
		runDuration: runDuration,
	}, nil
}

func (m *Metrics) recordStep(ctx context.Context, skill string) {
	if m == nil {
		return
	}
	m.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("skill", skill)))
}

func (m *Metrics) recordResume(ctx context.Context, skill string) {
	if m == nil {
		return
	}
	m.resumes.Add(ctx, 1, metric.WithAttributes(attribute.String("skill", skill)))
}

func (m *Metrics) recordSuspension(ctx context.Context, skill string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("skill", skill))
	m.suspensions.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, durationMs, attrs)
}

func (m *Metrics) recordCompletion(ctx context.Context, skill string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("skill", skill))
	m.completions.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, durationMs, attrs)
}

func (m *Metrics) recordFailure(ctx context.Context, skill string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("skill", skill))
	m.failures.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, durationMs, attrs)
}
