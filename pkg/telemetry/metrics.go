// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ecanlabs/weave/pkg/errors"
)

// ErrorMetrics tracks error rates, kinds and recovery patterns for
// production monitoring.
type ErrorMetrics struct {
	// errorCounter tracks total errors by kind and component
	errorCounter metric.Int64Counter

	// recoveryCounter tracks successful recoveries
	recoveryCounter metric.Int64Counter

	// errorRateGauge tracks error rate (errors per minute)
	errorRateGauge metric.Float64Gauge

	// healthStatusGauge tracks component health (0=unhealthy, 1=degraded, 2=healthy)
	healthStatusGauge metric.Int64Gauge

	// circuitBreakerStateGauge tracks circuit breaker state per component
	circuitBreakerStateGauge metric.Int64Gauge

	mu sync.RWMutex
}

// NewErrorMetrics creates a new error metrics tracker with OTEL meters.
func NewErrorMetrics(_ context.Context) (*ErrorMetrics, error) {
	meter := otel.Meter("weave/errors")

	errorCounter, err := meter.Int64Counter(
		"weave.errors.total",
		metric.WithDescription("Total errors by kind and component"),
	)
	if err != nil {
		return nil, err
	}

	recoveryCounter, err := meter.Int64Counter(
		"weave.errors.recovered",
		metric.WithDescription("Successful error recoveries by kind"),
	)
	if err != nil {
		return nil, err
	}

	errorRateGauge, err := meter.Float64Gauge(
		"weave.errors.rate",
		metric.WithDescription("Error rate per minute by component"),
	)
	if err != nil {
		return nil, err
	}

	healthStatusGauge, err := meter.Int64Gauge(
		"weave.health.status",
		metric.WithDescription("Component health status (0=unhealthy, 1=degraded, 2=healthy)"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerStateGauge, err := meter.Int64Gauge(
		"weave.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per component (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &ErrorMetrics{
		errorCounter:             errorCounter,
		recoveryCounter:          recoveryCounter,
		errorRateGauge:           errorRateGauge,
		healthStatusGauge:        healthStatusGauge,
		circuitBreakerStateGauge: circuitBreakerStateGauge,
	}, nil
}

// RecordErrorMetric increments the error counter for the given error and
// component.
func (em *ErrorMetrics) RecordErrorMetric(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	we := errors.AsWeaveError(err)
	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.kind", string(we.Kind)),
			attribute.String("component", component),
			attribute.String("recoverable", we.RecoverableString()),
		),
	)
}

// RecordRecovery increments the recovery counter for the given error kind.
// Called when an error is successfully handled (retry succeeded, fallback
// used).
func (em *ErrorMetrics) RecordRecovery(ctx context.Context, kind errors.Kind) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.kind", string(kind)),
		),
	)
}

// RecordErrorRate records the current error rate for a component (errors per
// minute).
func (em *ErrorMetrics) RecordErrorRate(ctx context.Context, component string, ratePerMinute float64) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.errorRateGauge.Record(ctx, ratePerMinute,
		metric.WithAttributes(
			attribute.String("component", component),
		),
	)
}

// RecordHealthStatus records the health of a component (0=unhealthy,
// 1=degraded, 2=healthy).
func (em *ErrorMetrics) RecordHealthStatus(ctx context.Context, component string, status int64) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.healthStatusGauge.Record(ctx, status,
		metric.WithAttributes(
			attribute.String("component", component),
		),
	)
}

// RecordCircuitBreakerState records the breaker state (0=open, 1=half-open,
// 2=closed).
func (em *ErrorMetrics) RecordCircuitBreakerState(ctx context.Context, component string, state int64) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.circuitBreakerStateGauge.Record(ctx, state,
		metric.WithAttributes(
			attribute.String("component", component),
		),
	)
}
