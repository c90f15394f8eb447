// SPDX-License-Identifier: Apache-2.0
package task

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecanlabs/weave/pkg/event"
)

// DefaultSweepInterval is how often the runner checks for expired pending
// completions.
const DefaultSweepInterval = 30 * time.Second

// sweeper periodically expires stale pending-completion entries and feeds a
// timeout event to the task that was waiting, so its suspension can resolve
// instead of hanging forever.
type sweeper struct {
	runner   *Runner
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func newSweeper(r *Runner, interval time.Duration) *sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &sweeper{runner: r, interval: interval}
}

func (s *sweeper) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		log := s.runner.log
		log.Info("task.pending.sweeper.start", slog.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				log.Info("task.pending.sweeper.stop")
				return
			case <-ticker.C:
				s.sweepOnce(ctx)
			}
		}
	}()
}

func (s *sweeper) sweepOnce(ctx context.Context) {
	start := time.Now()
	ctx, span := otel.Tracer("weave/task").Start(ctx, "task.pending.sweep",
		trace.WithAttributes(attribute.Int("outstanding", s.runner.pending.Len())))
	defer span.End()

	expired := s.runner.pending.Expire(time.Now())
	m := s.runner.metrics
	m.sweep(ctx, len(expired))
	for _, p := range expired {
		s.runner.log.Warn("task.pending.expired",
			slog.String("kind", p.Kind),
			slog.String("task_id", p.TaskID),
			slog.String("tag", string(p.Tag)),
			slog.Duration("age", time.Since(p.CreatedAt)),
		)
		env := event.Envelope{
			Type: event.TypeTimeout,
			Tag:  string(p.Tag),
			Data: map[string]any{"kind": p.Kind, "timeout": true},
		}
		if err := s.runner.Deliver(ctx, p.TaskID, env); err != nil {
			s.runner.log.Warn("task.pending.timeout.undeliverable",
				slog.String("task_id", p.TaskID), slog.String("error", err.Error()))
		}
	}
	span.SetAttributes(
		attribute.Int("expired", len(expired)),
		attribute.Float64("duration_ms", float64(time.Since(start).Seconds()*1000)),
	)
}

func (s *sweeper) stopWait() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

// runnerMetrics instruments the task runtime.
type runnerMetrics struct {
	runsStarted   metric.Int64Counter
	runsResumed   metric.Int64Counter
	runsFailed    metric.Int64Counter
	eventsDropped metric.Int64Counter
	sweepCount    metric.Int64Counter
	sweepExpired  metric.Int64Counter
}

func newRunnerMetrics() *runnerMetrics {
	meter := otel.Meter("weave/task")
	m := &runnerMetrics{}
	m.runsStarted, _ = meter.Int64Counter("weave.task.runs.started")
	m.runsResumed, _ = meter.Int64Counter("weave.task.runs.resumed")
	m.runsFailed, _ = meter.Int64Counter("weave.task.runs.failed")
	m.eventsDropped, _ = meter.Int64Counter("weave.task.events.dropped")
	m.sweepCount, _ = meter.Int64Counter("weave.task.pending.sweep.count")
	m.sweepExpired, _ = meter.Int64Counter("weave.task.pending.expired.count")
	return m
}

func (m *runnerMetrics) started(ctx context.Context, skill string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("skill", skill)))
}

func (m *runnerMetrics) resumed(ctx context.Context, skill string) {
	if m == nil || m.runsResumed == nil {
		return
	}
	m.runsResumed.Add(ctx, 1, metric.WithAttributes(attribute.String("skill", skill)))
}

func (m *runnerMetrics) failed(ctx context.Context, skill string) {
	if m == nil || m.runsFailed == nil {
		return
	}
	m.runsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("skill", skill)))
}

func (m *runnerMetrics) dropped(ctx context.Context, taskID string) {
	if m == nil || m.eventsDropped == nil {
		return
	}
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("task", taskID)))
}

func (m *runnerMetrics) sweep(ctx context.Context, expired int) {
	if m == nil || m.sweepCount == nil {
		return
	}
	m.sweepCount.Add(ctx, 1)
	if expired > 0 {
		m.sweepExpired.Add(ctx, int64(expired))
	}
}
