// SPDX-License-Identifier: Apache-2.0
package task

import (
	"context"
	"sync"
	"time"

	"github.com/ecanlabs/weave/pkg/event"
)

// Scheduler feeds periodic tick events to tasks, driving skills that run on
// a cadence rather than on inbound messages.
type Scheduler struct {
	runner *Runner

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewScheduler builds a scheduler bound to one runner.
func NewScheduler(r *Runner) *Scheduler {
	return &Scheduler{runner: r, cancels: map[string]context.CancelFunc{}}
}

// Every delivers a schedule tick to taskID on the given interval until the
// entry is removed or ctx ends. One schedule per task; a new interval
// replaces the old one.
func (s *Scheduler) Every(ctx context.Context, taskID string, interval time.Duration) {
	s.Remove(taskID)
	tickCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[taskID] = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				env := event.Envelope{
					Type: event.TypeScheduleTick,
					Data: map[string]any{"scheduled_at": time.Now().UnixMilli()},
				}
				if err := s.runner.Deliver(tickCtx, taskID, env); err != nil {
					s.runner.log.Warn("task.schedule.tick.dropped",
						"task_id", taskID, "error", err.Error())
				}
			}
		}
	}()
}

// After delivers one tick after the delay, for delayed runs.
func (s *Scheduler) After(ctx context.Context, taskID string, delay time.Duration) {
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			env := event.Envelope{
				Type: event.TypeScheduleTick,
				Data: map[string]any{"scheduled_at": time.Now().UnixMilli(), "once": true},
			}
			if err := s.runner.Deliver(ctx, taskID, env); err != nil {
				s.runner.log.Warn("task.schedule.tick.dropped",
					"task_id", taskID, "error", err.Error())
			}
		}
	}()
}

// Remove stops the schedule for taskID.
func (s *Scheduler) Remove(taskID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	if ok {
		delete(s.cancels, taskID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop removes every schedule.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = map[string]context.CancelFunc{}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
