// SPDX-License-Identifier: Apache-2.0
package task

import (
	"context"
	"sync"

	"github.com/ecanlabs/weave/pkg/catalog"
	"github.com/ecanlabs/weave/pkg/engine"
	"github.com/ecanlabs/weave/pkg/state"
)

// Status of a task between events.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusStopped   Status = "stopped"
)

// Spec describes a task to spawn.
type Spec struct {
	ID        string
	ChatID    string
	Skill     *catalog.Skill
	QueueSize int
	// Chatter marks this task as the agent's chat ingress; inter-agent
	// messages land on its queue.
	Chatter bool
}

// Task owns one event queue and one State. All mutation happens on the
// task's dispatch fiber, so State ownership stays unambiguous.
type Task struct {
	ID     string
	ChatID string
	Skill  *catalog.Skill

	queue  *Queue
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	status     Status
	runID      string
	last       state.State
	suspension *engine.Suspension
	runCancel  context.CancelFunc
}

// Status reports the task's current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// RunID reports the id of the last started run, empty before the first.
func (t *Task) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runID
}

// State returns the state left by the last run. The caller must not mutate
// it while the task is live.
func (t *Task) State() state.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Suspension returns the parked run's suspension, nil when none is in flight.
func (t *Task) Suspension() *engine.Suspension {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspension
}

// QueueLen reports the number of undispatched events.
func (t *Task) QueueLen() int { return t.queue.Len() }

// CancelRun aborts the in-flight run, if any. The engine stops between
// nodes. The task fiber itself keeps serving subsequent events.
func (t *Task) CancelRun() {
	t.mu.Lock()
	cancel := t.runCancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func (t *Task) setRunCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	t.runCancel = cancel
	t.mu.Unlock()
}

func (t *Task) absorb(res *engine.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runCancel = nil
	if res == nil {
		return
	}
	t.runID = res.RunID
	if res.State != nil {
		t.last = res.State
	}
	switch res.Status {
	case engine.StatusSuspended:
		t.status = StatusSuspended
		t.suspension = res.Suspension
	case engine.StatusCompleted:
		t.status = StatusIdle
		t.suspension = nil
	case engine.StatusCancelled:
		t.status = StatusCancelled
		t.suspension = nil
	default:
		t.status = StatusFailed
		t.suspension = nil
	}
}

func (t *Task) dropSuspension() {
	t.mu.Lock()
	t.suspension = nil
	t.status = StatusCancelled
	t.mu.Unlock()
}
