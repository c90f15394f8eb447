// SPDX-License-Identifier: Apache-2.0
package task

import (
	"sync"
	"time"

	"github.com/ecanlabs/weave/pkg/node"
)

// DefaultPendingTTL is how long an asynchronous completion may stay
// unanswered before the sweeper expires it.
const DefaultPendingTTL = 10 * time.Minute

// Pending records that a task submitted asynchronous remote work and is
// waiting for a completion event of the given kind.
type Pending struct {
	Kind      string
	TaskID    string
	Tag       node.Tag
	CreatedAt time.Time
	Deadline  time.Time
}

// PendingRegistry routes asynchronous completions back to the task that
// initiated them. One entry per event kind; re-registering a kind replaces
// the previous entry.
type PendingRegistry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]Pending
}

// NewPendingRegistry builds a registry with the given entry TTL.
func NewPendingRegistry(ttl time.Duration) *PendingRegistry {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingRegistry{ttl: ttl, entries: map[string]Pending{}}
}

// Register records that taskID awaits a completion event of kind, correlated
// by tag.
func (p *PendingRegistry) Register(kind, taskID string, tag node.Tag) {
	now := time.Now()
	p.mu.Lock()
	p.entries[kind] = Pending{
		Kind:      kind,
		TaskID:    taskID,
		Tag:       tag,
		CreatedAt: now,
		Deadline:  now.Add(p.ttl),
	}
	p.mu.Unlock()
}

// Resolve removes and returns the entry for kind.
func (p *PendingRegistry) Resolve(kind string) (Pending, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[kind]
	if ok {
		delete(p.entries, kind)
	}
	return entry, ok
}

// CancelTask clears every entry belonging to a terminating task.
func (p *PendingRegistry) CancelTask(taskID string) {
	p.mu.Lock()
	for kind, entry := range p.entries {
		if entry.TaskID == taskID {
			delete(p.entries, kind)
		}
	}
	p.mu.Unlock()
}

// Expire removes entries past their deadline and returns them.
func (p *PendingRegistry) Expire(now time.Time) []Pending {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []Pending
	for kind, entry := range p.entries {
		if now.After(entry.Deadline) {
			expired = append(expired, entry)
			delete(p.entries, kind)
		}
	}
	return expired
}

// Len reports the number of outstanding entries.
func (p *PendingRegistry) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
