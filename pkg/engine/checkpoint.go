// SPDX-License-Identifier: Apache-2.0
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/ecanlabs/weave/pkg/state"
)

// Checkpoint is the durable record of a suspended run: enough to rebuild the
// dispatch loop at the paused node when the matching event arrives.
type Checkpoint struct {
	RunID       string      `json:"runId"`
	SkillID     string      `json:"skillId"`
	NodeID      string      `json:"nodeId"`
	State       state.State `json:"state"`
	SuspendedAt time.Time   `json:"suspendedAt"`
	Tag         string      `json:"tag"`
	Breakpoint  bool        `json:"breakpoint,omitempty"`
}

// CheckpointStore persists checkpoints keyed by run id. One checkpoint per
// run; saving overwrites.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, runID string) (Checkpoint, bool, error)
	Delete(ctx context.Context, runID string) error
	List(ctx context.Context) ([]Checkpoint, error)
}

// MemoryStore is the default in-process checkpoint store.
type MemoryStore struct {
	mu  sync.RWMutex
	cps map[string]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cps: map[string]Checkpoint{}}
}

func (m *MemoryStore) Save(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[cp.RunID] = cp
	return nil
}

func (m *MemoryStore) Load(_ context.Context, runID string) (Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.cps[runID]
	return cp, ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, runID)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Checkpoint, 0, len(m.cps))
	for _, cp := range m.cps {
		out = append(out, cp)
	}
	return out, nil
}
