// SPDX-License-Identifier: Apache-2.0
package node

import "sync"

// BreakpointManager is the per-skill set of node ids that pause execution.
// The control plane mutates it; wrappers only read it.
type BreakpointManager struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewBreakpointManager builds a manager pre-populated with the given ids.
func NewBreakpointManager(ids ...string) *BreakpointManager {
	m := &BreakpointManager{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		m.ids[id] = struct{}{}
	}
	return m
}

// Set adds a breakpoint on the node id.
func (m *BreakpointManager) Set(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[nodeID] = struct{}{}
}

// Clear removes the breakpoint on the node id.
func (m *BreakpointManager) Clear(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, nodeID)
}

// Has reports whether the node id has a breakpoint.
func (m *BreakpointManager) Has(nodeID string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ids[nodeID]
	return ok
}

// List returns the current breakpointed node ids.
func (m *BreakpointManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	return out
}
