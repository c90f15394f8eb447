// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"sort"
	"sync"
)

// Catalog is the published skill set. Reads are lock-cheap; hot reload swaps
// the whole map atomically so readers never see a half-built catalog.
type Catalog struct {
	mu      sync.RWMutex
	skills  map[string]*Skill
	version int64
}

// NewCatalog builds an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{skills: map[string]*Skill{}}
}

// Get returns the published skill by name.
func (c *Catalog) Get(name string) (*Skill, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.skills[name]
	return s, ok
}

// Names lists published skill names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.skills))
	for name := range c.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of published skills.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.skills)
}

// Version increments on every publish.
func (c *Catalog) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Swap publishes a new skill set atomically.
func (c *Catalog) Swap(skills []*Skill) {
	next := make(map[string]*Skill, len(skills))
	for _, s := range skills {
		if s == nil || s.Name == "" {
			continue
		}
		next[s.Name] = s
	}
	c.mu.Lock()
	c.skills = next
	c.version++
	c.mu.Unlock()
}
