// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BuildFunc constructs one code-defined skill.
type BuildFunc func(ctx context.Context) (*Skill, error)

// CodeRegistry holds the code-defined skill builders registered at init.
type CodeRegistry struct {
	mu       sync.Mutex
	names    []string
	builders map[string]BuildFunc
	log      *slog.Logger
}

// NewCodeRegistry builds an empty registry.
func NewCodeRegistry() *CodeRegistry {
	return &CodeRegistry{builders: map[string]BuildFunc{}, log: slog.Default()}
}

// Register adds a builder. Registration order is preserved; a duplicate name
// replaces the earlier builder.
func (r *CodeRegistry) Register(name string, build BuildFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builders[name]; !exists {
		r.names = append(r.names, name)
	}
	r.builders[name] = build
}

// Len reports the number of registered builders.
func (r *CodeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.builders)
}

// Concurrency per build batch. Later batches narrow so heavyweight skills
// registered last do not contend for resources.
var batchLimits = [3]int{8, 4, 1}

// BuildAll constructs every registered skill in three batches of decreasing
// concurrency. A builder failure skips that skill with a warning; the rest
// of the batch proceeds.
func (r *CodeRegistry) BuildAll(ctx context.Context) []*Skill {
	r.mu.Lock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	builders := make(map[string]BuildFunc, len(r.builders))
	for name, b := range r.builders {
		builders[name] = b
	}
	r.mu.Unlock()

	var (
		outMu  sync.Mutex
		skills []*Skill
	)
	for i, batch := range splitBatches(names) {
		if len(batch) == 0 {
			continue
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(batchLimits[i])
		for _, name := range batch {
			g.Go(func() error {
				skill, err := builders[name](gctx)
				if err != nil {
					r.log.Warn("catalog.code.build_failed", "skill", name, "error", err.Error())
					return nil
				}
				if skill.ID == "" {
					skill.ID = CodeSkillID(skill.Name, SourceCode)
				}
				skill.Source = SourceCode
				outMu.Lock()
				skills = append(skills, skill)
				outMu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}
	return skills
}

// splitBatches cuts names into three contiguous, roughly equal batches.
func splitBatches(names []string) [3][]string {
	var out [3][]string
	n := len(names)
	if n == 0 {
		return out
	}
	third := (n + 2) / 3
	for i := 0; i < 3; i++ {
		lo := i * third
		hi := lo + third
		if lo > n {
			lo = n
		}
		if hi > n {
			hi = n
		}
		out[i] = names[lo:hi]
	}
	return out
}
