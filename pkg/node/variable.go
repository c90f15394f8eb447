// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"

	"github.com/ecanlabs/weave/pkg/state"
)

// NewVariableNode builds the assignment node: each entry writes a constant
// value at a dotted state path, creating intermediate maps as needed.
func NewVariableNode(cfg Config) Func {
	raw := cfg.List("assignments")
	type assignment struct {
		target string
		value  any
	}
	assigns := make([]assignment, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		target, _ := m["target"].(string)
		if target == "" {
			continue
		}
		assigns = append(assigns, assignment{target: target, value: content(m["value"])})
	}

	return func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
		for _, a := range assigns {
			if err := state.SetPath(map[string]any(st), a.target, a.value); err != nil {
				rc.Logger().Warn("node.variable.skip", "target", a.target, "error", err)
			}
		}
		return Continue(st), nil
	}
}
