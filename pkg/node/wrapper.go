// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"
	"time"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/resilience"
	"github.com/ecanlabs/weave/pkg/state"
)

// snapshotKeys is the checkpoint-safe subset of state carried in a
// breakpoint interrupt. Heavy or transient keys stay out.
var snapshotKeys = []string{
	state.KeyMessages, state.KeyMetadata, state.KeyAttributes,
	state.KeyResult, state.KeyToolInput, state.KeyToolResult,
	state.KeyError, state.KeyRetries, state.KeyCondition, state.KeyCase,
	state.KeyEvents,
}

// SafeView copies the whitelisted keys of st into a fresh state suitable for
// serialization in interrupts and checkpoints.
func SafeView(st state.State) state.State {
	out := state.State{}
	for _, k := range snapshotKeys {
		if v, ok := st[k]; ok {
			out[k] = v
		}
	}
	return out.Clone()
}

// Wrap decorates a node body with the shared runtime concerns: identity
// injection, a retry loop with exponential backoff, and the breakpoint check.
//
// Retries come from state.retries when set, otherwise from retry.MaxAttempts.
// A suspension is not an error and is never retried. When the node succeeds
// and carries a breakpoint, the wrapper emits a breakpoint interrupt with a
// snapshot of the resulting state; the engine then resumes at the successor.
func Wrap(fn Func, id Identity, bp *BreakpointManager, retry resilience.RetryConfig) Func {
	return func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
		if rc == nil {
			rc = &RunContext{}
		}
		rc.Node = id

		// A resume of a breakpoint suspension re-enters here with the
		// post-body state already in hand; skip straight to the successor.
		if rc.Resumed && rc.BreakpointResume {
			rc.BreakpointResume = false
			return Continue(st), nil
		}

		attrs := st.Attributes()
		attrs["__this_node__"] = map[string]any{
			"name":       id.NodeID,
			"skill_name": id.SkillName,
			"owner":      id.Owner,
		}

		maxAttempts := retry.MaxAttempts
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		if n, ok := st[state.KeyRetries]; ok {
			if declared := intFromAny(n); declared > 0 {
				maxAttempts = declared
			}
		}

		log := rc.Logger()
		var out Outcome
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if attempt > 1 {
				select {
				case <-ctx.Done():
					return Outcome{}, errors.New(errors.KindCancelled, "node retry interrupted", ctx.Err()).
						WithContext("node", id.FullName())
				case <-time.After(retry.Backoff(attempt - 1)):
				}
			}

			out, lastErr = fn(ctx, st, rc)
			if lastErr == nil {
				break
			}
			log.Warn("node.attempt.failed",
				"node", id.FullName(),
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"error", lastErr)
			if ctx.Err() != nil {
				break
			}
		}
		if lastErr != nil {
			return Outcome{}, errors.New(errors.KindNodeFailure, "node execution failed", lastErr).
				WithContext("node", id.FullName()).
				WithContext("attempts", maxAttempts)
		}

		if out.Suspend != nil {
			return out, nil
		}
		if out.State == nil {
			out.State = st
		}

		if bp.Has(id.NodeID) {
			log.Info("node.breakpoint.hit", "node", id.FullName())
			return Suspended(out.State, &Interrupt{
				Tag:        Tag(id.NodeID),
				PausedAt:   id.NodeID,
				Breakpoint: true,
				Snapshot:   SafeView(out.State),
			}), nil
		}
		return out, nil
	}
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
