// SPDX-License-Identifier: Apache-2.0
// Package engine runs compiled skill graphs: single-threaded node dispatch
// per run with checkpointed state, interrupt/resume and cancellation.
package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/graph"
	"github.com/ecanlabs/weave/pkg/node"
	"github.com/ecanlabs/weave/pkg/state"
)

// DefaultMaxSteps bounds a run when the state carries no max_steps of its
// own.
const DefaultMaxSteps = 50

// Status of a run after the dispatch loop returns.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Suspension is what the task runtime holds while a run is parked: the
// correlation tag a resume event must carry plus the interrupt details to
// surface to the human.
type Suspension struct {
	RunID      string
	SkillName  string
	NodeID     string
	Tag        node.Tag
	Breakpoint bool
	Info       *node.Interrupt
}

// Result is the outcome of Run or Resume.
type Result struct {
	RunID      string
	Status     Status
	State      state.State
	Suspension *Suspension
}

// Engine drives compiled graphs. It is safe for concurrent use across runs;
// within one run dispatch is strictly sequential.
type Engine struct {
	store   CheckpointStore
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore replaces the in-memory checkpoint store.
func WithStore(store CheckpointStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics wires meter instruments into the dispatch loop.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an engine with an in-memory checkpoint store unless overridden.
func New(opts ...Option) *Engine {
	e := &Engine{
		store:  NewMemoryStore(),
		log:    slog.Default(),
		tracer: otel.Tracer("weave/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the checkpoint store, mainly for the task runtime's
// suspension sweeper.
func (e *Engine) Store() CheckpointStore { return e.store }

// Run executes the graph from its entry node until completion, suspension,
// cancellation or failure. rc carries the node collaborators; the engine
// owns the resume fields.
func (e *Engine) Run(ctx context.Context, g *graph.Graph, st state.State, rc *node.RunContext) (*Result, error) {
	ctx, runID := EnsureRunID(ctx)
	return e.dispatch(ctx, g, st, g.Entry, runID, rc, nil)
}

// resumeDelivery tells the first dispatch iteration to re-enter the paused
// node with the payload instead of running it fresh.
type resumeDelivery struct {
	payload    map[string]any
	breakpoint bool
}

// Resume loads the checkpoint for runID, verifies the tag and continues the
// run. For a pend suspension the paused node re-enters its body with the
// payload; for a breakpoint the node body is skipped and dispatch proceeds
// to its successor.
func (e *Engine) Resume(ctx context.Context, g *graph.Graph, runID string, tag node.Tag, payload map[string]any, rc *node.RunContext) (*Result, error) {
	cp, ok, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.KindInternal, "no checkpoint for run", nil).
			WithContext("run_id", runID)
	}
	if cp.Tag != string(tag) {
		return nil, errors.New(errors.KindResumeTagMismatch, "resume tag does not match suspension", nil).
			WithContext("run_id", runID).
			WithContext("expected", cp.Tag).
			WithContext("got", string(tag)).
			WithRecoverable(false)
	}

	e.metrics.recordResume(ctx, cp.SkillID)
	e.log.Info("engine.resume", "run_id", runID, "node", cp.NodeID, "tag", cp.Tag, "breakpoint", cp.Breakpoint)

	ctx = WithRunID(ctx, runID)
	return e.dispatch(ctx, g, cp.State, cp.NodeID, runID, rc, &resumeDelivery{
		payload:    payload,
		breakpoint: cp.Breakpoint,
	})
}

func (e *Engine) dispatch(ctx context.Context, g *graph.Graph, st state.State, current, runID string, rc *node.RunContext, resume *resumeDelivery) (*Result, error) {
	if rc == nil {
		rc = &node.RunContext{}
	}
	skill := rc.Node.SkillName
	started := time.Now()

	for current != "" {
		select {
		case <-ctx.Done():
			e.log.Warn("engine.cancelled", "run_id", runID, "node", current)
			e.metrics.recordFailure(ctx, skill, msSince(started))
			return &Result{RunID: runID, Status: StatusCancelled, State: st},
				errors.New(errors.KindCancelled, "run cancelled", ctx.Err()).
					WithContext("run_id", runID).
					WithContext("node", current)
		default:
		}

		if st.NSteps() >= st.MaxSteps(DefaultMaxSteps) {
			e.metrics.recordFailure(ctx, skill, msSince(started))
			return &Result{RunID: runID, Status: StatusFailed, State: st},
				errors.New(errors.KindMaxStepsExceeded, "step budget exhausted", nil).
					WithContext("run_id", runID).
					WithContext("node", current).
					WithContext("n_steps", st.NSteps()).
					WithRecoverable(false)
		}

		fn, ok := g.Node(current)
		if !ok {
			return &Result{RunID: runID, Status: StatusFailed, State: st},
				errors.New(errors.KindInternal, "node not in graph", nil).
					WithContext("run_id", runID).
					WithContext("node", current)
		}

		stepRC := *rc
		stepRC.Node.NodeID = current
		if resume != nil {
			stepRC.Resume = resume.payload
			stepRC.Resumed = true
			stepRC.BreakpointResume = resume.breakpoint
			resume = nil
		}

		stepCtx, span := e.tracer.Start(ctx, "engine.step",
			trace.WithAttributes(
				attribute.String("run.id", runID),
				attribute.String("node.id", current),
				attribute.String("skill", skill),
			))
		out, err := fn(stepCtx, st, &stepRC)
		span.End()
		if err != nil {
			e.metrics.recordFailure(ctx, skill, msSince(started))
			return &Result{RunID: runID, Status: StatusFailed, State: st}, err
		}
		st = out.State
		e.metrics.recordStep(ctx, skill)

		if out.Suspend != nil {
			cp := Checkpoint{
				RunID:       runID,
				SkillID:     skill,
				NodeID:      current,
				State:       st,
				SuspendedAt: time.Now(),
				Tag:         string(out.Suspend.Tag),
				Breakpoint:  out.Suspend.Breakpoint,
			}
			if err := e.store.Save(ctx, cp); err != nil {
				return &Result{RunID: runID, Status: StatusFailed, State: st}, err
			}
			e.metrics.recordSuspension(ctx, skill, msSince(started))
			e.log.Info("engine.suspended", "run_id", runID, "node", current,
				"tag", string(out.Suspend.Tag), "breakpoint", out.Suspend.Breakpoint)
			return &Result{
				RunID:  runID,
				Status: StatusSuspended,
				State:  st,
				Suspension: &Suspension{
					RunID:      runID,
					SkillName:  skill,
					NodeID:     current,
					Tag:        out.Suspend.Tag,
					Breakpoint: out.Suspend.Breakpoint,
					Info:       out.Suspend,
				},
			}, nil
		}

		next := g.Successor(current, st)
		st.BumpSteps()
		current = next
	}

	if err := e.store.Delete(ctx, runID); err != nil {
		e.log.Warn("engine.checkpoint_cleanup", "run_id", runID, "error", err)
	}
	e.metrics.recordCompletion(ctx, skill, msSince(started))
	e.log.Info("engine.completed", "run_id", runID, "n_steps", st.NSteps())
	return &Result{RunID: runID, Status: StatusCompleted, State: st}, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}
