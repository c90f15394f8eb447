// SPDX-License-Identifier: Apache-2.0
package task

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ecanlabs/weave/pkg/engine"
	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/event"
	"github.com/ecanlabs/weave/pkg/guardrails"
	"github.com/ecanlabs/weave/pkg/llm"
	"github.com/ecanlabs/weave/pkg/mcp"
	"github.com/ecanlabs/weave/pkg/node"
	"github.com/ecanlabs/weave/pkg/relay"
	"github.com/ecanlabs/weave/pkg/resilience"
	"github.com/ecanlabs/weave/pkg/state"
)

// DefaultMaxParallel bounds concurrently executing runs across tasks.
const DefaultMaxParallel = 8

// Collaborators are the shared node dependencies the runner injects into
// every dispatch.
type Collaborators struct {
	LLM      llm.Provider
	Tools    node.ToolCaller
	Registry *mcp.Registry
	Prompts  node.PromptStore
	Relay    relay.Sender
}

// Runner hosts one agent's tasks: it spawns a dispatch fiber per task,
// bounds run parallelism with a weighted semaphore and routes events to the
// task that is waiting for them.
type Runner struct {
	agentID   string
	agentName string
	engine    *engine.Engine
	collab    Collaborators
	sem       *semaphore.Weighted
	retry     resilience.RetryConfig
	pending   *PendingRegistry
	guard     *guardrails.Guardrails
	log       *slog.Logger
	tracer    trace.Tracer
	metrics   *runnerMetrics

	mu      sync.RWMutex
	tasks   map[string]*Task
	chatter string

	baseCtx context.Context
	stop    context.CancelFunc
	sweep   *sweeper
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEngine replaces the default engine.
func WithEngine(e *engine.Engine) RunnerOption {
	return func(r *Runner) { r.engine = e }
}

// WithCollaborators wires the shared node dependencies.
func WithCollaborators(c Collaborators) RunnerOption {
	return func(r *Runner) { r.collab = c }
}

// WithMaxParallel caps concurrently executing runs. Tasks beyond the cap
// keep their events queued until a slot frees.
func WithMaxParallel(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithDeliveryRetry sets the bounded retry applied to event delivery when a
// task queue is momentarily full.
func WithDeliveryRetry(rc resilience.RetryConfig) RunnerOption {
	return func(r *Runner) { r.retry = rc }
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// WithGuardrails screens inbound conversational text before it seeds a run.
// Blocked events are dropped; filtered text replaces the original.
func WithGuardrails(g *guardrails.Guardrails) RunnerOption {
	return func(r *Runner) { r.guard = g }
}

// WithPendingTTL sets how long an unanswered pending completion may live
// before the sweeper expires it.
func WithPendingTTL(ttl time.Duration) RunnerOption {
	return func(r *Runner) { r.pending = NewPendingRegistry(ttl) }
}

// NewRunner builds a runner for one agent.
func NewRunner(agentID, agentName string, opts ...RunnerOption) *Runner {
	r := &Runner{
		agentID:   agentID,
		agentName: agentName,
		engine:    engine.New(),
		sem:       semaphore.NewWeighted(DefaultMaxParallel),
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(3).
			WithBaseDelay(10 * time.Millisecond),
		pending: NewPendingRegistry(DefaultPendingTTL),
		log:     slog.Default(),
		tracer:  otel.Tracer("weave/task"),
		metrics: newRunnerMetrics(),
		tasks:   map[string]*Task{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AgentID returns the hosting agent's id.
func (r *Runner) AgentID() string { return r.agentID }

// Engine exposes the engine, mainly so callers can share its checkpoint
// store.
func (r *Runner) Engine() *engine.Engine { return r.engine }

// Pending exposes the pending-completion registry for nodes that submit
// asynchronous remote work.
func (r *Runner) Pending() *PendingRegistry { return r.pending }

// Start makes the runner live. Tasks can be spawned before or after.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.baseCtx != nil {
		return nil
	}
	r.baseCtx, r.stop = context.WithCancel(context.WithoutCancel(ctx))
	r.sweep = newSweeper(r, DefaultSweepInterval)
	r.sweep.start(r.baseCtx)
	r.log.Info("task.runner.start", "agent_id", r.agentID)
	return nil
}

// Stop cancels every fiber and waits for them to drain, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	stop := r.stop
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.baseCtx = nil
	r.stop = nil
	sw := r.sweep
	r.sweep = nil
	r.mu.Unlock()

	if stop == nil {
		return nil
	}
	if sw != nil {
		sw.stopWait()
	}
	for _, t := range tasks {
		t.queue.Close()
	}
	stop()
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return errors.New(errors.KindDeadline, "task runner drain timed out", ctx.Err()).
				WithContext("agent_id", r.agentID)
		}
	}
	r.log.Info("task.runner.stop", "agent_id", r.agentID)
	return nil
}

// Spawn creates a task and starts its dispatch fiber.
func (r *Runner) Spawn(spec Spec) (*Task, error) {
	if spec.ID == "" {
		return nil, errors.New(errors.KindConfig, "task id required", nil)
	}
	if spec.Skill == nil || spec.Skill.Graph == nil {
		return nil, errors.New(errors.KindConfig, "task needs a compiled skill", nil).
			WithContext("task_id", spec.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.baseCtx == nil {
		return nil, errors.New(errors.KindInternal, "runner not started", nil)
	}
	if _, exists := r.tasks[spec.ID]; exists {
		return nil, errors.New(errors.KindConfig, "task already exists", nil).
			WithContext("task_id", spec.ID)
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	t := &Task{
		ID:     spec.ID,
		ChatID: spec.ChatID,
		Skill:  spec.Skill,
		queue:  NewQueue(spec.QueueSize),
		cancel: cancel,
		done:   make(chan struct{}),
		status: StatusIdle,
	}
	r.tasks[spec.ID] = t
	if spec.Chatter {
		r.chatter = spec.ID
	}
	go r.serve(ctx, t)
	r.log.Info("task.spawn",
		"task_id", spec.ID, "skill", spec.Skill.Name, "chatter", spec.Chatter)
	return t, nil
}

// Task looks up a managed task by id.
func (r *Runner) Task(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Tasks returns the managed tasks sorted by id.
func (r *Runner) Tasks() []*Task {
	r.mu.RLock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Kill cancels a task's fiber, clears its pending entries and removes it.
func (r *Runner) Kill(id string) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if ok {
		delete(r.tasks, id)
		if r.chatter == id {
			r.chatter = ""
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	t.CancelRun()
	t.queue.Close()
	t.cancel()
	r.pending.CancelTask(id)
}

// Deliver normalizes an inbound payload and enqueues it on the named task.
// A momentarily full queue is retried with bounded backoff; exhaustion
// surfaces QueueFull to the caller.
func (r *Runner) Deliver(ctx context.Context, taskID string, raw any) error {
	t, ok := r.Task(taskID)
	if !ok {
		return errors.New(errors.KindInternal, "no such task", nil).
			WithContext("task_id", taskID)
	}
	env := event.Normalize(raw)
	err := r.retry.Do(ctx, func() error { return t.queue.Enqueue(env) })
	if err != nil {
		r.metrics.dropped(ctx, taskID)
		r.log.Warn("task.deliver.dropped",
			"task_id", taskID, "event_type", string(env.Type), "error", err.Error())
		return err
	}
	return nil
}

// Route delivers a payload to whichever task is waiting for it: a pending
// completion entry matches by event type, everything else lands on the
// chatter task.
func (r *Runner) Route(ctx context.Context, raw any) error {
	env := event.Normalize(raw)
	if p, ok := r.pending.Resolve(string(env.Type)); ok {
		if env.Tag == "" {
			env.Tag = string(p.Tag)
		}
		return r.Deliver(ctx, p.TaskID, env)
	}
	r.mu.RLock()
	chatter := r.chatter
	r.mu.RUnlock()
	if chatter == "" {
		return errors.New(errors.KindInternal, "no route for event", nil).
			WithContext("event_type", string(env.Type))
	}
	return r.Deliver(ctx, chatter, env)
}

// serve is the task's dispatch fiber. Events are handled strictly in FIFO
// order; within a task there is no parallelism.
func (r *Runner) serve(ctx context.Context, t *Task) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			t.setStatus(StatusStopped)
			return
		case env, ok := <-t.queue.C():
			if !ok {
				t.setStatus(StatusStopped)
				return
			}
			r.handle(ctx, t, env)
		}
	}
}

func (r *Runner) handle(ctx context.Context, t *Task, env event.Envelope) {
	if env.Type == event.TypeCancel {
		r.cancelTask(ctx, t)
		return
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer r.sem.Release(1)

	ctx, span := r.tracer.Start(ctx, "task.dispatch", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("skill", t.Skill.Name),
		attribute.String("event.type", string(env.Type)),
	))
	defer span.End()

	runCtx, cancel := context.WithCancel(ctx)
	t.setRunCancel(cancel)
	defer cancel()

	var (
		res *engine.Result
		err error
	)
	if susp := t.Suspension(); susp != nil {
		res, err = r.resume(runCtx, t, susp, env)
		if err != nil && errors.IsKind(err, errors.KindResumeTagMismatch) {
			// The suspension stays parked; the event is dropped.
			r.log.Warn("task.resume.tag_mismatch",
				"task_id", t.ID, "run_id", susp.RunID,
				"tag", string(susp.Tag), "event_tag", env.Tag)
			return
		}
	} else {
		res, err = r.start(runCtx, t, env)
	}
	t.absorb(res)
	r.observe(ctx, t, res, err)
}

func (r *Runner) start(ctx context.Context, t *Task, env event.Envelope) (*engine.Result, error) {
	if r.guard != nil {
		if text, ok := env.Data["human_text"].(string); ok && text != "" {
			clean, verdict := r.guard.ScreenInput(ctx, text)
			if verdict.Blocked {
				r.log.Warn("task.guardrail.blocked",
					"task_id", t.ID, "guardrail", verdict.GuardrailID, "reason", verdict.Reason)
				return nil, nil
			}
			env.Data["human_text"] = clean
		}
	}
	rules := t.Skill.RuleSet()
	st := r.initialState(t, env, rules)
	t.setStatus(StatusRunning)
	r.metrics.started(ctx, t.Skill.Name)
	return r.engine.Run(ctx, t.Skill.Graph.Graph, st, r.runContext(t))
}

func (r *Runner) resume(ctx context.Context, t *Task, susp *engine.Suspension, env event.Envelope) (*engine.Result, error) {
	rules := t.Skill.RuleSet()
	res := event.ApplyForNode(rules, susp.NodeID, env, t.State())

	payload := res.Resume
	if payload == nil {
		payload = map[string]any{}
	}
	if _, ok := payload["event_type"]; !ok {
		payload["event_type"] = string(env.Type)
	}
	if len(res.Patch) > 0 {
		if patch, ok := payload["_state_patch"].(map[string]any); ok {
			state.DeepMerge(state.State(patch), res.Patch)
		} else {
			payload["_state_patch"] = res.Patch
		}
	}

	tag := node.Tag(env.Tag)
	if tag == "" {
		// Untagged events resume the waiting node they were routed to.
		tag = susp.Tag
	}
	r.metrics.resumed(ctx, t.Skill.Name)
	return r.engine.Resume(ctx, t.Skill.Graph.Graph, susp.RunID, tag, payload, r.runContext(t))
}

// initialState seeds the run record from the triggering event and the
// skill's mapping rules.
func (r *Runner) initialState(t *Task, env event.Envelope, rules event.RuleSet) state.State {
	text, _ := env.Data["human_text"].(string)
	msgID, _ := env.Ctx["msgId"].(string)
	chatID := t.ChatID
	if v, ok := env.Ctx["chatId"].(string); ok && v != "" {
		chatID = v
	}
	st := state.New(r.agentID, chatID, msgID, t.ID, text)
	res := event.Apply(rules, env, st)
	state.DeepMerge(st, res.Patch)
	for _, d := range res.Diagnostics {
		r.log.Debug("task.mapping.diagnostic", "task_id", t.ID, "detail", d)
	}
	st.AppendEvent(string(env.Type))
	return st
}

func (r *Runner) runContext(t *Task) *node.RunContext {
	return &node.RunContext{
		Node: node.Identity{
			SkillName: t.Skill.Name,
			Owner:     t.Skill.Owner,
		},
		LLM:      r.collab.LLM,
		Tools:    r.collab.Tools,
		Registry: r.collab.Registry,
		Prompts:  r.collab.Prompts,
		Relay:    r.collab.Relay,
		Log:      r.log.With("agent_id", r.agentID, "task_id", t.ID),
	}
}

// cancelTask aborts the in-flight run and discards any parked suspension,
// including its checkpoint.
func (r *Runner) cancelTask(ctx context.Context, t *Task) {
	t.CancelRun()
	if susp := t.Suspension(); susp != nil {
		if err := r.engine.Store().Delete(ctx, susp.RunID); err != nil {
			r.log.Warn("task.cancel.checkpoint", "run_id", susp.RunID, "error", err.Error())
		}
		t.dropSuspension()
	}
	r.pending.CancelTask(t.ID)
	r.log.Info("task.cancelled", "task_id", t.ID)
}

func (r *Runner) observe(ctx context.Context, t *Task, res *engine.Result, err error) {
	if err != nil {
		r.metrics.failed(ctx, t.Skill.Name)
		r.log.Error("task.run.error",
			"task_id", t.ID, "skill", t.Skill.Name, "error", err.Error())
		r.notifyFailure(ctx, t, err)
		return
	}
	if res == nil {
		return
	}
	switch res.Status {
	case engine.StatusSuspended:
		susp := res.Suspension
		if susp.Info != nil && susp.Info.WaitEvent != "" {
			r.pending.Register(susp.Info.WaitEvent, t.ID, susp.Tag)
		}
		r.log.Info("task.run.suspended",
			"task_id", t.ID, "run_id", res.RunID,
			"node", susp.NodeID, "tag", string(susp.Tag))
	case engine.StatusCompleted:
		r.log.Info("task.run.completed", "task_id", t.ID, "run_id", res.RunID)
	case engine.StatusCancelled:
		r.log.Info("task.run.cancelled", "task_id", t.ID, "run_id", res.RunID)
	}
}

// notifyFailure surfaces a terminal run failure to the chat surface so the
// human is not left waiting on a task that silently died.
func (r *Runner) notifyFailure(ctx context.Context, t *Task, err error) {
	if r.collab.Relay == nil {
		return
	}
	we := errors.AsWeaveError(err)
	env := relay.NewEnvelope(r.agentID, r.agentName, "assistant", relay.Content{
		Type: "notification",
		Notification: map[string]any{
			"kind":    "task_failed",
			"task_id": t.ID,
			"skill":   t.Skill.Name,
			"error":   we.Error(),
		},
	})
	if serr := r.collab.Relay.Send(ctx, t.ChatID, env); serr != nil {
		r.log.Warn("task.failure.notify",
			"task_id", t.ID, "error", serr.Error())
	}
}
