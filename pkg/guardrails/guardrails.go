// SPDX-License-Identifier: Apache-2.0

// Package guardrails screens conversational text entering the workflow
// runtime. Checkers can block an inbound event outright (prompt injection,
// forbidden content) and filters can mask sensitive spans (PII) before the
// text seeds run state.
package guardrails

import "context"

// CheckResult is the outcome of an input check.
type CheckResult struct {
	Blocked bool
	Reason  string
	// GuardrailID identifies the checker that blocked.
	GuardrailID string
}

// FilterResult is the outcome of content filtering.
type FilterResult struct {
	Content    string
	Modified   bool
	Redactions []Redaction
}

// Redaction describes one masked span.
type Redaction struct {
	Type        string // e.g. "pii:email"
	Replacement string
}

// InputChecker validates text before it enters a run.
type InputChecker interface {
	CheckInput(ctx context.Context, input string) CheckResult
	ID() string
}

// Filter rewrites text, masking spans that must not reach the LLM or the
// run state.
type Filter interface {
	Filter(ctx context.Context, content string) FilterResult
	ID() string
}

// Guardrails chains input checkers and filters.
type Guardrails struct {
	checkers []InputChecker
	filters  []Filter
}

// Option configures a Guardrails chain.
type Option func(*Guardrails)

// WithInputChecker appends an input checker.
func WithInputChecker(c InputChecker) Option {
	return func(g *Guardrails) { g.checkers = append(g.checkers, c) }
}

// WithFilter appends a content filter.
func WithFilter(f Filter) Option {
	return func(g *Guardrails) { g.filters = append(g.filters, f) }
}

// New builds a guardrails chain.
func New(opts ...Option) *Guardrails {
	g := &Guardrails{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckInput runs the checkers in order and returns the first blocking
// verdict.
func (g *Guardrails) CheckInput(ctx context.Context, input string) CheckResult {
	for _, c := range g.checkers {
		if ctx.Err() != nil {
			return CheckResult{Blocked: true, Reason: "check cancelled", GuardrailID: "system"}
		}
		if res := c.CheckInput(ctx, input); res.Blocked {
			if res.GuardrailID == "" {
				res.GuardrailID = c.ID()
			}
			return res
		}
	}
	return CheckResult{}
}

// Apply runs the filters in sequence, each receiving the previous output.
func (g *Guardrails) Apply(ctx context.Context, content string) FilterResult {
	out := FilterResult{Content: content}
	for _, f := range g.filters {
		if ctx.Err() != nil {
			return out
		}
		res := f.Filter(ctx, out.Content)
		if res.Modified {
			out.Content = res.Content
			out.Modified = true
			out.Redactions = append(out.Redactions, res.Redactions...)
		}
	}
	return out
}

// ScreenInput is the single entry point the task runtime uses: check first,
// then mask. A blocked verdict leaves the content untouched.
func (g *Guardrails) ScreenInput(ctx context.Context, input string) (string, CheckResult) {
	if g == nil {
		return input, CheckResult{}
	}
	if verdict := g.CheckInput(ctx, input); verdict.Blocked {
		return input, verdict
	}
	return g.Apply(ctx, input).Content, CheckResult{}
}
