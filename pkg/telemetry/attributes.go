// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires slog and OpenTelemetry for the workflow runtime:
// trace-aware logging, exporter setup and shared span attribute helpers.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for workflow telemetry. LLM attributes follow the
// standard gen_ai conventions; everything else lives under the weave.*
// namespace.
const (
	// Skill attributes
	AttrSkillName   = "weave.skill.name"
	AttrSkillOwner  = "weave.skill.owner"
	AttrSkillMode   = "weave.skill.mode"
	AttrSkillSource = "weave.skill.source"

	// Run attributes
	AttrRunID    = "weave.run.id"
	AttrRunSteps = "weave.run.n_steps"

	// Node attributes
	AttrNodeID   = "weave.node.id"
	AttrNodeKind = "weave.node.kind"

	// Task attributes
	AttrTaskID       = "weave.task.id"
	AttrTaskStatus   = "weave.task.status"
	AttrTaskQueueLen = "weave.task.queue_len"

	// Event attributes
	AttrEventType = "weave.event.type"
	AttrEventTag  = "weave.event.tag"
	AttrEventSrc  = "weave.event.src"

	// Tool attributes
	AttrToolName       = "weave.tool.name"
	AttrToolDurationMs = "weave.tool.duration_ms"
	AttrToolSuccess    = "weave.tool.success"
	AttrToolArgs       = "weave.tool.arguments"
	AttrToolResult     = "weave.tool.result"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs   = "gen_ai.duration_ms"
	AttrLLMFinishReason = "gen_ai.finish_reason"
)

// SkillAttributes returns the attributes identifying a skill.
func SkillAttributes(name, owner, mode string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSkillName, name),
	}
	if owner != "" {
		attrs = append(attrs, attribute.String(AttrSkillOwner, owner))
	}
	if mode != "" {
		attrs = append(attrs, attribute.String(AttrSkillMode, mode))
	}
	return attrs
}

// NodeAttributes returns the attributes for one node dispatch span.
func NodeAttributes(nodeID, kind, skill, runID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrNodeID, nodeID),
		attribute.String(AttrSkillName, skill),
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(AttrNodeKind, kind))
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	return attrs
}

// TaskAttributes returns the attributes for task runtime spans.
func TaskAttributes(taskID, status string, queueLen int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrTaskStatus, status))
	}
	if queueLen >= 0 {
		attrs = append(attrs, attribute.Int(AttrTaskQueueLen, queueLen))
	}
	return attrs
}

// EventAttributes returns the attributes describing an inbound event.
func EventAttributes(eventType, tag, src string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrEventType, eventType),
	}
	if tag != "" {
		attrs = append(attrs, attribute.String(AttrEventTag, tag))
	}
	if src != "" {
		attrs = append(attrs, attribute.String(AttrEventSrc, src))
	}
	return attrs
}

// ToolCallAttributes returns the attributes for a remote tool call span.
func ToolCallAttributes(name string, durationMs float64, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.Float64(AttrToolDurationMs, durationMs),
		attribute.Bool(AttrToolSuccess, success),
	}
}

// ToolCallArgsResult returns truncated argument/result attributes. Payloads
// are capped so spans stay within exporter limits.
func ToolCallArgsResult(args, result string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	attrs := []attribute.KeyValue{}
	if args != "" {
		if len(args) > maxLen {
			args = args[:maxLen] + "..."
		}
		attrs = append(attrs, attribute.String(AttrToolArgs, args))
	}
	if result != "" {
		if len(result) > maxLen {
			result = result[:maxLen] + "..."
		}
		attrs = append(attrs, attribute.String(AttrToolResult, result))
	}
	return attrs
}

// LLMAttributes returns the attributes for an LLM call span.
func LLMAttributes(model, provider string, msgCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64, finishReason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	if finishReason != "" {
		attrs = append(attrs, attribute.String(AttrLLMFinishReason, finishReason))
	}
	return attrs
}
