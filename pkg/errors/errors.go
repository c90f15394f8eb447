// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Weave.
package errors

import (
	"encoding/json"
	"fmt"
)

// Kind classifies Weave errors for monitoring and recovery.
type Kind string

const (
	// KindConfig indicates a malformed skill or a missing required field.
	KindConfig Kind = "CONFIG"

	// KindCompileFailure indicates an unknown node type or unresolved edge target.
	KindCompileFailure Kind = "COMPILE_FAILURE"

	// KindNodeFailure indicates a node exhausted its wrapper retries.
	KindNodeFailure Kind = "NODE_FAILURE"

	// KindMaxStepsExceeded indicates a run hit its step budget.
	KindMaxStepsExceeded Kind = "MAX_STEPS_EXCEEDED"

	// KindToolCallFailure indicates an LLM or remote tool call failed.
	KindToolCallFailure Kind = "TOOL_CALL_FAILURE"

	// KindResumeTagMismatch indicates a resume tag did not match the suspended token.
	KindResumeTagMismatch Kind = "RESUME_TAG_MISMATCH"

	// KindQueueFull indicates a bounded task queue rejected an event.
	KindQueueFull Kind = "QUEUE_FULL"

	// KindCancelled indicates the run was cancelled.
	KindCancelled Kind = "CANCELLED"

	// KindDeadline indicates an operation exceeded its time limit.
	KindDeadline Kind = "DEADLINE"

	// KindMappingError indicates an unresolvable mapping target path conflict.
	KindMappingError Kind = "MAPPING_ERROR"

	// KindSchemaValidation indicates remote tool input failed validation after coercion.
	KindSchemaValidation Kind = "SCHEMA_VALIDATION"

	// KindInternal indicates an internal system error.
	KindInternal Kind = "INTERNAL_ERROR"
)

// WeaveError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type WeaveError struct {
	Kind        Kind
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *WeaveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *WeaveError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *WeaveError) MarshalJSON() ([]byte, error) {
	type Alias WeaveError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Kind        string `json:"kind"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Kind:        string(e.Kind),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new WeaveError with the given kind, message, and cause.
func New(kind Kind, msg string, cause error) *WeaveError {
	return &WeaveError{
		Kind:       kind,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *WeaveError) WithContext(key string, value interface{}) *WeaveError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *WeaveError) WithAttribute(key, value string) *WeaveError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *WeaveError) WithRecoverable(recoverable bool) *WeaveError {
	e.Recoverable = recoverable
	return e
}

// AsWeaveError attempts to convert an error to a WeaveError.
// Returns the error as WeaveError if it is one, or wraps it otherwise.
func AsWeaveError(err error) *WeaveError {
	if err == nil {
		return nil
	}
	if we, ok := err.(*WeaveError); ok {
		return we
	}
	return New(KindInternal, "wrapped error", err)
}

// IsKind reports whether err is a WeaveError of the given kind.
func IsKind(err error, kind Kind) bool {
	we, ok := err.(*WeaveError)
	return ok && we.Kind == kind
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *WeaveError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
