package models

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a failure for retry decisions and API reporting
type ErrorKind string

const (
	// ErrInvalidPipeline indicates DAG cycles, unknown steps, or parameter
	// violations. Terminal, surfaced synchronously at submit.
	ErrInvalidPipeline ErrorKind = "invalid_pipeline"

	// ErrRepoNotAccessible indicates filesystem or permission errors on the
	// repository root. Terminal.
	ErrRepoNotAccessible ErrorKind = "repo_not_accessible"

	// ErrTransientGraph indicates a retryable graph database failure
	// (connection reset, leader election).
	ErrTransientGraph ErrorKind = "transient_graph_error"

	// ErrQuery indicates a non-retryable graph query failure
	ErrQuery ErrorKind = "query_error"

	// ErrSchema indicates a non-retryable schema operation failure
	ErrSchema ErrorKind = "schema_error"

	// ErrConnection indicates the graph database is unreachable
	ErrConnection ErrorKind = "connection_error"

	// ErrExternalTool indicates an AST extractor container failure.
	// Retryable when the exit classifies transient, terminal otherwise.
	ErrExternalTool ErrorKind = "external_tool_error"

	// ErrLLM indicates an LLM adapter failure. Rate limits and timeouts are
	// retryable; auth and invalid-request failures are terminal.
	ErrLLM ErrorKind = "llm_error"

	// ErrTimeout indicates an orchestrator-imposed step timeout.
	// Counts as a failed attempt.
	ErrTimeout ErrorKind = "timeout_error"

	// ErrCancelled indicates cooperative cancellation. Not an attempt failure.
	ErrCancelled ErrorKind = "cancelled"

	// ErrNotFound indicates an unknown job ID
	ErrNotFound ErrorKind = "not_found"

	// ErrInternal indicates an unclassified internal failure
	ErrInternal ErrorKind = "internal_error"
)

// ErrorRecord is the structured error carried on jobs, steps, and events
type ErrorRecord struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Step     string    `json:"step,omitempty"`
	Cause    []string  `json:"cause,omitempty"` // Cause chain, outermost first
	Attempts int       `json:"attempts,omitempty"`
}

// Error implements the error interface
func (e *ErrorRecord) Error() string {
	if e == nil {
		return ""
	}
	if e.Step != "" {
		return fmt.Sprintf("%s: step %s: %s", e.Kind, e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the error kind is retryable under default policy
func (e *ErrorRecord) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case ErrTransientGraph, ErrTimeout:
		return true
	case ErrExternalTool, ErrLLM:
		// Tool and LLM errors carry their own classification in the message
		// path; steps mark terminal variants by recording a non-retryable
		// kind instead.
		return true
	default:
		return false
	}
}

// NewErrorRecord builds an ErrorRecord from an error, unwrapping the cause chain
func NewErrorRecord(kind ErrorKind, step string, err error) *ErrorRecord {
	record := &ErrorRecord{
		Kind: kind,
		Step: step,
	}
	if err != nil {
		record.Message = err.Error()
		record.Cause = causeChain(err)
	}
	return record
}

// Errorf builds an ErrorRecord from a format string
func Errorf(kind ErrorKind, step, format string, args ...any) *ErrorRecord {
	return &ErrorRecord{
		Kind:    kind,
		Step:    step,
		Message: fmt.Sprintf(format, args...),
	}
}

// causeChain flattens a wrapped error into its component messages.
// fmt.Errorf("%w") chains produce nested "a: b: c" messages; splitting on the
// separator gives a readable chain without requiring typed causes.
func causeChain(err error) []string {
	parts := strings.Split(err.Error(), ": ")
	if len(parts) <= 1 {
		return nil
	}
	return parts
}
