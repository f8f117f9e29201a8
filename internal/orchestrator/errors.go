package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentforge/internal/agent"
)

// ErrorKind classifies orchestrator failures for logs and metrics
type ErrorKind int

const (
	// ErrorKindUnknown - unclassified error
	ErrorKindUnknown ErrorKind = iota

	// ErrorKindTransport - the remote agent could not be reached or answered non-2xx
	ErrorKindTransport

	// ErrorKindParse - the remote agent answered with an unrecognized body
	ErrorKindParse

	// ErrorKindAgentFailure - the remote agent reported FAILED or CANCELLED
	ErrorKindAgentFailure

	// ErrorKindTimeout - the poll budget ran out before a terminal status
	ErrorKindTimeout

	// ErrorKindUnconfigured - no remote agent is configured
	ErrorKindUnconfigured

	// ErrorKindNoAgent - the session has no remote agent to follow up with
	ErrorKindNoAgent

	// ErrorKindCancelled - the caller cancelled the invocation
	ErrorKindCancelled

	// ErrorKindValidation - the caller broke the contract (build without plan, empty message)
	ErrorKindValidation
)

// String returns the label used in the error_kind log field
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransport:
		return "transport"
	case ErrorKindParse:
		return "parse"
	case ErrorKindAgentFailure:
		return "agent_failure"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindUnconfigured:
		return "unconfigured"
	case ErrorKindNoAgent:
		return "no_agent"
	case ErrorKindCancelled:
		return "cancelled"
	case ErrorKindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Recoverable reports whether a fallback result may stand in for the failure
func (k ErrorKind) Recoverable() bool {
	return k != ErrorKindCancelled && k != ErrorKindValidation
}

var (
	// ErrAgentUnconfigured is the remote-path error when no API key is set
	ErrAgentUnconfigured = errors.New("remote agent is not configured")

	// ErrNoRemoteAgent is the chat-path error for sessions without a linked agent
	ErrNoRemoteAgent = errors.New("session has no remote agent")
)

// AgentFailureError means the remote agent finished in FAILED or CANCELLED
type AgentFailureError struct {
	AgentID string
	Status  agent.Status
	Summary string
}

func (e *AgentFailureError) Error() string {
	if e.Summary != "" {
		return fmt.Sprintf("agent %s ended with status %s: %s", e.AgentID, e.Status, e.Summary)
	}
	return fmt.Sprintf("agent %s ended with status %s", e.AgentID, e.Status)
}

// TimeoutError means no terminal status was observed within the budget
type TimeoutError struct {
	AgentID  string
	Budget   time.Duration
	Elapsed  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent %s did not finish within %s (elapsed %s, %d polls)",
		e.AgentID, e.Budget, e.Elapsed.Round(time.Millisecond), e.Attempts)
}

// CancellationError means the caller's context ended while waiting on the agent
type CancellationError struct {
	Elapsed  time.Duration
	Attempts int
	Err      error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("invocation cancelled after %s (%d polls): %v", e.Elapsed.Round(time.Millisecond), e.Attempts, e.Err)
}

func (e *CancellationError) Unwrap() error {
	return e.Err
}

// ValidationError is a caller-contract violation; it is never replaced by a fallback
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ClassifyError maps an error onto its kind
func ClassifyError(err error) ErrorKind {
	var (
		cancelErr    *CancellationError
		validErr     *ValidationError
		timeoutErr   *TimeoutError
		failureErr   *AgentFailureError
		parseErr     *agent.ParseError
		transportErr *agent.TransportError
	)

	switch {
	case err == nil:
		return ErrorKindUnknown
	case errors.As(err, &cancelErr):
		return ErrorKindCancelled
	case errors.As(err, &validErr):
		return ErrorKindValidation
	case errors.Is(err, ErrAgentUnconfigured):
		return ErrorKindUnconfigured
	case errors.Is(err, ErrNoRemoteAgent):
		return ErrorKindNoAgent
	case errors.As(err, &timeoutErr):
		return ErrorKindTimeout
	case errors.As(err, &failureErr):
		return ErrorKindAgentFailure
	case errors.As(err, &parseErr):
		return ErrorKindParse
	case errors.As(err, &transportErr):
		// A create or follow-up interrupted by the caller is a cancellation, not an outage
		if errors.Is(err, context.Canceled) {
			return ErrorKindCancelled
		}
		return ErrorKindTransport
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	}
	return ErrorKindUnknown
}

// IsValidation reports whether err is a caller-contract violation
func IsValidation(err error) bool {
	var validErr *ValidationError
	return errors.As(err, &validErr)
}

// IsCancellation reports whether err is a caller cancellation
func IsCancellation(err error) bool {
	var cancelErr *CancellationError
	return errors.As(err, &cancelErr)
}
