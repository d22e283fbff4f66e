package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies engine errors for policy decisions and reporting
type ErrorKind string

const (
	ErrParse           ErrorKind = "ParseError"
	ErrValidation      ErrorKind = "ValidationError"
	ErrNodeExecution   ErrorKind = "NodeExecutionError"
	ErrTimeout         ErrorKind = "TimeoutError"
	ErrCancelled       ErrorKind = "CancelledError"
	ErrResource        ErrorKind = "ResourceExhausted"
	ErrScheduling      ErrorKind = "SchedulingError"
	ErrStateTransition ErrorKind = "StateTransitionError"
	ErrDependency      ErrorKind = "DependencyError"
	ErrRetryExhausted  ErrorKind = "RetryExhausted"
	ErrConcurrency     ErrorKind = "ConcurrencyLimit"
)

// Error is the engine's error type. NodeID is set for node-scoped failures,
// FromState/ToState for state machine transition failures.
type Error struct {
	Kind      ErrorKind
	Message   string
	NodeID    string
	FromState string
	ToState   string
	Cause     error
}

func (e *Error) Error() string {
	switch {
	case e.NodeID != "" && e.Cause != nil:
		return fmt.Sprintf("%s: node %s: %s: %v", e.Kind, e.NodeID, e.Message, e.Cause)
	case e.NodeID != "":
		return fmt.Sprintf("%s: node %s: %s", e.Kind, e.NodeID, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an engine error
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewNodeError creates a node-scoped execution error
func NewNodeError(nodeID string, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    ErrNodeExecution,
		Message: fmt.Sprintf(format, args...),
		NodeID:  nodeID,
		Cause:   cause,
	}
}

// NewTransitionError creates a state machine transition error
func NewTransitionError(from, to, format string, args ...any) *Error {
	return &Error{
		Kind:      ErrStateTransition,
		Message:   fmt.Sprintf(format, args...),
		FromState: from,
		ToState:   to,
	}
}

// KindOf returns the engine error kind, unwrapping as needed.
// Plain errors report as NodeExecutionError, the taxonomy's catch-all.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrNodeExecution
}

// ErrorInfo is the user-visible error record attached to a NodeExecution
type ErrorInfo struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewErrorInfo captures an error into a reportable record
func NewErrorInfo(err error) *ErrorInfo {
	return &ErrorInfo{
		Kind:      KindOf(err),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	}
}
