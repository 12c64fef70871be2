package schema

import (
	"errors"
	"fmt"
)

// Error codes carried by FlowError.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeStepFailed        = "STEP_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeUnknownNodeType   = "UNKNOWN_NODE_TYPE"
)

// FlowError is the error returned by every package in this module. Code is
// stable and meant for callers; Message is for humans.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeID == "" {
		return "[" + e.Code + "] " + e.Message
	}
	return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
}

func (e *FlowError) Unwrap() error { return e.Cause }

// Is matches any FlowError with the same code, so errors.Is(err, ErrCancelled)
// holds for every cancellation regardless of message or node.
func (e *FlowError) Is(target error) bool {
	t, ok := target.(*FlowError)
	return ok && t.Code == e.Code
}

func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

func NewErrorf(code, format string, args ...any) *FlowError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithNode, WithCause and WithDetails mutate and return e for chaining.

func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// ErrCancelled is returned when a run is stopped before it finishes.
var ErrCancelled = NewError(ErrCodeCancelled, "execution stopped")

// CodeOf returns the code of the first FlowError in err's chain, or "".
func CodeOf(err error) string {
	if fe := asFlowError(err); fe != nil {
		return fe.Code
	}
	return ""
}

// NodeOf returns the node id of the first FlowError in err's chain that names one.
func NodeOf(err error) string {
	for err != nil {
		if fe, ok := err.(*FlowError); ok && fe.NodeID != "" {
			return fe.NodeID
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// IsCancelled reports whether err represents a stopped run.
func IsCancelled(err error) bool {
	return CodeOf(err) == ErrCodeCancelled
}

func asFlowError(err error) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}
