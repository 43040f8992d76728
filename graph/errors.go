package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrGraphNotFound is returned when a graph id is not registered.
	ErrGraphNotFound = errors.New("graph not found")
	// ErrExecutionNotFound is returned when an execution is not resident.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrCheckpointNotFound is returned when no store holds the checkpoint.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrRequestNotFound is returned for an unknown or already answered input request.
	ErrRequestNotFound = errors.New("human input request not found")
	// ErrHandlerTimeout marks a handler that exceeded the engine timeout.
	ErrHandlerTimeout = errors.New("handler timed out")
	// ErrApprovalPending is returned when resuming an execution that still awaits approval.
	ErrApprovalPending = errors.New("approval pending")
	// ErrApprovalRejected is returned when resuming past a rejected gate.
	ErrApprovalRejected = errors.New("approval rejected")
	// ErrNotResumable is returned when resuming an execution in a terminal state.
	ErrNotResumable = errors.New("execution is not resumable")
	// ErrExecutionBusy is returned when another caller is driving the execution.
	ErrExecutionBusy = errors.New("execution is being driven")
	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("engine closed")
	// ErrInvalidGraph is returned by graph validation.
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrStepLimit is recorded when a walk exceeds the configured step budget.
	ErrStepLimit = errors.New("step limit exceeded")
)

// HandlerError wraps a failure raised by a node handler.
type HandlerError struct {
	NodeID  string
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("node %s: handler %s: %v", e.NodeID, e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
