package errors

import (
	"errors"
	"fmt"
)

var (
	ErrClosed             = errors.New("engine is shutting down")
	ErrHandleNotFound     = errors.New("handle not found")
	ErrConflict           = errors.New("transaction conflict")
	ErrTransient          = errors.New("transient failure, retry later")
	ErrTxDone             = errors.New("transaction already committed or rolled back")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidModel       = errors.New("invalid process model")
	ErrTemplateResolution = errors.New("template resolution failed")
	ErrIllegalState       = errors.New("illegal state transition")
	ErrTaskStarted        = errors.New("task already started")
	ErrTimeout            = errors.New("timed out waiting for result")
	ErrNoTransport        = errors.New("no transport for destination")
	ErrContractViolation  = errors.New("programming contract violation")
)

// ErrWorkflowFatal signals an error that cannot be fixed by retrying the operation.
var ErrWorkflowFatal = errors.New("a fatal workflow error occurred")

// HandleNotFoundError reports a missing handle in a named table.
type HandleNotFoundError struct {
	Table  string
	Handle uint64
}

func (e *HandleNotFoundError) Error() string {
	return fmt.Sprintf("handle %d not found in %s", e.Handle, e.Table)
}

func (e *HandleNotFoundError) Unwrap() error { return ErrHandleNotFound }

// ContractError is raised when stored data does not match the type a caller
// asked for. It is never retried.
type ContractError struct {
	Table    string
	Handle   uint64
	Expected string
	Actual   string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("handle %d in %s holds %s, not %s", e.Handle, e.Table, e.Actual, e.Expected)
}

func (e *ContractError) Unwrap() error { return ErrContractViolation }

// ValidationError describes one structural defect of a process model.
type ValidationError struct {
	NodeID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.NodeID == "" {
		return "invalid model: " + e.Reason
	}
	return fmt.Sprintf("invalid model: node %q: %s", e.NodeID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidModel }

// TemplateError reports a message body that could not be produced.
// The failed node instance is kept, so the enclosing transaction commits.
type TemplateError struct {
	NodeID string
	Name   string
	Err    error
}

func (e *TemplateError) Error() string {
	msg := "template resolution failed"
	if e.NodeID != "" {
		msg += " for node " + e.NodeID
	}
	if e.Name != "" {
		msg += fmt.Sprintf(" (value %q)", e.Name)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TemplateError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTemplateResolution}
	}
	return []error{ErrTemplateResolution, e.Err}
}

// KeepChanges tells the transaction helper to commit before returning the error.
func (e *TemplateError) KeepChanges() bool { return true }

// StateError is a transition requested from a state that does not permit it.
type StateError struct {
	Handle     uint64
	Transition string
	From       string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is not permitted from state %s (node instance %d)", e.Transition, e.From, e.Handle)
}

func (e *StateError) Unwrap() error { return ErrIllegalState }

// HTTPResponseError is a delivery answered with a status outside 200-399.
type HTTPResponseError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPResponseError) Error() string {
	return fmt.Sprintf("remote responded with status %d", e.StatusCode)
}

// ConnectionError is a delivery that never reached the remote party.
type ConnectionError struct {
	Destination string
	Err         error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("could not connect to %s: %s", e.Destination, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsWorkflowFatal reports whether err must not be retried.
func IsWorkflowFatal(err error) bool {
	return errors.Is(err, ErrWorkflowFatal) ||
		errors.Is(err, ErrContractViolation) ||
		errors.Is(err, ErrIllegalState)
}

// KeepsChanges reports whether the transaction that produced err should still commit.
func KeepsChanges(err error) bool {
	var k interface{ KeepChanges() bool }
	return errors.As(err, &k) && k.KeepChanges()
}
