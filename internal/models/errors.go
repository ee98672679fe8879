package models

import (
	"errors"
	"fmt"
)

// Error kinds shared by the session store, browser controller, state machine and worker.
// Callers test with errors.Is; concrete failures wrap one of these.
var (
	ErrNoSession              = errors.New("no session")
	ErrPreconditionFailure    = errors.New("precondition failure")
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrElementNotFound        = errors.New("element not found")
	ErrSubmitTimeout          = errors.New("submit timeout")
	ErrAutomation             = errors.New("automation error")
	ErrQueueStopped           = errors.New("queue is not running")
)

// StateError scopes a failure to one publish state and the selector involved, if any
type StateError struct {
	State    PublishState
	Kind     error
	Selector string
	Err      error
}

func (e *StateError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.State, e.Kind)
	if e.Selector != "" {
		msg += fmt.Sprintf(" (%s)", e.Selector)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is / errors.As
func (e *StateError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewStateError builds a StateError for the given state and kind
func NewStateError(state PublishState, kind error, selector string, err error) *StateError {
	return &StateError{State: state, Kind: kind, Selector: selector, Err: err}
}

// ErrorKind returns the taxonomy name of err for logs and task records
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPreconditionFailure):
		return "precondition_failure"
	case errors.Is(err, ErrAuthenticationRequired):
		return "authentication_required"
	case errors.Is(err, ErrElementNotFound):
		return "element_not_found"
	case errors.Is(err, ErrSubmitTimeout):
		return "submit_timeout"
	case errors.Is(err, ErrAutomation):
		return "automation_error"
	default:
		return "unexpected"
	}
}
