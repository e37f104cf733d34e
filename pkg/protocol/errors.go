package protocol

import (
	"errors"
	"fmt"
)

// Error kinds of the service API. Components wrap these sentinels so callers
// can classify failures with errors.Is regardless of which component raised
// them.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgs        = errors.New("invalid arguments")
	ErrWrongPhase         = errors.New("operation not allowed in current phase")
	ErrUncommittedChanges = errors.New("uncommitted changes")
	ErrNothingToCommit    = errors.New("nothing to commit")
	ErrNoSuchAncestor     = errors.New("no such ancestor")
	ErrBranchExists       = errors.New("branch already exists")
	ErrMergeConflict      = errors.New("merge conflict")
	ErrApprovalDenied     = errors.New("approval denied")
	ErrTimeout            = errors.New("timeout exceeded")
	ErrLimitExceeded      = errors.New("limit exceeded")
	ErrModelNotAllowed    = errors.New("model not allowed")
	ErrAdapterFailure     = errors.New("adapter failure")
	ErrStoreFailure       = errors.New("store failure")
	ErrInternal           = errors.New("internal error")
)

// ComponentError attaches component and action context to a failure.
type ComponentError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *ComponentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *ComponentError) Unwrap() error { return e.Err }

// NewComponentError builds a ComponentError wrapping the given cause.
func NewComponentError(component, action, message string, err error) *ComponentError {
	return &ComponentError{Component: component, Action: action, Message: message, Err: err}
}
