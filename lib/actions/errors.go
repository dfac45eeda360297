package actions

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAction is returned for an action name the executor does not handle
	ErrUnknownAction = errors.New("unknown action")

	// ErrNotFound is returned when a container is not found
	ErrNotFound = errors.New("container not found")

	// ErrActionFailed is wrapped by every failed container command
	ErrActionFailed = errors.New("container action failed")

	// ErrRecreateFailed is wrapped by every failed recreation
	ErrRecreateFailed = errors.New("container recreate failed")
)

// ActionError reports which step of an action failed for which container.
type ActionError struct {
	Action    string
	Container string
	Step      string
	Err       error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Action, e.Container, e.Step, e.Err)
}

// Unwrap exposes both the action sentinel and the cause.
func (e *ActionError) Unwrap() []error {
	sentinel := ErrActionFailed
	if e.Action == ActionFullUpdate {
		sentinel = ErrRecreateFailed
	}
	return []error{sentinel, e.Err}
}
