package preferences

import "errors"

var (
	// ErrUnknownAction is returned when a preference names an action outside Actions
	ErrUnknownAction = errors.New("unknown action")
)
