package updates

import "errors"

var (
	// ErrNotFound is returned when a container is not found
	ErrNotFound = errors.New("container not found")

	// ErrUnknownResolver is returned for an unsupported resolver name
	ErrUnknownResolver = errors.New("unknown registry resolver")
)
