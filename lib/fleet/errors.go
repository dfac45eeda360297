package fleet

import "errors"

var (
	// ErrNotFound is returned when a container is not found
	ErrNotFound = errors.New("container not found")

	// ErrEngineUnavailable is returned when the engine cannot be queried
	ErrEngineUnavailable = errors.New("container engine unavailable")

	// ErrComposeNotFound is returned when a container has no readable compose file
	ErrComposeNotFound = errors.New("compose file not found")

	// ErrInvalidCompose is returned when compose content is not valid YAML
	ErrInvalidCompose = errors.New("invalid compose file")
)
