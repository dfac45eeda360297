package volumes

import "errors"

var (
	// ErrNotFound is returned when a volume is not found
	ErrNotFound = errors.New("volume not found")

	// ErrInUse is returned when removing a volume still mounted by a container
	ErrInUse = errors.New("volume is in use")

	// ErrBindMount is returned when asked to remove a host bind mount
	ErrBindMount = errors.New("bind mounts cannot be removed")
)
