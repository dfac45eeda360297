package images

import "errors"

var (
	// ErrNotFound is returned when the engine has no such image
	ErrNotFound = errors.New("image not found")

	// ErrInvalidName is returned when a reference cannot be parsed
	ErrInvalidName = errors.New("invalid image name")

	// ErrPullFailed is returned when the engine reports an error in the pull stream
	ErrPullFailed = errors.New("image pull failed")
)
