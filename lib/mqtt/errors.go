package mqtt

import "errors"

var (
	// ErrNotConnected is returned when publishing without a broker connection
	ErrNotConnected = errors.New("not connected to mqtt broker")

	// ErrTimeout is returned when the broker does not acknowledge in time
	ErrTimeout = errors.New("mqtt operation timed out")
)
