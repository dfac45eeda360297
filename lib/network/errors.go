package network

import "errors"

var (
	// ErrNotFound is returned when a network is not found
	ErrNotFound = errors.New("network not found")

	// ErrAlreadyExists is returned when a network already exists
	ErrAlreadyExists = errors.New("network already exists")

	// ErrProtectedNetwork is returned when attempting to delete bridge, host or none
	ErrProtectedNetwork = errors.New("cannot delete a system network")

	// ErrInvalidSubnet is returned when subnet or gateway is invalid
	ErrInvalidSubnet = errors.New("invalid subnet")

	// ErrInvalidName is returned when network name is invalid
	ErrInvalidName = errors.New("invalid network name")
)
