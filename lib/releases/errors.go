package releases

import "errors"

var (
	// ErrRateLimited is returned when the local request budget is exhausted
	ErrRateLimited = errors.New("release lookup rate limited")

	// ErrUnexpectedStatus is returned for non-200 responses
	ErrUnexpectedStatus = errors.New("unexpected status from releases API")
)
