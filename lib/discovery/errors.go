package discovery

import "errors"

var (
	// ErrUnknownSlug is returned for a command addressed to a slug not seen in the last pass
	ErrUnknownSlug = errors.New("unknown container slug")

	// ErrInvalidTopic is returned for a command topic outside the command namespace
	ErrInvalidTopic = errors.New("invalid command topic")
)
