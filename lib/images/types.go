package images

import "time"

// NoneTag is shown for dangling images without a repository tag.
const NoneTag = "<none>:<none>"

// Image is a local engine image with the containers that reference it.
type Image struct {
	ID      string    `json:"id"`
	ShortID string    `json:"short_id"`
	Tags    []string  `json:"tags"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
	UsedBy  []string  `json:"used_by"`
}

// RemovalError pairs an image with the reason it could not be removed.
type RemovalError struct {
	Image
	Error string `json:"error"`
}

// RemovalResult reports the outcome of a bulk removal.
type RemovalResult struct {
	Removed []Image        `json:"removed"`
	Errors  []RemovalError `json:"errors"`
}
