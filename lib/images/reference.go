package images

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// Ref is a parsed image reference as the engine reports it, e.g. "nginx:1.25"
// or "ghcr.io/org/app@sha256:...".
type Ref struct {
	raw        string
	named      reference.Named
	repository string
	tag        string
	digest     string
}

// ParseRef parses an image reference without adding a default tag.
// Bare image ids ("sha256:...") are rejected.
func ParseRef(s string) (*Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "sha256:") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, s)
	}
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}

	ref := &Ref{
		raw:        s,
		named:      named,
		repository: reference.Domain(named) + "/" + reference.Path(named),
	}
	if t, ok := named.(reference.Tagged); ok {
		ref.tag = t.Tag()
	}
	if c, ok := named.(reference.Canonical); ok {
		ref.digest = c.Digest().String()
	}
	return ref, nil
}

// String returns the reference as it was given.
func (r *Ref) String() string {
	return r.raw
}

// Repository returns the fully-qualified repository, e.g. "docker.io/library/nginx".
func (r *Ref) Repository() string {
	return r.repository
}

// FamiliarRepository returns the short form used by the Docker CLI, e.g. "nginx".
func (r *Ref) FamiliarRepository() string {
	return reference.FamiliarName(r.named)
}

// Domain returns the registry host.
func (r *Ref) Domain() string {
	return reference.Domain(r.named)
}

// Path returns the repository path below the registry host.
func (r *Ref) Path() string {
	return reference.Path(r.named)
}

// Tag returns the tag, or "" when the reference has none.
func (r *Ref) Tag() string {
	return r.tag
}

// Digest returns the pinned digest, or "".
func (r *Ref) Digest() string {
	return r.digest
}

// WithTag returns the familiar reference for the same repository pinned to tag.
// Any digest is dropped.
func (r *Ref) WithTag(tag string) (string, error) {
	tagged, err := reference.WithTag(reference.TrimNamed(r.named), tag)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	return reference.FamiliarString(tagged), nil
}

// SameRepository reports whether other names the same repository as r,
// after normalization ("nginx" and "docker.io/library/nginx" match).
func (r *Ref) SameRepository(other string) bool {
	o, err := ParseRef(other)
	if err != nil {
		return false
	}
	return o.repository == r.repository
}

// TagOf extracts the tag of an image reference, or "" when absent or unparsable.
func TagOf(s string) string {
	ref, err := ParseRef(s)
	if err != nil {
		return ""
	}
	return ref.Tag()
}
