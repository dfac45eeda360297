// Package releases looks up release notes for container images on GitHub.
package releases

import "strings"

// Release is the subset of a GitHub release the client uses.
type Release struct {
	TagName     string `json:"tag_name"`
	Name        string `json:"name"`
	Body        string `json:"body"`
	HTMLURL     string `json:"html_url"`
	PublishedAt string `json:"published_at"`
}

// Info is what a release contributes to an update verdict. Empty fields
// mean unknown.
type Info struct {
	Changelog       string `json:"changelog,omitempty"`
	ChangelogURL    string `json:"changelog_url,omitempty"`
	BreakingChanges string `json:"breaking_changes,omitempty"`
	ReleaseDate     string `json:"release_date,omitempty"`
	ReleaseName     string `json:"release_name,omitempty"`
}

// IsZero reports whether no field is set.
func (i Info) IsZero() bool {
	return i == Info{}
}

// Repo identifies a GitHub repository.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// IsZero reports whether r is unset.
func (r Repo) IsZero() bool {
	return r.Owner == "" || r.Name == ""
}

// MatchesVersion reports whether version names this release.
func (r Release) MatchesVersion(version string) bool {
	v := strings.ToLower(strings.TrimLeft(version, "v"))
	tag := strings.ToLower(strings.TrimLeft(r.TagName, "v"))
	name := strings.ToLower(strings.TrimLeft(r.Name, "v"))
	return v == tag || v == name ||
		strings.Contains(r.TagName, version) || strings.Contains(r.Name, version)
}
