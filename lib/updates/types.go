// Package updates decides whether each container runs the newest image
// available for its reference.
package updates

import (
	"time"

	"github.com/d2ha/d2ha/lib/docker"
)

// State is the update verdict of a container.
type State string

const (
	StateUnknown         State = "unknown"
	StateUpToDate        State = "up_to_date"
	StateUpdateAvailable State = "update_available"
)

// Frequency bounds, in minutes.
const (
	DefaultFrequency = 60
	MinFrequency     = 5
	MaxFrequency     = 24 * 60
)

// Settings are the per-container check settings.
type Settings struct {
	FrequencyMinutes int    `json:"frequency_minutes"`
	Track            string `json:"track,omitempty"`
}

// TTL is how long a remote lookup for this container stays fresh.
func (s Settings) TTL() time.Duration {
	return time.Duration(s.FrequencyMinutes) * time.Minute
}

// Installed describes the image a container currently runs.
type Installed struct {
	ImageRef     string `json:"image_ref"`
	ImageID      string `json:"installed_id"`
	ImageIDShort string `json:"installed_id_short"`
	Digest       string `json:"installed_digest,omitempty"`
	DigestShort  string `json:"installed_digest_short,omitempty"`
	Version      string `json:"installed_version"`
	Tag          string `json:"installed_tag,omitempty"`
	Changelog    string `json:"local_changelog,omitempty"`
	Breaking     string `json:"local_breaking,omitempty"`
}

// CompareRef is what a remote digest is compared against: the content digest
// when known, the local image id otherwise.
func (i Installed) CompareRef() string {
	if i.Digest != "" {
		return i.Digest
	}
	return i.ImageID
}

// Descriptor is what a resolver reports for a reference.
type Descriptor struct {
	Digest      string
	Annotations map[string]string
}

// RemoteInfo is the cached outcome of a remote lookup. A failed lookup is
// Degraded and carries the cause; its digest is empty.
type RemoteInfo struct {
	Digest          string    `json:"remote_id,omitempty"`
	DigestShort     string    `json:"remote_id_short,omitempty"`
	Version         string    `json:"remote_version,omitempty"`
	Tag             string    `json:"remote_tag,omitempty"`
	Changelog       string    `json:"remote_changelog,omitempty"`
	ChangelogURL    string    `json:"remote_changelog_url,omitempty"`
	BreakingChanges string    `json:"remote_breaking,omitempty"`
	ReleaseDate     string    `json:"remote_release_date,omitempty"`
	Degraded        bool      `json:"degraded"`
	Error           string    `json:"error,omitempty"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// ContainerUpdate is the update view of one container.
type ContainerUpdate struct {
	ID                      string       `json:"id"`
	ShortID                 string       `json:"short_id"`
	Name                    string       `json:"name"`
	Stack                   string       `json:"stack"`
	StableID                string       `json:"stable_id"`
	Image                   string       `json:"image"`
	Status                  string       `json:"status"`
	Uptime                  string       `json:"uptime"`
	ImageRef                string       `json:"image_ref"`
	InstalledIDShort        string       `json:"installed_id_short"`
	InstalledVersion        string       `json:"installed_version"`
	InstalledDisplayVersion string       `json:"installed_display_version"`
	InstalledTag            string       `json:"installed_tag"`
	RemoteIDShort           string       `json:"remote_id_short"`
	RemoteVersion           string       `json:"remote_version"`
	RemoteDisplayVersion    string       `json:"remote_display_version"`
	RemoteTag               string       `json:"remote_tag"`
	State                   State        `json:"update_state"`
	Changelog               string       `json:"changelog"`
	ChangelogURL            string       `json:"changelog_url"`
	BreakingChanges         string       `json:"breaking_changes"`
	ReleaseDate             string       `json:"release_date"`
	Ports                   docker.Ports `json:"ports"`
	CheckTag                string       `json:"check_tag"`
	FrequencyMinutes        int          `json:"frequency_minutes"`
	// Degraded is set when the remote lookup failed and the verdict falls
	// back to the installed image.
	Degraded bool   `json:"degraded"`
	Cause    string `json:"degraded_cause,omitempty"`
}

// Detail is the update view of a single container with a repository link.
type Detail struct {
	ContainerUpdate
	RepoLink string `json:"repo_link"`
}
