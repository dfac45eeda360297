package updates

import (
	"strings"
	"unicode"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Label and annotation keys consulted, in priority order.
var (
	versionKeys = []string{
		"io.hass.version",
		ocispec.AnnotationVersion,
		"version",
		ocispec.AnnotationRevision,
	}
	changelogKeys = []string{
		"org.opencontainers.image.changelog",
		"changelog",
		ocispec.AnnotationDescription,
	}
	breakingKeys = []string{
		"org.opencontainers.image.breaking_changes",
		"breaking_changes",
	}
)

const (
	annotationChangelog = "org.opencontainers.image.changelog"
	annotationBreaking  = "org.opencontainers.image.breaking_changes"
)

func firstOf(m map[string]string, keys []string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// ShortDigest returns the first 12 hex characters of a digest or image id.
func ShortDigest(d string) string {
	if d == "" {
		return ""
	}
	enc := d
	if parsed, err := digest.Parse(d); err == nil {
		enc = parsed.Encoded()
	} else if i := strings.LastIndex(d, ":"); i >= 0 {
		enc = d[i+1:]
	}
	if len(enc) > 12 {
		return enc[:12]
	}
	return enc
}

// IsURL reports whether s is a bare http(s) link.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// looksLikeVersion reports whether s starts with a digit or a "v".
func looksLikeVersion(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)[0]
	return unicode.IsDigit(r) || r == 'v' || r == 'V'
}

// DisplayVersion renders the most useful version string for humans: a
// semantic-looking version as "V. x", any other version as is, then the
// channel with the digest, the channel, or the digest.
func DisplayVersion(channel, version, digestShort string) string {
	channel = strings.TrimSpace(channel)
	version = strings.TrimSpace(version)
	digestShort = strings.TrimSpace(digestShort)

	if version != "" {
		switch {
		case version[0] == 'v' || version[0] == 'V':
			return "V. " + version[1:]
		case looksLikeVersion(version):
			return "V. " + version
		default:
			return version
		}
	}
	if channel != "" {
		if digestShort != "" {
			return channel + " (" + digestShort + ")"
		}
		return channel
	}
	return digestShort
}

// Classify compares a remote digest with the installed compare reference.
// An empty remote digest means the remote lookup produced nothing and is
// always unknown, even when the compare reference is empty too.
func Classify(remoteDigest, compareRef string) State {
	switch {
	case remoteDigest == "":
		return StateUnknown
	case remoteDigest == compareRef:
		return StateUpToDate
	default:
		return StateUpdateAvailable
	}
}

// ClampFrequency bounds a check frequency to [MinFrequency, MaxFrequency].
// Non-positive values select DefaultFrequency.
func ClampFrequency(minutes int) int {
	if minutes <= 0 {
		minutes = DefaultFrequency
	}
	return max(MinFrequency, min(minutes, MaxFrequency))
}
