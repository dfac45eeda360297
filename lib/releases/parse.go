package releases

import (
	"regexp"
	"strings"
)

// MaxChangelogLength caps the changelog text taken from a release body.
const MaxChangelogLength = 2000

var sourceLabels = []string{
	"org.opencontainers.image.source",
	"org.opencontainers.image.url",
	"org.label-schema.vcs-url",
}

var githubURLPattern = regexp.MustCompile(`github\.com[/:]([^/]+)/([^/.\s]+)`)

// RepoFor infers the GitHub repository of an image from its source labels,
// then from a ghcr.io or owner/repo style reference.
func RepoFor(labels map[string]string, imageRef string) (Repo, bool) {
	for _, key := range sourceLabels {
		src := labels[key]
		if src == "" {
			continue
		}
		if m := githubURLPattern.FindStringSubmatch(src); m != nil {
			return Repo{Owner: m[1], Name: strings.ReplaceAll(m[2], ".git", "")}, true
		}
		break
	}

	if imageRef == "" {
		return Repo{}, false
	}
	if i := strings.LastIndex(imageRef, "ghcr.io/"); i >= 0 {
		path, _, _ := strings.Cut(imageRef[i+len("ghcr.io/"):], ":")
		if parts := strings.Split(path, "/"); len(parts) >= 2 {
			return Repo{Owner: parts[0], Name: parts[1]}, true
		}
	}

	clean, _, _ := strings.Cut(imageRef, ":")
	clean, _, _ = strings.Cut(clean, "@")
	if !strings.Contains(clean, "/") {
		return Repo{}, false
	}
	parts := strings.Split(clean, "/")
	if strings.Contains(parts[0], ".") {
		parts = parts[1:]
	}
	if len(parts) >= 2 {
		return Repo{Owner: parts[0], Name: parts[1]}, true
	}
	return Repo{}, false
}

type sectionPattern struct {
	header *regexp.Regexp
	// terminators end the section at the first occurrence after the header
	terminators []string
}

var breakingPatterns = []sectionPattern{
	{regexp.MustCompile(`(?:## )?Breaking [Cc]hanges?\s*\n`), []string{"\n## "}},
	{regexp.MustCompile(`(?:## )?BREAKING\s*\n`), []string{"\n## "}},
	{regexp.MustCompile(`\*\*Breaking [Cc]hanges?\*\*:?\s*`), []string{"\n**", "\n## "}},
}

// BreakingChanges extracts the breaking changes section of a release body.
func BreakingChanges(body string) string {
	for _, p := range breakingPatterns {
		loc := p.header.FindStringIndex(body)
		if loc == nil {
			continue
		}
		section := body[loc[1]:]
		end := len(section)
		for _, t := range p.terminators {
			if i := strings.Index(section, t); i >= 0 && i < end {
				end = i
			}
		}
		return strings.TrimSpace(section[:end])
	}
	return ""
}

// InfoFrom summarizes a release.
func InfoFrom(r Release) Info {
	info := Info{
		ChangelogURL:    r.HTMLURL,
		BreakingChanges: BreakingChanges(r.Body),
		ReleaseName:     r.Name,
	}
	if info.ReleaseName == "" {
		info.ReleaseName = r.TagName
	}
	if r.Body != "" {
		info.Changelog = truncateRunes(r.Body, MaxChangelogLength)
	}
	if len(r.PublishedAt) >= 10 {
		info.ReleaseDate = r.PublishedAt[:10]
	} else {
		info.ReleaseDate = r.PublishedAt
	}
	return info
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// pick returns the release matching version, or the latest one.
func pick(releases []Release, version string) (Release, bool) {
	if len(releases) == 0 {
		return Release{}, false
	}
	if version != "" {
		for _, r := range releases {
			if r.MatchesVersion(version) {
				return r, true
			}
		}
	}
	return releases[0], true
}
