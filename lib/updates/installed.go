package updates

import (
	"strings"

	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
)

// InstalledFrom describes the image of container c. img may be nil when the
// image can no longer be inspected.
func InstalledFrom(c container.InspectResponse, img *image.InspectResponse) Installed {
	var inst Installed

	imageID := ""
	if c.ContainerJSONBase != nil {
		imageID = c.Image
	}
	var tags, repoDigests []string
	labels := map[string]string{}
	if img != nil {
		imageID = img.ID
		tags = img.RepoTags
		repoDigests = img.RepoDigests
		if img.Config != nil && img.Config.Labels != nil {
			labels = img.Config.Labels
		}
	}
	inst.ImageID = imageID
	inst.ImageIDShort = docker.ShortID(imageID)

	switch {
	case len(tags) > 0:
		inst.ImageRef = tags[0]
	case c.Config != nil && c.Config.Image != "":
		inst.ImageRef = c.Config.Image
	default:
		inst.ImageRef = imageID
	}
	inst.Tag = images.TagOf(inst.ImageRef)
	inst.Digest = matchingDigest(inst.ImageRef, repoDigests)
	inst.DigestShort = ShortDigest(inst.Digest)

	inst.Version = firstOf(labels, versionKeys)
	if inst.Version == "" {
		inst.Version = inst.Tag
	}
	if inst.Version == "" {
		inst.Version = inst.ImageIDShort
	}
	inst.Changelog = firstOf(labels, changelogKeys)
	inst.Breaking = firstOf(labels, breakingKeys)
	return inst
}

// matchingDigest picks the repo digest of the same repository as imageRef,
// else the first repo digest.
func matchingDigest(imageRef string, repoDigests []string) string {
	ref, refErr := images.ParseRef(imageRef)
	fallback := ""
	for _, rd := range repoDigests {
		repo, dg, ok := strings.Cut(rd, "@")
		if !ok {
			continue
		}
		if refErr == nil && ref.SameRepository(repo) {
			return dg
		}
		if fallback == "" {
			fallback = dg
		}
	}
	if fallback == "" && len(repoDigests) > 0 {
		if _, dg, ok := strings.Cut(repoDigests[0], "@"); ok {
			fallback = dg
		}
	}
	return fallback
}

// CheckReference is the reference compared upstream: imageRef retagged with
// track when one is set.
func CheckReference(imageRef, track string) string {
	if track == "" {
		return imageRef
	}
	ref, err := images.ParseRef(imageRef)
	if err != nil {
		return imageRef
	}
	retagged, err := ref.WithTag(track)
	if err != nil {
		return imageRef
	}
	return retagged
}

// Merge fills gaps in remote from the installed image. A missing remote
// digest is replaced by the installed digest, so a failed lookup degrades
// toward up_to_date rather than reporting an update.
func Merge(inst Installed, remote RemoteInfo) RemoteInfo {
	merged := remote
	if merged.Digest == "" && inst.Digest != "" {
		merged.Digest = inst.Digest
		merged.DigestShort = inst.DigestShort
	}
	if merged.Digest != "" && merged.DigestShort == "" {
		merged.DigestShort = ShortDigest(merged.Digest)
	}
	if merged.Version == "" {
		merged.Version = inst.Version
	}
	if merged.Tag == "" {
		merged.Tag = inst.Tag
	}
	if merged.Changelog == "" && merged.ChangelogURL == "" && inst.Changelog != "" {
		if IsURL(inst.Changelog) {
			merged.ChangelogURL = inst.Changelog
		} else {
			merged.Changelog = inst.Changelog
		}
	}
	return merged
}
