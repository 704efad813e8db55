// Package version implements track-aware semantic versioning: the track
// rules (§3 invariant c), the zero-padded ordering key (§6), and version
// comparison used by the Artifact Store's monotonicity check (§4.2 step 5,
// §8 "Version monotonicity").
package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/infraweave-io/infraweave/internal/errs"
)

// Track is a named channel for module versions (GLOSSARY).
type Track string

const (
	TrackStable Track = "stable"
	TrackRC     Track = "rc"
	TrackBeta   Track = "beta"
	TrackAlpha  Track = "alpha"
	TrackDev    Track = "dev"
)

// ValidTracks is the allowed set (§3).
var ValidTracks = map[Track]bool{
	TrackStable: true,
	TrackRC:     true,
	TrackBeta:   true,
	TrackAlpha:  true,
	TrackDev:    true,
}

// Parse wraps semver.NewVersion with the InfraWeave-specific error kind.
func Parse(raw string) (*semver.Version, error) {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidationError, err, "invalid semantic version %q", raw)
	}
	return v, nil
}

// ValidateTrack checks a (track, version) pair against §3 invariant (c) and
// §4.2 step 4: stable must carry no pre-release and no build metadata;
// every other track's pre-release label must equal the track name.
func ValidateTrack(track Track, v *semver.Version) error {
	if !ValidTracks[track] {
		return errs.New(errs.KindInvalidTrack, "%s", track)
	}
	pre := v.Prerelease()
	if track == TrackStable {
		if pre != "" {
			return errs.New(errs.KindInvalidStableVersion, "version %s carries a pre-release label on the stable track", v.String())
		}
		if v.Metadata() != "" {
			return errs.New(errs.KindInvalidStableVersion, "version %s carries build metadata on the stable track", v.String())
		}
		return nil
	}
	label := strings.SplitN(pre, ".", 2)[0]
	if label != string(track) {
		return errs.New(errs.KindInvalidTrackPrereleaseVersion, "%s,%s", track, v.String())
	}
	return nil
}

// Compare returns -1/0/1 comparing two versions ignoring build metadata, as
// semver dictates and §4.2 step 5 requires.
func Compare(a, b *semver.Version) int {
	return a.Compare(b)
}

// ZeroPadded renders a semver string with major/minor/patch each padded to
// 3 digits, preserving pre-release and build metadata, so that lexicographic
// string ordering matches semantic ordering within a track (§6).
func ZeroPadded(v *semver.Version) string {
	s := fmt.Sprintf("%03d.%03d.%03d", v.Major(), v.Minor(), v.Patch())
	if pre := v.Prerelease(); pre != "" {
		s += "-" + pre
	}
	if meta := v.Metadata(); meta != "" {
		s += "+" + meta
	}
	return s
}

// TrackOf derives the track from a version's pre-release label: empty means
// stable (§4.4 step 1 "the track derived from the version's pre-release
// (empty => stable)").
func TrackOf(v *semver.Version) Track {
	pre := v.Prerelease()
	if pre == "" {
		return TrackStable
	}
	label := strings.SplitN(pre, ".", 2)[0]
	return Track(label)
}
