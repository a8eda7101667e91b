// Package publish computes artifact versions and output paths for the
// external renderer. Each scope type has its own versioning scheme:
// certifications use semantic versions, topics use dated tags, labs use a
// suite-hash tag, and stories use zero-padded episode numbers.
package publish

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Manifest is the contract the external renderer fills in under the
// artifact directory.
type Manifest struct {
	ScopeType  string   `json:"scope_type"`
	ScopeID    string   `json:"scope_id"`
	Version    string   `json:"version"`
	SnapshotID string   `json:"snapshot_id"`
	DeltaID    string   `json:"delta_id,omitempty"`
	RunID      string   `json:"run_id"`
	Artifacts  []string `json:"artifacts"`
	CreatedAt  string   `json:"created_at"`
}

// Dir returns the artifact directory for a published version:
// <base>/<scope_type>/<scope_id>/<version>/.
func Dir(base, scopeType, scopeID, version string) string {
	return filepath.Join(base, scopeType, scopeID, version)
}

// CertVersion bumps a semantic version for a certification scope.
// An empty previous version starts at 1.0.0; major bumps when the delta
// removed claims, minor otherwise.
func CertVersion(previous string, removedClaims bool) string {
	major, minor := 1, 0
	if previous != "" {
		parts := strings.SplitN(previous, ".", 3)
		if len(parts) == 3 {
			if v, err := strconv.Atoi(parts[0]); err == nil {
				major = v
			}
			if v, err := strconv.Atoi(parts[1]); err == nil {
				minor = v
			}
			if removedClaims {
				major++
				minor = 0
			} else {
				minor++
			}
		}
	}
	return fmt.Sprintf("%d.%d.0", major, minor)
}

// TopicTag returns the dated tag for a topic scope.
func TopicTag(at time.Time) string {
	return at.Format("2006-01-02")
}

// LabVersion returns the suite-hash tag for a lab scope. The first twelve
// hex characters of the snapshot hash identify the suite state.
func LabVersion(suiteID, snapshotHash string) string {
	short := snapshotHash
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("%s-%s", suiteID, short)
}

// StoryEpisode returns the zero-padded episode tag for a story scope.
func StoryEpisode(n int) string {
	return fmt.Sprintf("ep%04d", n)
}

// Version dispatches to the scope type's scheme.
func Version(scopeType, scopeID, previous, snapshotHash string, episode int, removedClaims bool, at time.Time) string {
	switch scopeType {
	case "cert":
		return CertVersion(previous, removedClaims)
	case "topic":
		return TopicTag(at)
	case "lab":
		return LabVersion(scopeID, snapshotHash)
	case "story":
		return StoryEpisode(episode)
	}
	return TopicTag(at)
}
