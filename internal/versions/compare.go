// Package versions compares package version identifiers for ecosystems
// that follow semantic versioning.
package versions

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compare orders two version ids. It uses semantic versioning when both
// strings parse as semver and falls back to lexicographic comparison
// otherwise, so the order stays total over arbitrary upstream ids.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}

// IsNewer reports whether candidate is strictly greater than current.
func IsNewer(candidate, current string) bool {
	return Compare(candidate, current) > 0
}
