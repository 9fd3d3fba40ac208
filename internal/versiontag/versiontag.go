// Package versiontag parses the version-like git refs that tracking modes
// order builds by: LSST document tags and EUPS major, weekly and daily
// release tags. Each parser accepts both the historical underscore form
// and the git-friendly dot form; anything else is a parse failure the
// caller treats as "not applicable", never an error.
package versiontag

import (
	"regexp"
	"strconv"
)

// Tag is a parsed tag reduced to an integer tuple. Tags are only ever
// compared against tags produced by the same parser; ordering across
// kinds is undefined.
type Tag struct {
	Major int
	Minor int
	Patch int
}

// Compare returns -1, 0 or 1 ordering t against other by integer tuple
// comparison, so v3.11 sorts after v3.9.
func (t Tag) Compare(other Tag) int {
	if c := compareInt(t.Major, other.Major); c != 0 {
		return c
	}
	if c := compareInt(t.Minor, other.Minor); c != 0 {
		return c
	}
	return compareInt(t.Patch, other.Patch)
}

// AtLeast reports whether t >= other. Equality counts so a re-triggered
// build of an already-published tag is re-accepted.
func (t Tag) AtLeast(other Tag) bool {
	return t.Compare(other) >= 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

var (
	lsstDocPattern    = regexp.MustCompile(`^v(\d+)\.(\d+)$`)
	majorEupsPattern  = regexp.MustCompile(`^v(\d+)_(\d+)$`)
	majorGitPattern   = regexp.MustCompile(`^(\d+)\.(\d+)$`)
	weeklyEupsPattern = regexp.MustCompile(`^w_(\d{4})_(\d+)$`)
	weeklyGitPattern  = regexp.MustCompile(`^w\.(\d{4})\.(\d+)$`)
	dailyEupsPattern  = regexp.MustCompile(`^d_(\d{4})_(\d{1,2})_(\d{1,2})$`)
	dailyGitPattern   = regexp.MustCompile(`^d\.(\d{4})\.(\d{1,2})\.(\d{1,2})$`)
)

// ParseLSSTDoc parses a semantic document tag of the form v<major>.<minor>.
func ParseLSSTDoc(ref string) (Tag, bool) {
	return parsePair(ref, lsstDocPattern)
}

// ParseMajorRelease parses an EUPS major release tag, vX_Y, or its git
// variant X.Y.
func ParseMajorRelease(ref string) (Tag, bool) {
	if tag, ok := parsePair(ref, majorEupsPattern); ok {
		return tag, true
	}
	return parsePair(ref, majorGitPattern)
}

// ParseWeeklyRelease parses an EUPS weekly release tag, w_YYYY_WW or
// w.YYYY.WW. The tuple is (year, week).
func ParseWeeklyRelease(ref string) (Tag, bool) {
	if tag, ok := parsePair(ref, weeklyEupsPattern); ok {
		return tag, true
	}
	return parsePair(ref, weeklyGitPattern)
}

// ParseDailyRelease parses an EUPS daily release tag, d_YYYY_MM_DD or
// d.YYYY.MM.DD. The tuple is (year, month, day).
func ParseDailyRelease(ref string) (Tag, bool) {
	if tag, ok := parseTriple(ref, dailyEupsPattern); ok {
		return tag, true
	}
	return parseTriple(ref, dailyGitPattern)
}

func parsePair(ref string, re *regexp.Regexp) (Tag, bool) {
	m := re.FindStringSubmatch(ref)
	if m == nil {
		return Tag{}, false
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Tag{}, false
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return Tag{}, false
	}
	return Tag{Major: major, Minor: minor}, true
}

func parseTriple(ref string, re *regexp.Regexp) (Tag, bool) {
	m := re.FindStringSubmatch(ref)
	if m == nil {
		return Tag{}, false
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Tag{}, false
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return Tag{}, false
	}
	patch, err := strconv.Atoi(m[3])
	if err != nil {
		return Tag{}, false
	}
	return Tag{Major: major, Minor: minor, Patch: patch}, true
}
