package domain

import "regexp"

// Slugs appear in bucket prefixes and published URLs, so they are
// restricted to lowercase url-safe characters with no leading or
// trailing separator.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-._][a-z0-9]+)*$`)

// ValidSlug reports whether s is usable as a product, build, or edition
// slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}
