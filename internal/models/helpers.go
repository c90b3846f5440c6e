package models

import "strings"

// Slugify converts a name to a lowercase, hyphen-separated identifier.
// Spaces and underscores become hyphens; everything outside [a-z0-9-] is dropped.
func Slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '_':
			b.WriteByte('-')
		}
	}
	return b.String()
}
