// Package match provides glob matching for object keys using doublestar
// semantics, with prefix derivation so listings can be narrowed before
// any key is matched.
package match

import (
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical
// form: unescaped backslashes become forward slashes (Windows paths),
// while escapes of glob metacharacters (\*, \?, \[) are preserved so
// literal matching still works.
//
// Examples:
//
//	"data/2024/**"     → "data/2024/**"
//	"data\2024\**"     → "data/2024/**"
//	"data/file\*.txt"  → "data/file\*.txt"
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			if strings.ContainsRune(globEscapable, next) {
				result.WriteRune('\\')
				result.WriteRune(next)
				i++
				continue
			}
			// Unescaped backslash is a path separator.
			result.WriteRune('/')
			continue
		}

		if r == '\\' {
			// Trailing backslash.
			result.WriteRune('/')
			continue
		}

		result.WriteRune(r)
	}

	return result.String()
}

// IsHidden reports whether any path segment of the key starts with a
// dot, per Unix convention. Keys are split on / exactly as the provider
// returns them.
//
// Examples:
//
//	"logs/app.log"        → false
//	".snapshots/a.log"    → true
//	"logs/.cache/x"       → true
//	"logs/app.log."       → false
func IsHidden(key string) bool {
	if key == "" {
		return false
	}

	for _, seg := range strings.Split(key, "/") {
		if seg != "" && strings.HasPrefix(seg, ".") {
			return true
		}
	}

	return false
}

// HasTrailingSlash reports whether the key names a prefix rather than an
// object.
func HasTrailingSlash(key string) bool {
	return len(key) > 0 && key[len(key)-1] == '/'
}
