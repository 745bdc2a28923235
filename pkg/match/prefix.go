package match

import (
	"sort"
	"strings"
)

// DerivePrefix extracts the longest static prefix from a glob pattern,
// the part before the first unescaped metacharacter, truncated to a
// whole path segment. Escaped metacharacters (\*, \?, \[, \{) are
// literals: they stay in the prefix, unescaped, because provider keys
// carry no escape syntax.
//
// Examples:
//
//	"logs/2024/**/*.gz"   → "logs/2024/"
//	"*.json"              → ""
//	"logs/app-{a,b}/*"    → "logs/"
//	"exact/key.txt"       → "exact/key.txt"
//	"logs/file\*.gz"      → "logs/file*.gz"
func DerivePrefix(pattern string) string {
	if pattern == "" {
		return ""
	}

	pattern = NormalizePattern(pattern)

	metaIdx := findFirstUnescapedMeta(pattern)
	if metaIdx == -1 {
		// No glob at all: the pattern names an exact key.
		return unescapePrefix(pattern)
	}
	if metaIdx == 0 {
		return ""
	}

	// Truncate to the last complete segment so "logs/2024-*" derives
	// "logs/", not "logs/2024-".
	prefix := pattern[:metaIdx]
	lastSlash := strings.LastIndex(prefix, "/")
	if lastSlash >= 0 {
		return unescapePrefix(prefix[:lastSlash+1])
	}

	return ""
}

// findFirstUnescapedMeta returns the index of the first unescaped glob
// metacharacter (* ? [ {), or -1. A plain IndexAny cannot tell \* from
// *, so the scan tracks escapes.
func findFirstUnescapedMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]

		if c == '\\' && i+1 < len(pattern) {
			next := pattern[i+1]
			if next == '*' || next == '?' || next == '[' || next == '{' || next == '\\' {
				i++
				continue
			}
			// Backslash before a non-meta character is not an escape
			// in glob context.
			continue
		}

		if c == '*' || c == '?' || c == '[' || c == '{' {
			return i
		}
	}
	return -1
}

// unescapePrefix strips escape backslashes so the derived prefix holds
// the literal characters the provider stores. "logs/file\*.gz" lists
// under "logs/file*.gz".
func unescapePrefix(prefix string) string {
	if !strings.ContainsRune(prefix, '\\') {
		return prefix
	}

	var result strings.Builder
	result.Grow(len(prefix))

	for i := 0; i < len(prefix); i++ {
		c := prefix[i]

		if c == '\\' && i+1 < len(prefix) {
			next := prefix[i+1]
			if next == '*' || next == '?' || next == '[' || next == ']' ||
				next == '{' || next == '}' || next == '\\' {
				result.WriteByte(next)
				i++
				continue
			}
		}

		result.WriteByte(c)
	}

	return result.String()
}

// DerivePrefixes derives one prefix per pattern, drops prefixes subsumed
// by a shorter one, and sorts the survivors. An empty prefix in the
// input subsumes everything: the result collapses to [""], a full
// listing.
//
// Examples:
//
//	["logs/2024/**", "logs/2025/**"] → ["logs/2024/", "logs/2025/"]
//	["logs/**", "logs/2024/**"]      → ["logs/"]
//	["**/*.json"]                    → [""]
func DerivePrefixes(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}

	prefixes := make([]string, 0, len(patterns))
	for _, p := range patterns {
		prefixes = append(prefixes, DerivePrefix(p))
	}

	return deduplicatePrefixes(prefixes)
}

// deduplicatePrefixes removes prefixes that start with a shorter kept
// prefix. "logs/" subsumes "logs/2024/".
func deduplicatePrefixes(prefixes []string) []string {
	if len(prefixes) == 0 {
		return nil
	}

	for _, p := range prefixes {
		if p == "" {
			return []string{""}
		}
	}

	// Shortest first, so a parent is kept before its children arrive.
	sorted := make([]string, len(prefixes))
	copy(sorted, prefixes)
	sort.Slice(sorted, func(i, j int) bool {
		return len(sorted[i]) < len(sorted[j])
	})

	result := make([]string, 0, len(sorted))
	for _, candidate := range sorted {
		subsumed := false
		for _, existing := range result {
			if strings.HasPrefix(candidate, existing) {
				subsumed = true
				break
			}
		}
		if !subsumed {
			result = append(result, candidate)
		}
	}

	sort.Strings(result)
	return result
}

// IsGlobPattern reports whether the pattern contains an unescaped glob
// metacharacter. "logs/file\*.gz" is an exact key, not a glob.
func IsGlobPattern(pattern string) bool {
	return findFirstUnescapedMeta(pattern) != -1
}
