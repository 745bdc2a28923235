package match

import (
	"errors"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates glob patterns against object keys.
//
// A Matcher is configured with include and exclude patterns:
//   - Include patterns: key must match at least one. No includes means
//     every key matches.
//   - Exclude patterns: key must not match any.
//
// Removal runs match keys relative to the target prefix, so "*.log"
// matches the key logs/app.log when the target is s3://bucket/logs/.
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes   []pattern
	excludes   []pattern
	prefixes   []string
	skipHidden bool
}

// pattern holds a compiled pattern with its original string and derived prefix.
type pattern struct {
	raw    string
	prefix string
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns that keys must match (at least one).
	// Empty means every key matches.
	Includes []string

	// Excludes are glob patterns that keys must not match (any).
	// Optional: if empty, no excludes are applied.
	Excludes []string

	// SkipHidden excludes keys with path segments starting with '.'.
	// Default: false. Removal targets everything under a prefix, dotfiles
	// included, unless the caller opts out.
	SkipHidden bool
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a new Matcher from the given configuration.
//
// Patterns are normalized to handle Windows-style backslash separators
// while preserving escape sequences for literal glob metacharacters.
//
// Returns an error if any pattern is invalid (cannot be compiled).
func New(cfg Config) (*Matcher, error) {
	includes, err := compilePatterns(cfg.Includes)
	if err != nil {
		return nil, err
	}

	excludes, err := compilePatterns(cfg.Excludes)
	if err != nil {
		return nil, err
	}

	// Derive deduplicated prefixes from normalized includes. With no
	// includes everything matches, which needs the full listing.
	var prefixes []string
	if len(includes) > 0 {
		normalizedIncludes := make([]string, len(includes))
		for i, p := range includes {
			normalizedIncludes[i] = p.raw
		}
		prefixes = DerivePrefixes(normalizedIncludes)
	} else {
		prefixes = []string{""}
	}

	return &Matcher{
		includes:   includes,
		excludes:   excludes,
		prefixes:   prefixes,
		skipHidden: cfg.SkipHidden,
	}, nil
}

// compilePatterns normalizes and validates a pattern list.
func compilePatterns(raw []string) ([]pattern, error) {
	compiled := make([]pattern, 0, len(raw))
	for _, r := range raw {
		normalized := NormalizePattern(r)
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: r, Err: ErrInvalidPattern}
		}
		compiled = append(compiled, pattern{
			raw:    normalized,
			prefix: DerivePrefix(normalized),
		})
	}
	return compiled, nil
}

// Match returns true if the key passes the include/exclude patterns.
//
// A key matches if:
//  1. It matches at least one include pattern (or no includes are set)
//  2. It does not match any exclude pattern
//  3. It is not hidden (only when SkipHidden is set)
//
// Keys are matched as-is (not normalized) since cloud storage keys
// are opaque strings where any character is valid.
func (m *Matcher) Match(key string) bool {
	if m.skipHidden && IsHidden(key) {
		return false
	}

	// Must match at least one include pattern, when any are configured
	if len(m.includes) > 0 {
		matched := false
		for _, inc := range m.includes {
			if matchPattern(inc.raw, key) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	// Must not match any exclude pattern
	for _, exc := range m.excludes {
		if matchPattern(exc.raw, key) {
			return false
		}
	}

	return true
}

// MatchesAll reports whether every key passes without evaluation.
// Callers use this to skip per-key matching on unfiltered runs.
func (m *Matcher) MatchesAll() bool {
	return len(m.includes) == 0 && len(m.excludes) == 0 && !m.skipHidden
}

// Prefixes returns the deduplicated list prefixes for efficient listing.
//
// These prefixes can be used to narrow provider list operations, reducing
// the number of objects that need to be retrieved and evaluated.
//
// An empty string in the result means at least one pattern (or the absence
// of includes) requires a full listing under the target.
func (m *Matcher) Prefixes() []string {
	return m.prefixes
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	patterns := make([]string, len(m.includes))
	for i, p := range m.includes {
		patterns[i] = p.raw
	}
	return patterns
}

// ExcludePatterns returns the normalized exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	patterns := make([]string, len(m.excludes))
	for i, p := range m.excludes {
		patterns[i] = p.raw
	}
	return patterns
}

// HasEmptyPrefix returns true if any prefix is empty (requires full listing).
func (m *Matcher) HasEmptyPrefix() bool {
	for _, p := range m.prefixes {
		if p == "" {
			return true
		}
	}
	return false
}

// matchPattern matches a key against a doublestar pattern.
func matchPattern(pattern, key string) bool {
	matched, err := doublestar.Match(pattern, key)
	if err != nil {
		// Pattern was validated at construction time, so this shouldn't happen
		return false
	}
	return matched
}
