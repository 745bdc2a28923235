package scope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/3leaps/goscour/pkg/manifest"
)

// hashNode is the canonical form of one scope level. Lists are
// deduplicated and sorted and dates resolved to UTC instants before
// hashing, so configurations that compile to the same plan hash the
// same.
type hashNode struct {
	Type       string        `json:"type"`
	BasePrefix string        `json:"base_prefix,omitempty"`
	Delimiter  string        `json:"delimiter,omitempty"`
	Prefixes   []string      `json:"prefixes,omitempty"`
	Scopes     []hashNode    `json:"scopes,omitempty"`
	Discover   *hashDiscover `json:"discover,omitempty"`
	Date       *hashDate     `json:"date,omitempty"`
}

type hashDiscover struct {
	Segments []hashSegment `json:"segments,omitempty"`
}

type hashSegment struct {
	Index     int      `json:"index"`
	Allow     []string `json:"allow,omitempty"`
	Deny      []string `json:"deny,omitempty"`
	GlobAllow []string `json:"glob_allow,omitempty"`
	GlobDeny  []string `json:"glob_deny,omitempty"`
}

type hashDate struct {
	SegmentIndex int           `json:"segment_index"`
	Format       string        `json:"format,omitempty"`
	Range        hashDateRange `json:"range"`
	Glob         string        `json:"glob,omitempty"`
}

type hashDateRange struct {
	After  time.Time `json:"after"`
	Before time.Time `json:"before"`
}

// HashConfig computes a canonical hash of a remove.scope configuration.
// Journaled runs record it, and resume compares it against the prior
// run: a journal only proves keys were removed under the scope that
// wrote it. A nil scope hashes to the empty string.
func HashConfig(cfg *manifest.ScopeConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}

	node, err := canonicalize(cfg)
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(node)
	if err != nil {
		return "", fmt.Errorf("marshal scope hash payload: %w", err)
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalize(cfg *manifest.ScopeConfig) (hashNode, error) {
	if cfg == nil {
		return hashNode{}, errors.New("scope config is nil")
	}

	scopeType := strings.TrimSpace(cfg.Type)
	if scopeType == "" {
		return hashNode{}, errors.New("scope.type is required")
	}

	node := hashNode{Type: scopeType}
	switch scopeType {
	case "prefix_list":
		prefixes := canonicalList(cfg.Prefixes, true)
		if len(prefixes) == 0 {
			return hashNode{}, errors.New("scope.prefixes must not be empty")
		}
		node.BasePrefix = canonicalPrefix(cfg.BasePrefix)
		node.Delimiter = normalizeDelimiter(cfg.Delimiter)
		node.Prefixes = prefixes
	case "union":
		if len(cfg.Scopes) == 0 {
			return hashNode{}, errors.New("scope.scopes must not be empty")
		}
		node.Scopes = make([]hashNode, 0, len(cfg.Scopes))
		for i := range cfg.Scopes {
			child, err := canonicalize(&cfg.Scopes[i])
			if err != nil {
				return hashNode{}, err
			}
			node.Scopes = append(node.Scopes, child)
		}
		// Children sort by their canonical encoding, so union order
		// does not change the hash.
		sort.Slice(node.Scopes, func(i, j int) bool {
			return canonicalKey(node.Scopes[i]) < canonicalKey(node.Scopes[j])
		})
	case "date_partitions":
		node.BasePrefix = canonicalPrefix(cfg.BasePrefix)
		node.Delimiter = normalizeDelimiter(cfg.Delimiter)

		discover, err := canonicalizeDiscover(cfg.Discover)
		if err != nil {
			return hashNode{}, err
		}
		node.Discover = discover

		date, err := canonicalizeDate(cfg.Date)
		if err != nil {
			return hashNode{}, err
		}
		node.Date = date
	default:
		return hashNode{}, fmt.Errorf("unsupported scope.type %q", scopeType)
	}

	return node, nil
}

func canonicalizeDiscover(cfg *manifest.ScopeDiscoverConfig) (*hashDiscover, error) {
	if cfg == nil || len(cfg.Segments) == 0 {
		return nil, nil
	}

	segments := make([]hashSegment, 0, len(cfg.Segments))
	for _, segment := range cfg.Segments {
		segments = append(segments, hashSegment{
			Index:     segment.Index,
			Allow:     canonicalList(segment.Allow, true),
			Deny:      canonicalList(segment.Deny, true),
			GlobAllow: canonicalList(segment.GlobAllow, false),
			GlobDeny:  canonicalList(segment.GlobDeny, false),
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Index < segments[j].Index
	})

	return &hashDiscover{Segments: segments}, nil
}

func canonicalizeDate(cfg *manifest.ScopeDateConfig) (*hashDate, error) {
	if cfg == nil {
		return nil, errors.New("scope.date is required")
	}
	if cfg.Range == nil {
		return nil, errors.New("scope.date.range is required")
	}
	if cfg.SegmentIndex < 0 {
		return nil, errors.New("scope.date.segment_index must be >= 0")
	}

	start, end, err := parseDateRange(cfg.Range)
	if err != nil {
		return nil, err
	}

	format := strings.TrimSpace(cfg.Format)
	if format == "" {
		format = defaultDateFormat
	}

	return &hashDate{
		SegmentIndex: cfg.SegmentIndex,
		Format:       format,
		Range: hashDateRange{
			After:  start,
			Before: end,
		},
		Glob: strings.TrimSpace(cfg.Glob),
	}, nil
}

// canonicalList trims, optionally strips a leading slash, deduplicates,
// and sorts.
func canonicalList(values []string, trimLeadingSlash bool) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimLeadingSlash {
			trimmed = strings.TrimPrefix(trimmed, "/")
		}
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}

	sort.Strings(out)
	dedup := out[:1]
	for _, value := range out[1:] {
		if value != dedup[len(dedup)-1] {
			dedup = append(dedup, value)
		}
	}
	return dedup
}

func canonicalKey(n hashNode) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func canonicalPrefix(value string) string {
	return strings.TrimPrefix(strings.TrimSpace(value), "/")
}
