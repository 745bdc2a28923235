package match

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/goscour/pkg/provider"
)

// Filter decides whether a listed object is eligible for removal.
//
// Filters see only what a List call returns: key, size, and modification
// time. Criteria that would need per-object HEAD metadata report
// RequiresEnrichment, and the removal pipeline rejects them up front.
type Filter interface {
	// Match reports whether the object passes.
	Match(obj *provider.ObjectSummary) bool

	// RequiresEnrichment reports whether Match needs HEAD metadata.
	RequiresEnrichment() bool

	// String describes the filter for run summaries and logs.
	String() string
}

// FilterConfig carries filter criteria from a manifest or CLI flags.
type FilterConfig struct {
	// Size bounds object sizes.
	Size *SizeFilterConfig `json:"size,omitempty" yaml:"size,omitempty"`

	// Modified bounds modification times.
	Modified *DateFilterConfig `json:"modified,omitempty" yaml:"modified,omitempty"`

	// ContentType lists allowed MIME types. Matching it needs HEAD
	// metadata, which the removal pipeline does not fetch, so a config
	// naming it is rejected.
	ContentType []string `json:"content_type,omitempty" yaml:"content_type,omitempty"`

	// KeyRegex is applied to object keys after glob matching.
	KeyRegex string `json:"key_regex,omitempty" yaml:"key_regex,omitempty"`
}

// SizeFilterConfig bounds object sizes. Both bounds are inclusive and
// take human-readable values such as "1KB" (SI) or "100MiB" (IEC).
type SizeFilterConfig struct {
	Min string `json:"min,omitempty" yaml:"min,omitempty"`
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// DateFilterConfig bounds modification times with ISO 8601 values such
// as "2024-01-15" or "2024-01-15T10:30:00Z". After is inclusive and
// Before exclusive, so adjacent ranges cover every instant once.
type DateFilterConfig struct {
	After  string `json:"after,omitempty" yaml:"after,omitempty"`
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
}

// Filter errors.
var (
	ErrInvalidSize       = errors.New("invalid size value")
	ErrInvalidDate       = errors.New("invalid date value")
	ErrInvalidAge        = errors.New("invalid age value")
	ErrInvalidRegex      = errors.New("invalid regex pattern")
	ErrUnsupportedFilter = errors.New("unsupported filter")
)

// SizeFilter passes objects whose size falls in a closed range.
type SizeFilter struct {
	min int64 // -1 when unbounded
	max int64 // -1 when unbounded
}

// NewSizeFilter builds a size filter, or nil when cfg is nil.
func NewSizeFilter(cfg *SizeFilterConfig) (*SizeFilter, error) {
	if cfg == nil {
		return nil, nil
	}

	f := &SizeFilter{min: -1, max: -1}

	if cfg.Min != "" {
		size, err := ParseSize(cfg.Min)
		if err != nil {
			return nil, fmt.Errorf("min size: %w", err)
		}
		f.min = size
	}

	if cfg.Max != "" {
		size, err := ParseSize(cfg.Max)
		if err != nil {
			return nil, fmt.Errorf("max size: %w", err)
		}
		f.max = size
	}

	if f.min >= 0 && f.max >= 0 && f.min > f.max {
		return nil, fmt.Errorf("%w: min (%d) > max (%d)", ErrInvalidSize, f.min, f.max)
	}

	return f, nil
}

// Match reports whether the object's size is inside the range.
func (f *SizeFilter) Match(obj *provider.ObjectSummary) bool {
	if f.min >= 0 && obj.Size < f.min {
		return false
	}
	if f.max >= 0 && obj.Size > f.max {
		return false
	}
	return true
}

// RequiresEnrichment returns false. Listing reports sizes.
func (f *SizeFilter) RequiresEnrichment() bool {
	return false
}

// String renders the bounds with base-2 units.
func (f *SizeFilter) String() string {
	switch {
	case f.min >= 0 && f.max >= 0:
		return fmt.Sprintf("size: %s - %s", FormatSize(f.min), FormatSize(f.max))
	case f.min >= 0:
		return fmt.Sprintf("size: >= %s", FormatSize(f.min))
	case f.max >= 0:
		return fmt.Sprintf("size: <= %s", FormatSize(f.max))
	default:
		return "size: any"
	}
}

// DateFilter passes objects modified inside a half-open time range.
type DateFilter struct {
	after  time.Time // zero when unbounded
	before time.Time // zero when unbounded
}

// NewDateFilter builds a date filter, or nil when cfg is nil.
func NewDateFilter(cfg *DateFilterConfig) (*DateFilter, error) {
	if cfg == nil {
		return nil, nil
	}

	f := &DateFilter{}

	if cfg.After != "" {
		t, err := ParseDate(cfg.After)
		if err != nil {
			return nil, fmt.Errorf("after date: %w", err)
		}
		f.after = t
	}

	if cfg.Before != "" {
		t, err := ParseDate(cfg.Before)
		if err != nil {
			return nil, fmt.Errorf("before date: %w", err)
		}
		f.before = t
	}

	if !f.after.IsZero() && !f.before.IsZero() && !f.after.Before(f.before) {
		return nil, fmt.Errorf("%w: after (%s) >= before (%s)", ErrInvalidDate, f.after, f.before)
	}

	return f, nil
}

// Match reports whether the modification time is inside the range.
// The after bound is inclusive, the before bound exclusive.
func (f *DateFilter) Match(obj *provider.ObjectSummary) bool {
	if !f.after.IsZero() && obj.LastModified.Before(f.after) {
		return false
	}
	if !f.before.IsZero() && !obj.LastModified.Before(f.before) {
		return false
	}
	return true
}

// RequiresEnrichment returns false. Listing reports modification times.
func (f *DateFilter) RequiresEnrichment() bool {
	return false
}

// String renders the bounds as plain dates.
func (f *DateFilter) String() string {
	switch {
	case !f.after.IsZero() && !f.before.IsZero():
		return fmt.Sprintf("modified: %s to %s", f.after.Format("2006-01-02"), f.before.Format("2006-01-02"))
	case !f.after.IsZero():
		return fmt.Sprintf("modified: on/after %s", f.after.Format("2006-01-02"))
	case !f.before.IsZero():
		return fmt.Sprintf("modified: before %s", f.before.Format("2006-01-02"))
	default:
		return "modified: any"
	}
}

// RegexFilter passes objects whose key matches a pattern. The pattern is
// unanchored, the usual Go regexp rules apply.
type RegexFilter struct {
	pattern *regexp.Regexp
	raw     string
}

// NewRegexFilter compiles a key regex, or returns nil for the empty
// pattern.
func NewRegexFilter(pattern string) (*RegexFilter, error) {
	if pattern == "" {
		return nil, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegex, err)
	}

	return &RegexFilter{pattern: re, raw: pattern}, nil
}

// Match reports whether the object key matches the pattern.
func (f *RegexFilter) Match(obj *provider.ObjectSummary) bool {
	return f.pattern.MatchString(obj.Key)
}

// RequiresEnrichment returns false. Keys come straight from listing.
func (f *RegexFilter) RequiresEnrichment() bool {
	return false
}

func (f *RegexFilter) String() string {
	return fmt.Sprintf("key_regex: %s", f.raw)
}

// CompositeFilter applies its members in order with AND semantics.
type CompositeFilter struct {
	filters []Filter
}

// NewCompositeFilter combines filters, dropping nil members. Returns nil
// when nothing remains.
func NewCompositeFilter(filters ...Filter) *CompositeFilter {
	var nonNil []Filter
	for _, f := range filters {
		if f != nil {
			nonNil = append(nonNil, f)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return &CompositeFilter{filters: nonNil}
}

// NewFilterFromConfig builds the composite filter a config describes.
// Returns nil when the config carries no criteria.
func NewFilterFromConfig(cfg *FilterConfig) (*CompositeFilter, error) {
	if cfg == nil {
		return nil, nil
	}

	// Fail before compiling anything the config cannot have.
	if len(cfg.ContentType) > 0 {
		return nil, fmt.Errorf("%w: content_type requires enrichment", ErrUnsupportedFilter)
	}

	var filters []Filter

	sizeFilter, err := NewSizeFilter(cfg.Size)
	if err != nil {
		return nil, err
	}
	if sizeFilter != nil {
		filters = append(filters, sizeFilter)
	}

	dateFilter, err := NewDateFilter(cfg.Modified)
	if err != nil {
		return nil, err
	}
	if dateFilter != nil {
		filters = append(filters, dateFilter)
	}

	regexFilter, err := NewRegexFilter(cfg.KeyRegex)
	if err != nil {
		return nil, err
	}
	if regexFilter != nil {
		filters = append(filters, regexFilter)
	}

	if len(filters) == 0 {
		return nil, nil
	}

	return &CompositeFilter{filters: filters}, nil
}

// Match reports whether every member passes.
func (f *CompositeFilter) Match(obj *provider.ObjectSummary) bool {
	for _, filter := range f.filters {
		if !filter.Match(obj) {
			return false
		}
	}
	return true
}

// RequiresEnrichment reports whether any member needs HEAD metadata.
func (f *CompositeFilter) RequiresEnrichment() bool {
	for _, filter := range f.filters {
		if filter.RequiresEnrichment() {
			return true
		}
	}
	return false
}

// String joins the member descriptions.
func (f *CompositeFilter) String() string {
	if len(f.filters) == 0 {
		return "no filters"
	}
	parts := make([]string, len(f.filters))
	for i, filter := range f.filters {
		parts[i] = filter.String()
	}
	return strings.Join(parts, ", ")
}

// Filters returns the member filters.
func (f *CompositeFilter) Filters() []Filter {
	return f.filters
}

// Size unit multipliers.
const (
	Byte int64 = 1

	// Base-10 (SI) units.
	KB int64 = 1000
	MB int64 = 1000 * KB
	GB int64 = 1000 * MB
	TB int64 = 1000 * GB

	// Base-2 (IEC) units.
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// sizeUnits maps an upper-cased suffix to its multiplier. Bare K/M/G/T
// read as their SI forms.
var sizeUnits = map[string]int64{
	"":    Byte,
	"B":   Byte,
	"K":   KB,
	"KB":  KB,
	"M":   MB,
	"MB":  MB,
	"G":   GB,
	"GB":  GB,
	"T":   TB,
	"TB":  TB,
	"KI":  KiB,
	"KIB": KiB,
	"MI":  MiB,
	"MIB": MiB,
	"GI":  GiB,
	"GIB": GiB,
	"TI":  TiB,
	"TIB": TiB,
}

// ParseSize parses a human-readable size such as "1024", "100MB", or
// "1.5GiB". KB and friends are base-10, the IEC forms base-2, and case
// does not matter. Negative sizes and values past int64 are rejected.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidSize
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if split == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	numStr, unitStr := s, ""
	if split > 0 {
		numStr, unitStr = s[:split], strings.TrimSpace(s[split:])
	}

	multiplier, ok := sizeUnits[strings.ToUpper(unitStr)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidSize, unitStr)
	}

	if strings.Contains(numStr, ".") {
		num, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
		}
		bytes := num * float64(multiplier)
		if bytes > math.MaxInt64 {
			return 0, fmt.Errorf("%w: size overflows int64", ErrInvalidSize)
		}
		return int64(bytes), nil
	}

	n, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	if n > math.MaxInt64/uint64(multiplier) {
		return 0, fmt.Errorf("%w: size overflows int64", ErrInvalidSize)
	}
	return int64(n) * multiplier, nil
}

// FormatSize renders a byte count with base-2 units, matching how sizes
// appear in listing output.
func FormatSize(bytes int64) string {
	units := []struct {
		value  int64
		suffix string
	}{
		{TiB, "TiB"},
		{GiB, "GiB"},
		{MiB, "MiB"},
		{KiB, "KiB"},
	}
	for _, u := range units {
		if bytes >= u.value {
			return fmt.Sprintf("%.1f%s", float64(bytes)/float64(u.value), u.suffix)
		}
	}
	return fmt.Sprintf("%dB", bytes)
}

// dateLayouts are tried in order. Plain dates read as start of day UTC.
var dateLayouts = []string{time.RFC3339, "2006-01-02", time.RFC3339Nano}

// ParseDate parses an ISO 8601 date or datetime and normalizes it to
// UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// ParseAge parses a relative age string into a duration.
//
// Ages drive the --older-than and --newer-than flags: an object's cutoff
// time is computed as now minus the age. Supported formats:
//   - Days: "30d" (24h days)
//   - Weeks: "4w" (7-day weeks)
//   - Anything time.ParseDuration accepts: "36h", "90m", "1h30m"
//
// Day and week suffixes exist because retention policies are written in
// days, which time.ParseDuration does not accept.
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAge
	}

	if n := len(s); n > 1 {
		var unit time.Duration
		switch s[n-1] {
		case 'd':
			unit = 24 * time.Hour
		case 'w':
			unit = 7 * 24 * time.Hour
		}
		if unit != 0 {
			num, err := strconv.ParseFloat(s[:n-1], 64)
			if err != nil || num < 0 || math.IsNaN(num) || math.IsInf(num, 0) {
				return 0, fmt.Errorf("%w: %q", ErrInvalidAge, s)
			}
			return time.Duration(num * float64(unit)), nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAge, s)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative age", ErrInvalidAge)
	}
	return d, nil
}
