// Package lister produces removal candidates from provider listings.
//
// A Lister is the standard ItemSource for removal runs: it implements
// remove.Source by paging through provider listings lazily, so candidates
// are fetched only as fast as the pipeline consumes them. Listing a
// million-object bucket holds one page in memory, not a million keys.
//
// Two traversal modes:
//   - Recursive: a flat listing of every key under the target prefix.
//   - Non-recursive: a delimiter listing of the target level only; child
//     prefixes surface as synthetic folder markers, which the removal
//     pipeline reports as skipped and never deletes.
//
// Glob patterns are matched against keys relative to the base prefix, and
// include patterns narrow the listing to their derived prefixes so the
// provider is never asked for objects that cannot match.
package lister

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/3leaps/goscour/pkg/match"
	"github.com/3leaps/goscour/pkg/provider"
	"github.com/3leaps/goscour/pkg/remove"
	"golang.org/x/time/rate"
)

// DefaultDelimiter is the hierarchy delimiter used when none is configured.
const DefaultDelimiter = "/"

// Config configures listing behavior.
type Config struct {
	// Recursive selects flat listing of the whole subtree. When false,
	// only the target level is listed and child prefixes become
	// synthetic folder markers.
	Recursive bool

	// Delimiter groups keys in non-recursive mode.
	// Default: "/"
	Delimiter string

	// MaxKeys limits keys per listing page. Zero uses the provider
	// default (typically 1000).
	MaxKeys int

	// RateLimit is the maximum listing requests per second.
	// Zero means unlimited (provider handles its own throttling).
	RateLimit float64
}

// Stats reports listing counters for summaries.
type Stats struct {
	// ObjectsListed is the number of objects seen from the provider.
	ObjectsListed int64

	// ObjectsMatched is the number of objects that passed patterns and
	// filters and were yielded as candidates.
	ObjectsMatched int64

	// BytesMatched is the cumulative size of matched objects.
	BytesMatched int64

	// Pages is the number of listing pages fetched.
	Pages int64

	// Prefixes lists the prefixes that were (or will be) walked.
	Prefixes []string
}

// Lister yields candidates from provider listings one at a time.
//
// Lister is safe for single use by a single consumer: Next must not be
// called concurrently, which matches the removal pipeline's dedicated
// submitter goroutine.
type Lister struct {
	provider provider.Provider
	base     string
	matcher  *match.Matcher
	filter   *match.CompositeFilter
	cfg      Config

	// Rate limiter for listing calls (nil if unlimited)
	limiter *rate.Limiter

	// Explicit prefixes override matcher-derived ones (scope expansion).
	override []string

	// Iteration state, owned by the consumer.
	started  bool
	done     bool
	prefixes []string
	pIdx     int
	token    string
	buf      []remove.Candidate
	bufPos   int

	stats Stats
}

// New creates a lister over everything under base.
//
// Parameters:
//   - p: Provider for listing objects
//   - base: key prefix the target URI names; keys are matched relative
//     to it
//   - m: Matcher for include/exclude patterns; nil matches everything
//   - cfg: Listing configuration
func New(p provider.Provider, base string, m *match.Matcher, cfg Config) *Lister {
	if cfg.Delimiter == "" {
		cfg.Delimiter = DefaultDelimiter
	}
	l := &Lister{
		provider: p,
		base:     base,
		matcher:  m,
		cfg:      cfg,
	}
	if cfg.RateLimit > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return l
}

// WithFilter sets an optional metadata filter (size, date, regex).
// Filters are applied after glob matching with AND semantics.
// Returns the lister for chaining.
func (l *Lister) WithFilter(f *match.CompositeFilter) *Lister {
	l.filter = f
	return l
}

// WithPrefixes overrides the prefixes to list with absolute prefixes.
//
// Scope and shard expansion use this to walk a precompiled prefix set
// instead of the matcher-derived one. Keys are still matched relative
// to base.
func (l *Lister) WithPrefixes(prefixes []string) *Lister {
	l.override = prefixes
	return l
}

// Next returns the next candidate, or io.EOF when the listing is
// exhausted. Any other error is a broken listing and ends the run.
func (l *Lister) Next(ctx context.Context) (remove.Candidate, error) {
	for {
		if l.bufPos < len(l.buf) {
			c := l.buf[l.bufPos]
			l.bufPos++
			return c, nil
		}
		if l.done {
			return remove.Candidate{}, io.EOF
		}
		if err := l.fetchPage(ctx); err != nil {
			return remove.Candidate{}, err
		}
	}
}

// Stats returns the listing counters observed so far.
func (l *Lister) Stats() Stats {
	s := l.stats
	s.Prefixes = l.listPrefixes()
	return s
}

// listPrefixes resolves the prefixes to walk: an explicit override, or
// base extended by the matcher's derived prefixes. Non-recursive mode
// always walks exactly the base level.
func (l *Lister) listPrefixes() []string {
	if l.override != nil {
		return l.override
	}
	if !l.cfg.Recursive || l.matcher == nil {
		return []string{l.base}
	}
	derived := l.matcher.Prefixes()
	if len(derived) == 0 {
		return []string{l.base}
	}
	out := make([]string, 0, len(derived))
	for _, d := range derived {
		out = append(out, l.base+d)
	}
	return out
}

// fetchPage fetches one listing page into the buffer. An empty buffer
// after return means the page held no matching objects; Next loops.
func (l *Lister) fetchPage(ctx context.Context) error {
	if !l.started {
		l.started = true
		l.prefixes = l.listPrefixes()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.pIdx >= len(l.prefixes) {
		l.done = true
		return nil
	}
	if err := l.waitForRateLimit(ctx); err != nil {
		return err
	}

	l.buf = l.buf[:0]
	l.bufPos = 0
	prefix := l.prefixes[l.pIdx]

	if l.cfg.Recursive {
		return l.fetchFlatPage(ctx, prefix)
	}
	return l.fetchDelimiterPage(ctx, prefix)
}

func (l *Lister) fetchFlatPage(ctx context.Context, prefix string) error {
	result, err := l.provider.List(ctx, provider.ListOptions{
		Prefix:            prefix,
		ContinuationToken: l.token,
		MaxKeys:           l.cfg.MaxKeys,
	})
	if err != nil {
		return fmt.Errorf("listing %q: %w", prefix, err)
	}
	l.stats.Pages++

	for _, obj := range result.Objects {
		l.stats.ObjectsListed++
		if !l.matches(obj) {
			continue
		}
		l.appendObject(obj)
	}

	l.advance(result.IsTruncated, result.ContinuationToken)
	return nil
}

func (l *Lister) fetchDelimiterPage(ctx context.Context, prefix string) error {
	dl, ok := l.provider.(provider.DelimiterLister)
	if !ok {
		return fmt.Errorf("provider does not support delimiter listing; use recursive mode")
	}

	result, err := dl.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{
		Prefix:            prefix,
		Delimiter:         l.cfg.Delimiter,
		ContinuationToken: l.token,
		MaxKeys:           l.cfg.MaxKeys,
	})
	if err != nil {
		return fmt.Errorf("listing %q: %w", prefix, err)
	}
	l.stats.Pages++

	for _, obj := range result.Objects {
		l.stats.ObjectsListed++
		if !l.matches(obj) {
			continue
		}
		l.appendObject(obj)
	}

	// Child prefixes ride along as folder markers so the hierarchy stays
	// visible. They bypass patterns and filters: they are not objects.
	for _, p := range result.CommonPrefixes {
		l.buf = append(l.buf, remove.Candidate{Key: p, SyntheticFolder: true})
	}

	l.advance(result.IsTruncated, result.ContinuationToken)
	return nil
}

// advance moves to the next page, or to the next prefix when the current
// one is exhausted.
func (l *Lister) advance(truncated bool, token string) {
	if truncated && token != "" {
		l.token = token
		return
	}
	l.token = ""
	l.pIdx++
	if l.pIdx >= len(l.prefixes) {
		l.done = true
	}
}

func (l *Lister) appendObject(obj provider.ObjectSummary) {
	l.stats.ObjectsMatched++
	l.stats.BytesMatched += obj.Size
	l.buf = append(l.buf, remove.Candidate{
		Key:          obj.Key,
		Size:         obj.Size,
		ETag:         obj.ETag,
		LastModified: obj.LastModified,
	})
}

// matches applies glob patterns (against the base-relative key) and
// metadata filters.
func (l *Lister) matches(obj provider.ObjectSummary) bool {
	if l.matcher != nil && !l.matcher.MatchesAll() {
		if !l.matcher.Match(l.relativeKey(obj.Key)) {
			return false
		}
	}
	if l.filter != nil && !l.filter.Match(&obj) {
		return false
	}
	return true
}

func (l *Lister) relativeKey(key string) string {
	return strings.TrimPrefix(key, l.base)
}

// waitForRateLimit blocks until the rate limiter allows a listing call.
// Returns immediately if rate limiting is disabled.
func (l *Lister) waitForRateLimit(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
