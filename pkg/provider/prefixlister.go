package provider

import "context"

// PrefixLister supports prefix-only discovery.
//
// Unlike DelimiterLister this returns no object rows, just the immediate
// child prefixes under Prefix. Scope compilation uses it to expand
// date-partitioned layouts without paying for full object listings.
type PrefixLister interface {
	ListCommonPrefixes(ctx context.Context, opts ListCommonPrefixesOptions) (*ListCommonPrefixesResult, error)
}

// ListCommonPrefixesOptions configures a prefix discovery operation.
type ListCommonPrefixesOptions struct {
	// Prefix is the parent prefix to expand.
	Prefix string

	// Delimiter groups keys (e.g., "/").
	Delimiter string

	// ContinuationToken resumes from a previous ListCommonPrefixesResult.
	ContinuationToken string
}

// ListCommonPrefixesResult contains a page of child prefixes.
type ListCommonPrefixesResult struct {
	// Prefixes are the immediate child prefixes.
	Prefixes []string

	// ContinuationToken is used to retrieve the next page.
	ContinuationToken string

	// IsTruncated indicates whether more results are available.
	IsTruncated bool
}
