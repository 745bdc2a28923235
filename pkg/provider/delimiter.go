package provider

import "context"

// DelimiterLister lists one hierarchy level at a time.
//
// A delimiter listing returns the objects directly under Prefix plus the
// immediate child prefixes, which is what keeps non-recursive removal
// from touching anything nested. Child prefixes surface to callers as
// folder markers; they are never deletable objects.
//
// Implementations map to the store's native delimiter listing, such as
// S3 ListObjectsV2 with Delimiter.
type DelimiterLister interface {
	ListWithDelimiter(ctx context.Context, opts ListWithDelimiterOptions) (*ListWithDelimiterResult, error)
}

// ListWithDelimiterOptions configures one level of listing.
type ListWithDelimiterOptions struct {
	// Prefix is the level to list under.
	Prefix string

	// Delimiter splits the hierarchy, almost always "/".
	Delimiter string

	// ContinuationToken resumes a truncated level.
	ContinuationToken string

	// MaxKeys caps the page size.
	MaxKeys int
}

// ListWithDelimiterResult is one page of a delimiter listing.
type ListWithDelimiterResult struct {
	// Objects sit directly under the requested Prefix.
	Objects []ObjectSummary

	// CommonPrefixes are the immediate children one level down.
	CommonPrefixes []string

	// ContinuationToken fetches the next page when IsTruncated is set.
	ContinuationToken string
	IsTruncated       bool
}
