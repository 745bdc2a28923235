// Package provider defines the object storage abstractions the removal
// pipeline runs against.
//
// Providers cover listing, metadata, and deletion. Authentication uses
// the SDK default credential chains; retries and backoff stay with the
// SDK rather than the implementations.
package provider

import (
	"context"
	"time"
)

// Provider is the read side of a storage backend: paginated listing and
// per-object metadata. Implementations must be safe for concurrent use.
//
// Deletion lives on ObjectDeleter so read-only surfaces (ls, tree, stat)
// can hold a Provider without ever seeing a delete method.
type Provider interface {
	// List returns one page of objects under opts.Prefix. Feed the
	// returned ContinuationToken back in to walk further pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Head returns metadata for one object, or ErrNotFound.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Close releases the provider's resources.
	Close() error
}

// ListOptions configures a List call.
type ListOptions struct {
	// Prefix narrows the listing to keys that start with it. Empty
	// lists the whole bucket.
	Prefix string

	// ContinuationToken resumes where a previous page left off.
	ContinuationToken string

	// MaxKeys caps the page size. Zero takes the provider default.
	MaxKeys int
}

// ListResult is one page of a listing.
type ListResult struct {
	Objects []ObjectSummary

	// ContinuationToken fetches the next page when IsTruncated is set.
	ContinuationToken string
	IsTruncated       bool
}

// ObjectSummary is the per-object row a listing returns. Key is the full
// key in the bucket, Size is in bytes, and ETag is the store's entity
// tag, usually an MD5.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectMeta is the full metadata Head returns.
type ObjectMeta struct {
	ObjectSummary

	// ContentType is the stored MIME type.
	ContentType string

	// Metadata holds the user-defined key-value pairs.
	Metadata map[string]string
}

// ProviderType names a storage backend.
type ProviderType string

const (
	// ProviderS3 is AWS S3 or any S3-compatible store.
	ProviderS3 ProviderType = "s3"

	// ProviderFile is a local filesystem tree addressed as a bucket.
	ProviderFile ProviderType = "file"
)

func (p ProviderType) String() string {
	return string(p)
}
