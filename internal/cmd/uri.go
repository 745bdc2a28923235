package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/3leaps/goscour/pkg/match"
	"github.com/3leaps/goscour/pkg/provider"
	"github.com/3leaps/goscour/pkg/provider/file"
	"github.com/3leaps/goscour/pkg/provider/s3"
)

// URI parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedProvider indicates the URI scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingBucket indicates the URI is missing a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// ObjectURI represents a parsed storage URI.
//
// Example URIs:
//   - s3://bucket/key/path.txt
//   - s3://bucket/prefix/
//   - s3://bucket/prefix/**/*.parquet
//   - file:///var/data/logs/
type ObjectURI struct {
	// Provider is the storage provider (e.g., "s3", "file").
	Provider string

	// Bucket is the bucket name. For file URIs it is the root directory
	// the provider operates under.
	Bucket string

	// Key is the object key or prefix.
	// May be empty for bucket root.
	Key string

	// Pattern is set if Key contains glob characters.
	// When set, Key is the prefix before the first glob character.
	Pattern string
}

// String returns the URI in canonical form.
func (u *ObjectURI) String() string {
	if u.Pattern != "" {
		return fmt.Sprintf("%s://%s/%s", u.Provider, u.Bucket, u.Pattern)
	}
	if u.Key != "" {
		return fmt.Sprintf("%s://%s/%s", u.Provider, u.Bucket, u.Key)
	}
	return fmt.Sprintf("%s://%s/", u.Provider, u.Bucket)
}

// IsPattern returns true if the URI contains glob pattern characters.
func (u *ObjectURI) IsPattern() bool {
	return u.Pattern != ""
}

// IsPrefix returns true if the URI represents a prefix (ends with /).
func (u *ObjectURI) IsPrefix() bool {
	return strings.HasSuffix(u.Key, "/") || u.Key == ""
}

// ParseURI parses a storage URI into its components.
//
// Supported formats:
//   - s3://bucket
//   - s3://bucket/
//   - s3://bucket/key
//   - s3://bucket/prefix/
//   - s3://bucket/prefix/**/*.parquet
//   - file:///path/to/dir/
//   - file:///path/to/dir/**/*.log
//
// Returns an error if the URI is malformed or uses an unsupported provider.
func ParseURI(uri string) (*ObjectURI, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	// Parse manually to handle glob characters like ? which url.Parse treats as query delimiter
	// Expected format: scheme://bucket/key
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return nil, fmt.Errorf("%w: missing scheme (expected s3://... or file://...)", ErrInvalidURI)
	}

	prov := strings.ToLower(uri[:schemeEnd])

	// Everything after ://
	remainder := uri[schemeEnd+3:]

	switch prov {
	case string(provider.ProviderS3):
		return parseS3URI(uri, remainder)
	case string(provider.ProviderFile):
		return parseFileURI(uri, remainder)
	default:
		return nil, fmt.Errorf("%w: %s (supported: s3, file)", ErrUnsupportedProvider, prov)
	}
}

func parseS3URI(uri, remainder string) (*ObjectURI, error) {
	if remainder == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}

	// Split bucket from key at first /
	var bucket, key string
	slashIdx := strings.Index(remainder, "/")
	if slashIdx == -1 {
		bucket = remainder
		key = ""
	} else {
		bucket = remainder[:slashIdx]
		key = remainder[slashIdx+1:]
	}

	if bucket == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}

	// Validate bucket name doesn't contain invalid characters
	// (basic validation - S3 bucket names can't contain most special chars)
	if _, err := url.Parse("s3://" + bucket + "/"); err != nil {
		return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
	}

	result := &ObjectURI{
		Provider: string(provider.ProviderS3),
		Bucket:   bucket,
	}
	splitKeyPattern(result, key)
	return result, nil
}

// parseFileURI maps a filesystem path onto the bucket/key model: the
// longest glob-free directory portion becomes the bucket (the provider's
// root directory) and the rest becomes the key or pattern relative to it.
//
//	file:///var/data/logs      -> bucket /var/data,      key logs
//	file:///var/data/logs/     -> bucket /var/data/logs, key ""
//	file:///var/data/**/*.log  -> bucket /var/data,      pattern **/*.log
func parseFileURI(uri, remainder string) (*ObjectURI, error) {
	if remainder == "" || remainder == "/" {
		return nil, fmt.Errorf("%w: file URI needs a directory, in %s", ErrMissingBucket, uri)
	}

	segments := strings.Split(remainder, "/")

	// First segment with an unescaped glob metacharacter ends the root
	// directory.
	globIdx := -1
	for i, seg := range segments {
		if match.IsGlobPattern(seg) {
			globIdx = i
			break
		}
	}

	result := &ObjectURI{Provider: string(provider.ProviderFile)}

	if globIdx == -1 {
		last := segments[len(segments)-1]
		if last == "" {
			// Trailing slash: the whole path is the root directory.
			result.Bucket = strings.Join(segments[:len(segments)-1], "/")
		} else {
			result.Bucket = strings.Join(segments[:len(segments)-1], "/")
			result.Key = match.DerivePrefix(last)
		}
	} else {
		result.Bucket = strings.Join(segments[:globIdx], "/")
		result.Pattern = strings.Join(segments[globIdx:], "/")
		result.Key = match.DerivePrefix(result.Pattern)
	}

	if result.Bucket == "" || result.Bucket == "/" {
		// A bare filename or a glob in the first path segment leaves no
		// directory to anchor the provider.
		return nil, fmt.Errorf("%w: file URI needs a directory above %q, in %s", ErrMissingBucket, remainder, uri)
	}

	return result, nil
}

func splitKeyPattern(result *ObjectURI, key string) {
	// Use escape-aware glob detection from match package.
	// This correctly handles escaped metacharacters (e.g., \* for literal asterisk).
	if match.IsGlobPattern(key) {
		// Glob pattern: Key is the prefix for listing, Pattern is the full glob
		result.Pattern = key
		result.Key = match.DerivePrefix(key)
	} else {
		// No glob: unescape for key lookup (e.g., "file\*.txt" -> "file*.txt")
		result.Key = match.DerivePrefix(key)
	}
}

// openProvider creates the storage provider a parsed URI addresses.
// region, profile, and endpoint apply to S3 URIs only.
func openProvider(ctx context.Context, uri *ObjectURI, region, profile, endpoint string) (provider.Provider, error) {
	switch uri.Provider {
	case string(provider.ProviderFile):
		return file.New(file.Config{BaseDir: uri.Bucket})
	default:
		cfg := s3.Config{
			Bucket:   uri.Bucket,
			Region:   region,
			Endpoint: endpoint,
			Profile:  profile,
			// Force path-style URLs when custom endpoint is set.
			// S3-compatible services (moto, MinIO, etc.) require this.
			ForcePathStyle: endpoint != "",
		}
		return s3.New(ctx, cfg)
	}
}
