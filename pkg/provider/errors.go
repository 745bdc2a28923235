package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every provider implementation.
//
// The removal engine classifies per-key outcomes through these. A delete
// that comes back ErrNotFound counts as success: the object being gone
// is the point. The rest become failure records with matching error
// codes.
var (
	// ErrNotFound means the object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied means the caller lacks permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound means the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials means authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderUnavailable means the store could not be reached.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled means the store rate limited the request.
	ErrThrottled = errors.New("request throttled")
)

// ProviderError carries the operation, target, and cause of a failed
// provider call.
type ProviderError struct {
	// Op is the provider method that failed, such as "List" or
	// "DeleteObjects".
	Op string

	// Provider identifies the implementation.
	Provider ProviderType

	// Bucket and Key locate the target when the operation has one.
	Bucket string
	Key    string

	// Err is the underlying cause.
	Err error
}

func (e *ProviderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err wraps ErrNotFound.
//
// Deletion treats this as success: the goal, object absent, is achieved.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied reports whether err wraps ErrAccessDenied.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsBucketNotFound reports whether err wraps ErrBucketNotFound.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}

// IsInvalidCredentials reports whether err wraps ErrInvalidCredentials.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsProviderUnavailable reports whether err wraps ErrProviderUnavailable.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsThrottled reports whether err wraps ErrThrottled.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
