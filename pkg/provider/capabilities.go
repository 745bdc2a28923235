package provider

import (
	"context"
	"io"
)

// Optional provider capability interfaces.
//
// These interfaces are used for feature detection (type assertions). The core
// Provider interface stays read-only; anything that mutates the store is a
// capability so callers must opt in explicitly.

// ObjectDeleter can delete single objects.
//
// This is the invoker behind every removal worker. DeleteObject must return
// an error wrapping ErrNotFound when the object is already absent so callers
// can treat that case as success.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// BatchDeleter can delete many objects in one provider call.
//
// Implementations map to provider-native batch APIs (S3 DeleteObjects, up to
// 1000 keys per call). Per-key failures come back as DeleteError values; a
// non-nil error means the whole batch call failed and nothing can be assumed
// deleted.
type BatchDeleter interface {
	DeleteObjects(ctx context.Context, keys []string) ([]DeleteError, error)

	// MaxBatchSize returns the largest batch the provider accepts.
	MaxBatchSize() int
}

// DeleteError reports one key's failure within a batch delete.
//
// Err carries the same sentinel classification single deletes use, so
// IsNotFound/IsAccessDenied work on it unchanged.
type DeleteError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e DeleteError) Error() string {
	return e.Key + ": " + e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e DeleteError) Unwrap() error {
	return e.Err
}

// ObjectPutter can create/overwrite objects.
//
// Used by the put-delete preflight probe, never by removal itself.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// MultipartUploader can create and abort multipart uploads.
//
// This provides a low-side-effect write probe when supported: creating and
// immediately aborting an upload proves write permission without ever making
// an object visible.
type MultipartUploader interface {
	CreateMultipartUpload(ctx context.Context, key string) (uploadID string, err error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}
