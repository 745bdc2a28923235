package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want string
	}{
		{
			name: "operation on a key",
			err: &ProviderError{
				Op:       "Head",
				Provider: ProviderS3,
				Bucket:   "my-bucket",
				Key:      "path/to/file.txt",
				Err:      ErrNotFound,
			},
			want: "s3 Head: my-bucket/path/to/file.txt: object not found",
		},
		{
			name: "operation on the bucket",
			err: &ProviderError{
				Op:       "List",
				Provider: ProviderS3,
				Bucket:   "my-bucket",
				Err:      ErrAccessDenied,
			},
			want: "s3 List: my-bucket: access denied",
		},
		{
			name: "operation with no target",
			err: &ProviderError{
				Op:       "New",
				Provider: ProviderS3,
				Err:      errors.New("failed to load config"),
			},
			want: "s3 New: failed to load config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := ErrNotFound
	err := &ProviderError{
		Op:       "Head",
		Provider: ProviderS3,
		Bucket:   "my-bucket",
		Key:      "file.txt",
		Err:      cause,
	}

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, cause, err.Unwrap())
}

func TestSentinelHelpers(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(error) bool
		sentinel error
	}{
		{"not found", IsNotFound, ErrNotFound},
		{"access denied", IsAccessDenied, ErrAccessDenied},
		{"bucket not found", IsBucketNotFound, ErrBucketNotFound},
		{"invalid credentials", IsInvalidCredentials, ErrInvalidCredentials},
		{"provider unavailable", IsProviderUnavailable, ErrProviderUnavailable},
		{"throttled", IsThrottled, ErrThrottled},
	}

	sentinels := []error{
		ErrNotFound, ErrAccessDenied, ErrBucketNotFound,
		ErrInvalidCredentials, ErrProviderUnavailable, ErrThrottled,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.fn(tt.sentinel))
			assert.True(t, tt.fn(&ProviderError{Op: "List", Err: tt.sentinel}),
				"helper must see through ProviderError wrapping")
			assert.False(t, tt.fn(errors.New("unrelated")))

			// Each helper matches exactly one sentinel.
			for _, other := range sentinels {
				if errors.Is(other, tt.sentinel) {
					continue
				}
				assert.False(t, tt.fn(other), "%s must not match %v", tt.name, other)
			}
		})
	}
}

func TestDeleteErrorClassification(t *testing.T) {
	// A per-key batch failure carries the same sentinel wrapping a single
	// delete would, so the Is* helpers work through DeleteError unchanged.
	delErr := DeleteError{
		Key: "protected/file.txt",
		Err: &ProviderError{
			Op:       "DeleteObjects",
			Provider: ProviderS3,
			Bucket:   "my-bucket",
			Key:      "protected/file.txt",
			Err:      ErrAccessDenied,
		},
	}

	assert.True(t, IsAccessDenied(delErr))
	assert.Contains(t, delErr.Error(), "protected/file.txt")
}

func TestProviderTypeString(t *testing.T) {
	assert.Equal(t, "s3", ProviderS3.String())
	assert.Equal(t, "file", ProviderFile.String())
}

func TestObjectMetaPromotesSummary(t *testing.T) {
	meta := ObjectMeta{
		ObjectSummary: ObjectSummary{
			Key:  "logs/2024-06-15/app-001.gz",
			Size: 2048,
			ETag: "def456",
		},
		ContentType: "application/gzip",
		Metadata:    map[string]string{"tenant": "a"},
	}

	// Listing fields read through the embedded summary.
	assert.Equal(t, "logs/2024-06-15/app-001.gz", meta.Key)
	assert.Equal(t, int64(2048), meta.Size)
	assert.Equal(t, "application/gzip", meta.ContentType)
	assert.Equal(t, "a", meta.Metadata["tenant"])
}
