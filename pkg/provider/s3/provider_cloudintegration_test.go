//go:build cloudintegration

package s3_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goscour/pkg/provider"
	providers3 "github.com/3leaps/goscour/pkg/provider/s3"
	"github.com/3leaps/goscour/test/cloudtest"
)

func TestProvider_New_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	t.Run("connects with static credentials", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		p := newTestProvider(t, ctx, bucket)

		result, err := p.List(ctx, provider.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, result.Objects)
	})

	t.Run("unknown bucket surfaces on first call", func(t *testing.T) {
		// New does not probe the bucket, so the miss shows up on List.
		p := newTestProvider(t, ctx, "goscour-no-such-bucket-00042")

		_, err := p.List(ctx, provider.ListOptions{})
		require.Error(t, err)

		var provErr *provider.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.ErrorIs(t, provErr.Err, provider.ErrBucketNotFound)
	})
}

func TestProvider_List_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	t.Run("prefix narrows the listing", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		cloudtest.PutObjects(t, ctx, bucket, []string{
			"logs/2024/01/app.gz",
			"logs/2024/02/app.gz",
			"data/ref.parquet",
		})
		p := newTestProvider(t, ctx, bucket)

		result, err := p.List(ctx, provider.ListOptions{Prefix: "logs/"})
		require.NoError(t, err)
		require.Len(t, result.Objects, 2)
		for _, obj := range result.Objects {
			assert.True(t, strings.HasPrefix(obj.Key, "logs/"), "unexpected key %q", obj.Key)
		}
	})

	t.Run("MaxKeys truncates with a continuation token", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		var keys []string
		for i := 0; i < 5; i++ {
			keys = append(keys, fmt.Sprintf("batch/part-%03d.gz", i))
		}
		cloudtest.PutObjects(t, ctx, bucket, keys)
		p := newTestProvider(t, ctx, bucket)

		result, err := p.List(ctx, provider.ListOptions{MaxKeys: 2})
		require.NoError(t, err)
		assert.Len(t, result.Objects, 2)
		assert.True(t, result.IsTruncated)
		assert.NotEmpty(t, result.ContinuationToken)
	})

	t.Run("continuation token walks every page", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		seeded := []string{
			"logs/app-0.gz",
			"logs/app-1.gz",
			"logs/app-2.gz",
		}
		cloudtest.PutObjects(t, ctx, bucket, seeded)
		p := newTestProvider(t, ctx, bucket)

		var got []string
		var token string
		for {
			result, err := p.List(ctx, provider.ListOptions{
				MaxKeys:           2,
				ContinuationToken: token,
			})
			require.NoError(t, err)
			for _, obj := range result.Objects {
				got = append(got, obj.Key)
			}
			if !result.IsTruncated {
				break
			}
			token = result.ContinuationToken
		}

		sort.Strings(got)
		assert.Equal(t, seeded, got)
	})
}

func TestProvider_Head_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	t.Run("returns size and etag", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		content := []byte("2024-01-01T00:00:00Z GET /index.html 200\n")
		cloudtest.PutObject(t, ctx, bucket, "logs/access.log", content)
		p := newTestProvider(t, ctx, bucket)

		meta, err := p.Head(ctx, "logs/access.log")
		require.NoError(t, err)

		assert.Equal(t, "logs/access.log", meta.Key)
		assert.Equal(t, int64(len(content)), meta.Size)
		assert.NotEmpty(t, meta.ETag)
		assert.False(t, meta.LastModified.IsZero())
	})

	t.Run("missing key maps to ErrNotFound", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		p := newTestProvider(t, ctx, bucket)

		_, err := p.Head(ctx, "logs/gone.log")
		require.Error(t, err)

		var provErr *provider.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.ErrorIs(t, provErr.Err, provider.ErrNotFound)
	})
}

func TestProvider_Close_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	p, err := providers3.New(ctx, providers3.Config{
		Bucket:          bucket,
		Endpoint:        cloudtest.Endpoint,
		Region:          cloudtest.Region,
		AccessKeyID:     cloudtest.TestAccessKeyID,
		SecretAccessKey: cloudtest.TestSecretAccessKey,
		ForcePathStyle:  true,
	})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}
