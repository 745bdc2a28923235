//go:build cloudintegration

package s3_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goscour/pkg/provider"
	providers3 "github.com/3leaps/goscour/pkg/provider/s3"
	"github.com/3leaps/goscour/test/cloudtest"
)

func newTestProvider(t *testing.T, ctx context.Context, bucket string) *providers3.Provider {
	t.Helper()

	p, err := providers3.New(ctx, providers3.Config{
		Bucket:          bucket,
		Endpoint:        cloudtest.Endpoint,
		Region:          cloudtest.Region,
		AccessKeyID:     cloudtest.TestAccessKeyID,
		SecretAccessKey: cloudtest.TestSecretAccessKey,
		ForcePathStyle:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProvider_DeleteObject_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	t.Run("deletes an existing object", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		cloudtest.PutObject(t, ctx, bucket, "doomed.txt", []byte("bye"))

		p := newTestProvider(t, ctx, bucket)

		require.NoError(t, p.DeleteObject(ctx, "doomed.txt"))

		_, err := p.Head(ctx, "doomed.txt")
		require.Error(t, err)
		assert.True(t, provider.IsNotFound(err))
	})

	t.Run("missing key is not an error", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		p := newTestProvider(t, ctx, bucket)

		// S3 semantics: DeleteObject on an absent key succeeds.
		err := p.DeleteObject(ctx, "never-existed.txt")
		if err != nil {
			assert.True(t, provider.IsNotFound(err))
		}
	})
}

func TestProvider_DeleteObjects_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	t.Run("deletes a batch", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		keys := []string{"batch/a.txt", "batch/b.txt", "batch/c.txt"}
		cloudtest.PutObjects(t, ctx, bucket, keys)

		p := newTestProvider(t, ctx, bucket)

		failed, err := p.DeleteObjects(ctx, keys)
		require.NoError(t, err)
		assert.Empty(t, failed)

		result, err := p.List(ctx, provider.ListOptions{Prefix: "batch/"})
		require.NoError(t, err)
		assert.Empty(t, result.Objects)
	})

	t.Run("missing keys in a batch succeed", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		cloudtest.PutObject(t, ctx, bucket, "real.txt", []byte("x"))

		p := newTestProvider(t, ctx, bucket)

		failed, err := p.DeleteObjects(ctx, []string{"real.txt", "phantom.txt"})
		require.NoError(t, err)
		assert.Empty(t, failed)
	})
}

func TestProvider_ListWithDelimiter_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	cloudtest.PutObjects(t, ctx, bucket, []string{
		"top.txt",
		"logs/app.log",
		"logs/db.log",
		"data/part-0.json",
	})

	p := newTestProvider(t, ctx, bucket)

	res, err := p.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{Delimiter: "/"})
	require.NoError(t, err)

	require.Len(t, res.Objects, 1)
	assert.Equal(t, "top.txt", res.Objects[0].Key)
	assert.ElementsMatch(t, []string{"data/", "logs/"}, res.CommonPrefixes)

	prefixes, err := p.ListCommonPrefixes(ctx, provider.ListCommonPrefixesOptions{Delimiter: "/"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"data/", "logs/"}, prefixes.Prefixes)
}
