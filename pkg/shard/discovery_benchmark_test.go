package shard

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	s3provider "github.com/3leaps/goscour/pkg/provider/s3"
)

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestDiscoveryBenchmark_Live measures parallel shard discovery against
// a real S3-compatible bucket. A local moto endpoint hides the network
// round trips that concurrency is meant to amortize, so this one wants
// a real remote.
//
// Requires AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY; see the
// TEST_BUCKET, TEST_ENDPOINT, TEST_REGION, and TEST_PREFIX variables
// for target overrides.
//
// Run with: go test -v -run TestDiscoveryBenchmark_Live ./pkg/shard/...
func TestDiscoveryBenchmark_Live(t *testing.T) {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey == "" || secretKey == "" {
		t.Skip("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY required for live test")
	}

	bucket := envDefault("TEST_BUCKET", "goscour-qa")
	endpoint := envDefault("TEST_ENDPOINT", "https://s3.us-east-2.wasabisys.com")
	region := envDefault("TEST_REGION", "us-east-2")
	prefix := envDefault("TEST_PREFIX", "fixtures/sharding/")

	ctx := context.Background()
	p, err := s3provider.New(ctx, s3provider.Config{
		Bucket:          bucket,
		Region:          region,
		Endpoint:        endpoint,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		ForcePathStyle:  true,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	defer func() { _ = p.Close() }()

	t.Logf("bucket=%s endpoint=%s prefix=%s", bucket, endpoint, prefix)

	// Depth 2 is where parallel listing pays: each level multiplies the
	// number of prefixes to expand.
	for _, depth := range []int{1, 2} {
		for _, concurrency := range []int{1, 4, 8, 16} {
			name := fmt.Sprintf("depth%d_c%d", depth, concurrency)
			t.Run(name, func(t *testing.T) {
				start := time.Now()

				shards, err := Discover(ctx, p, prefix, Config{
					Enabled:         true,
					Depth:           depth,
					ListConcurrency: concurrency,
					Delimiter:       "/",
				})
				if err != nil {
					t.Fatalf("Discover failed: %v", err)
				}

				t.Logf("%s: %d shards in %v", name, len(shards), time.Since(start))
			})
		}
	}
}
