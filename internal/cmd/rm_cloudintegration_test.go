//go:build cloudintegration

package cmd_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goscour/test/cloudtest"
)

// findBinary locates the goscour binary for testing.
// Looks in bin/ directory relative to project root.
func findBinary(t *testing.T) string {
	t.Helper()

	candidates := []string{
		"bin/goscour",
		"../../bin/goscour",
		"../../../bin/goscour",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			abs, _ := filepath.Abs(path)
			return abs
		}
	}

	t.Skip("goscour binary not found - run 'make build' first")
	return ""
}

func runBinary(t *testing.T, binary string, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(),
		"AWS_ACCESS_KEY_ID="+cloudtest.TestAccessKeyID,
		"AWS_SECRET_ACCESS_KEY="+cloudtest.TestSecretAccessKey,
		"AWS_REGION="+cloudtest.Region,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func recordTypes(t *testing.T, stdout string) map[string]int {
	t.Helper()

	counts := make(map[string]int)
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		typ, _ := rec["type"].(string)
		counts[typ]++
	}
	return counts
}

func TestRmCommand_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()
	binary := findBinary(t)

	t.Run("removes objects under a prefix", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		cloudtest.PutObjects(t, ctx, bucket, []string{
			"logs/a.gz",
			"logs/b.gz",
			"keep/c.txt",
		})

		stdout, stderr, err := runBinary(t, binary, "rm",
			"s3://"+bucket+"/logs/",
			"--recursive", "--force",
			"--endpoint", cloudtest.Endpoint,
		)
		require.NoError(t, err, "stderr: %s", stderr)

		counts := recordTypes(t, stdout)
		assert.Equal(t, 2, counts["goscour.deleted.v1"])
		assert.Equal(t, 1, counts["goscour.summary.v1"])

		assert.Equal(t, []string{"keep/c.txt"}, cloudtest.ListKeys(t, ctx, bucket, ""))
	})

	t.Run("glob pattern narrows candidates", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		cloudtest.PutObjects(t, ctx, bucket, []string{
			"logs/a.gz",
			"logs/b.txt",
		})

		_, stderr, err := runBinary(t, binary, "rm",
			"s3://"+bucket+"/logs/*.gz",
			"--force",
			"--endpoint", cloudtest.Endpoint,
		)
		require.NoError(t, err, "stderr: %s", stderr)

		assert.Equal(t, []string{"logs/b.txt"}, cloudtest.ListKeys(t, ctx, bucket, ""))
	})

	t.Run("dry run leaves objects in place", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		cloudtest.PutObjects(t, ctx, bucket, []string{
			"logs/a.gz",
			"logs/b.gz",
		})

		stdout, stderr, err := runBinary(t, binary, "rm",
			"s3://"+bucket+"/",
			"--recursive", "--dry-run",
			"--endpoint", cloudtest.Endpoint,
		)
		require.NoError(t, err, "stderr: %s", stderr)

		counts := recordTypes(t, stdout)
		assert.Equal(t, 2, counts["goscour.plan.v1"])

		assert.Len(t, cloudtest.ListKeys(t, ctx, bucket, ""), 2)
	})

	t.Run("exact key removes one object", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		cloudtest.PutObjects(t, ctx, bucket, []string{
			"one.txt",
			"two.txt",
		})

		_, stderr, err := runBinary(t, binary, "rm",
			"s3://"+bucket+"/one.txt",
			"--force",
			"--endpoint", cloudtest.Endpoint,
		)
		require.NoError(t, err, "stderr: %s", stderr)

		assert.Equal(t, []string{"two.txt"}, cloudtest.ListKeys(t, ctx, bucket, ""))
	})

	t.Run("readonly refuses a real run", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		cloudtest.PutObjects(t, ctx, bucket, []string{"logs/a.gz"})

		_, _, err := runBinary(t, binary, "--readonly", "rm",
			"s3://"+bucket+"/logs/",
			"--recursive", "--force",
			"--endpoint", cloudtest.Endpoint,
		)
		require.Error(t, err)

		assert.Len(t, cloudtest.ListKeys(t, ctx, bucket, ""), 1)
	})
}
