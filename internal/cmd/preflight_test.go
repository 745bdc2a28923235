package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/provider"
)

// resetPreflightFlags restores the preflight flag variables to their
// registered defaults.
func resetPreflightFlags() {
	preflightRegion = ""
	preflightProfile = ""
	preflightEndpoint = ""
	preflightMode = "read-safe"
	preflightProbeStrategy = "put-delete"
	preflightProbePrefix = "_goscour/probe/"
}

func TestPreflightRm_PlanOnly_WritesRecord(t *testing.T) {
	resetPreflightFlags()
	defer resetPreflightFlags()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetContext(context.Background())
	rootCmd.SetArgs([]string{"preflight", "rm", "s3://bucket/data/**/*.parquet", "--mode", "plan-only"})
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	}()

	require.NoError(t, rootCmd.Execute())

	out := buf.String()
	require.Contains(t, out, output.TypePreflight)
	require.Contains(t, out, `"mode":"plan-only"`)
}

func TestRunPreflightRm_ReadSafe(t *testing.T) {
	resetPreflightFlags()
	defer resetPreflightFlags()
	dir := statTestTree(t)

	var buf bytes.Buffer
	cmd := statTestCmd(&buf)

	err := runPreflightRm(cmd, []string{"file://" + dir + "/"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, output.TypePreflight)
	assert.Contains(t, out, `"mode":"read-safe"`)
	assert.Contains(t, out, `"capability":"target.list"`)
	assert.Contains(t, out, `"allowed":true`)
	assert.NotContains(t, out, "target.write")
}

func TestRunPreflightRm_DeleteProbe(t *testing.T) {
	resetPreflightFlags()
	preflightMode = "delete-probe"
	defer resetPreflightFlags()
	dir := statTestTree(t)

	var buf bytes.Buffer
	cmd := statTestCmd(&buf)

	err := runPreflightRm(cmd, []string{"file://" + dir + "/"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"capability":"target.list"`)
	assert.Contains(t, out, `"capability":"target.write"`)
	assert.Contains(t, out, `"capability":"target.delete"`)
	assert.NotContains(t, out, `"allowed":false`)
}

func TestRunPreflightRm_ExactKeyHeadProbe(t *testing.T) {
	resetPreflightFlags()
	defer resetPreflightFlags()
	dir := statTestTree(t)

	var buf bytes.Buffer
	cmd := statTestCmd(&buf)

	err := runPreflightRm(cmd, []string{"file://" + dir + "/a.log"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"capability":"target.head"`)
	assert.Contains(t, out, `"allowed":true`)
}

func TestRunPreflightRm_ExactKeyMissing(t *testing.T) {
	resetPreflightFlags()
	defer resetPreflightFlags()
	dir := statTestTree(t)

	var buf bytes.Buffer
	cmd := statTestCmd(&buf)

	err := runPreflightRm(cmd, []string{"file://" + dir + "/missing.log"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"capability":"target.head"`)
	assert.Contains(t, out, "removal would be a no-op")
}

func TestRunPreflightRm_InvalidMode(t *testing.T) {
	resetPreflightFlags()
	preflightMode = "bogus"
	defer resetPreflightFlags()

	var buf bytes.Buffer
	cmd := statTestCmd(&buf)

	err := runPreflightRm(cmd, []string{"s3://bucket/logs/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid --mode value")
}

func TestRunPreflightRm_InvalidStrategy(t *testing.T) {
	resetPreflightFlags()
	preflightProbeStrategy = "bogus"
	defer resetPreflightFlags()

	var buf bytes.Buffer
	cmd := statTestCmd(&buf)

	err := runPreflightRm(cmd, []string{"s3://bucket/logs/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid --probe-strategy value")
}

func TestRunPreflightRm_ReadonlyBlocksDeleteProbe(t *testing.T) {
	resetPreflightFlags()
	preflightMode = "delete-probe"
	readOnly = true
	defer func() {
		readOnly = false
		resetPreflightFlags()
	}()

	var buf bytes.Buffer
	cmd := statTestCmd(&buf)

	err := runPreflightRm(cmd, []string{"s3://bucket/logs/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readonly")
	assert.Contains(t, err.Error(), "Delete-probe preflight refused")
}

func TestPreflightErrorCode(t *testing.T) {
	wrap := func(sentinel error) error {
		return &provider.ProviderError{Op: "List", Provider: provider.ProviderS3, Err: sentinel}
	}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "access denied", err: wrap(provider.ErrAccessDenied), want: output.ErrCodeAccessDenied},
		{name: "bucket missing", err: wrap(provider.ErrBucketNotFound), want: output.ErrCodeNotFound},
		{name: "object missing", err: wrap(provider.ErrNotFound), want: output.ErrCodeNotFound},
		{name: "throttled", err: wrap(provider.ErrThrottled), want: output.ErrCodeThrottled},
		{name: "other", err: errors.New("boom"), want: output.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, preflightErrorCode(tt.err))
		})
	}
}
