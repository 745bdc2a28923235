package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goscour/pkg/journal"
	"github.com/3leaps/goscour/pkg/manifest"
	"github.com/3leaps/goscour/pkg/match"
	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/provider"
	"github.com/3leaps/goscour/pkg/provider/file"
	"github.com/3leaps/goscour/pkg/remove"
)

// resetRmFlags restores the rm flag variables to their registered
// defaults so tests that synthesize manifests do not leak state.
func resetRmFlags() {
	rmJobPath = ""
	rmOutput = ""
	rmDryRun = false
	rmPlan = false
	rmRecursive = false
	rmWorkers = manifest.DefaultWorkers
	rmQueueSize = 0
	rmFailFast = false
	rmForce = false
	rmBatch = false
	rmRateLimit = 0
	rmIncludes = nil
	rmExcludes = nil
	rmOlderThan = ""
	rmNewerThan = ""
	rmFromList = ""
	rmJournalPath = ""
	rmResume = false
	rmStatusAddr = ""
	rmPreflightMode = ""
	rmRegion = ""
	rmProfile = ""
	rmEndpoint = ""
}

func TestShowRemovePlan(t *testing.T) {
	tests := []struct {
		name     string
		manifest *manifest.Manifest
		contains []string
	}{
		{
			name: "basic manifest",
			manifest: &manifest.Manifest{
				Connection: manifest.ConnectionConfig{
					Provider: "s3",
					Bucket:   "test-bucket",
					Region:   "us-east-1",
				},
				Match: manifest.MatchConfig{
					Includes: []string{"**/*"},
				},
				Remove: manifest.RemoveConfig{
					Workers:   10,
					QueueSize: 20,
				},
				Output: manifest.OutputConfig{
					Destination: "stdout",
				},
			},
			contains: []string{
				"Removal Plan",
				"Provider:    s3",
				"Bucket:      test-bucket",
				"Region:      us-east-1",
				"**/*",
				"Workers:     10",
				"Queue Size:  20",
				"Recursive:   true",
				"Output:      stdout",
			},
		},
		{
			name: "with endpoint and excludes",
			manifest: &manifest.Manifest{
				Connection: manifest.ConnectionConfig{
					Provider: "s3",
					Bucket:   "test-bucket",
					Prefix:   "logs/",
					Endpoint: "https://custom.endpoint.com",
				},
				Match: manifest.MatchConfig{
					Includes: []string{"2024/**/*.gz"},
					Excludes: []string{"**/.DS_Store", "**/tmp/*"},
				},
				Remove: manifest.RemoveConfig{
					Workers:   5,
					QueueSize: 10,
					RateLimit: 100.0,
				},
				Output: manifest.OutputConfig{
					Destination: "results.jsonl",
				},
			},
			contains: []string{
				"Prefix:      logs/",
				"Endpoint:    https://custom.endpoint.com",
				"2024/**/*.gz",
				"Exclude:",
				"**/.DS_Store",
				"**/tmp/*",
				"Rate Limit:  100.0 req/s",
				"Output:      results.jsonl",
			},
		},
		{
			name: "with filters",
			manifest: &manifest.Manifest{
				Connection: manifest.ConnectionConfig{
					Provider: "s3",
					Bucket:   "test-bucket",
				},
				Match: manifest.MatchConfig{
					Includes: []string{"data/**/*.parquet"},
					Filters: &manifest.FilterConfig{
						Size:     &manifest.SizeFilterConfig{Min: "1KB", Max: "100MB"},
						Modified: &manifest.DateFilterConfig{After: "2024-01-01", Before: "2024-12-31"},
						KeyRegex: "\\.parquet$",
					},
				},
				Remove: manifest.RemoveConfig{Workers: 5, QueueSize: 10},
				Output: manifest.OutputConfig{Destination: "stdout"},
			},
			contains: []string{
				"Filters:",
				"Size:      min=1KB max=100MB",
				"Modified:  after=2024-01-01 before=2024-12-31",
				"Key Regex: \\.parquet$",
			},
		},
		{
			name: "with journal and resume",
			manifest: &manifest.Manifest{
				Connection: manifest.ConnectionConfig{
					Provider: "s3",
					Bucket:   "test-bucket",
				},
				Match: manifest.MatchConfig{
					Includes: []string{"**/*"},
				},
				Remove: manifest.RemoveConfig{
					Workers:   8,
					QueueSize: 16,
					BatchSize: 500,
					Preflight: manifest.PreflightConfig{Mode: "read-safe"},
				},
				Journal: &manifest.JournalConfig{Path: "run.db", Resume: true},
				Output:  manifest.OutputConfig{Destination: "stdout"},
			},
			contains: []string{
				"Batch Size:  500",
				"Preflight:   read-safe",
				"Journal:     run.db (resume)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Capture stdout
			old := os.Stdout
			r, w, _ := os.Pipe()
			os.Stdout = w

			err := showRemovePlan(tt.manifest)
			require.NoError(t, err)

			require.NoError(t, w.Close())
			os.Stdout = old

			var buf bytes.Buffer
			_, _ = buf.ReadFrom(r)
			output := buf.String()

			for _, want := range tt.contains {
				assert.Contains(t, output, want, "output should contain %q", want)
			}
		})
	}
}

func TestRemoveManifestFromFlags(t *testing.T) {
	tests := []struct {
		name         string
		uri          string
		setup        func()
		wantPrefix   string
		wantIncludes []string
		wantExactKey string
	}{
		{
			name:       "prefix target",
			uri:        "s3://data-bucket/logs/",
			wantPrefix: "logs/",
		},
		{
			name:         "pattern target",
			uri:          "s3://data-bucket/logs/**/*.gz",
			wantPrefix:   "logs/",
			wantIncludes: []string{"**/*.gz"},
		},
		{
			name: "pattern target with extra includes",
			uri:  "s3://data-bucket/logs/**/*.gz",
			setup: func() {
				rmIncludes = []string{"**/*.tmp"}
			},
			wantPrefix:   "logs/",
			wantIncludes: []string{"**/*.gz", "**/*.tmp"},
		},
		{
			name:         "exact key target",
			uri:          "s3://data-bucket/tmp/debug.log",
			wantExactKey: "tmp/debug.log",
		},
		{
			name:       "bucket root",
			uri:        "s3://data-bucket",
			wantPrefix: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetRmFlags()
			t.Cleanup(resetRmFlags)
			if tt.setup != nil {
				tt.setup()
			}

			opts := removeOptions{}
			m, err := removeManifestFromFlags(tt.uri, &opts)
			require.NoError(t, err)

			assert.Equal(t, "s3", m.Connection.Provider)
			assert.Equal(t, "data-bucket", m.Connection.Bucket)
			assert.Equal(t, tt.wantPrefix, m.Connection.Prefix)
			assert.Equal(t, tt.wantIncludes, m.Match.Includes)
			assert.Equal(t, tt.wantExactKey, opts.exactKey)
			assert.Equal(t, tt.uri, opts.rawURI)

			// Defaults applied after synthesis.
			assert.Equal(t, manifest.DefaultWorkers, m.Remove.Workers)
			assert.Equal(t, 2*manifest.DefaultWorkers, m.Remove.QueueSize)
			assert.False(t, m.Remove.RecursiveEnabled())
		})
	}
}

func TestRemoveManifestFromFlags_InvalidURI(t *testing.T) {
	resetRmFlags()
	t.Cleanup(resetRmFlags)

	opts := removeOptions{}
	_, err := removeManifestFromFlags("not-a-uri", &opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid URI")
}

func TestRemoveManifestFromFlags_WorkersValidation(t *testing.T) {
	tests := []struct {
		name    string
		workers int
	}{
		{name: "zero workers", workers: 0},
		{name: "negative workers", workers: -1},
		{name: "too many workers", workers: 65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetRmFlags()
			t.Cleanup(resetRmFlags)
			rmWorkers = tt.workers

			opts := removeOptions{}
			_, err := removeManifestFromFlags("s3://data-bucket/logs/", &opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Invalid --workers value")
		})
	}
}

func TestRemoveManifestFromFlags_ExactKeyConflicts(t *testing.T) {
	resetRmFlags()
	t.Cleanup(resetRmFlags)
	rmIncludes = []string{"*.log"}

	opts := removeOptions{}
	_, err := removeManifestFromFlags("s3://data-bucket/tmp/debug.log", &opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Conflicting flags")
}

func TestRemoveManifestFromFlags_FromList(t *testing.T) {
	t.Run("prefix target", func(t *testing.T) {
		resetRmFlags()
		t.Cleanup(resetRmFlags)

		opts := removeOptions{fromList: "review.jsonl"}
		m, err := removeManifestFromFlags("s3://data-bucket/logs/", &opts)
		require.NoError(t, err)
		assert.Equal(t, "logs/", m.Connection.Prefix)
		assert.Empty(t, m.Match.Includes)
	})

	t.Run("exact key target rejected", func(t *testing.T) {
		resetRmFlags()
		t.Cleanup(resetRmFlags)

		opts := removeOptions{fromList: "review.jsonl"}
		_, err := removeManifestFromFlags("s3://data-bucket/tmp/debug.log", &opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid --from-list target")
	})

	t.Run("pattern flags rejected", func(t *testing.T) {
		resetRmFlags()
		t.Cleanup(resetRmFlags)
		rmIncludes = []string{"*.log"}

		opts := removeOptions{fromList: "review.jsonl"}
		_, err := removeManifestFromFlags("s3://data-bucket/logs/", &opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Conflicting flags")
	})
}

func TestRemoveManifestFromFlags_AgeFilters(t *testing.T) {
	t.Run("older-than date", func(t *testing.T) {
		resetRmFlags()
		t.Cleanup(resetRmFlags)
		rmOlderThan = "2024-01-01"

		opts := removeOptions{}
		m, err := removeManifestFromFlags("s3://data-bucket/logs/", &opts)
		require.NoError(t, err)
		require.NotNil(t, m.Match.Filters)
		require.NotNil(t, m.Match.Filters.Modified)
		assert.Equal(t, "2024-01-01", m.Match.Filters.Modified.Before)
		assert.Empty(t, m.Match.Filters.Modified.After)
	})

	t.Run("newer-than age", func(t *testing.T) {
		resetRmFlags()
		t.Cleanup(resetRmFlags)
		rmNewerThan = "30d"

		opts := removeOptions{}
		m, err := removeManifestFromFlags("s3://data-bucket/logs/", &opts)
		require.NoError(t, err)
		require.NotNil(t, m.Match.Filters)
		require.NotNil(t, m.Match.Filters.Modified)

		cutoff, perr := time.Parse(time.RFC3339, m.Match.Filters.Modified.After)
		require.NoError(t, perr)
		assert.True(t, cutoff.Before(time.Now()))
	})

	t.Run("invalid value", func(t *testing.T) {
		resetRmFlags()
		t.Cleanup(resetRmFlags)
		rmOlderThan = "bananas"

		opts := removeOptions{}
		_, err := removeManifestFromFlags("s3://data-bucket/logs/", &opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid --older-than value")
	})
}

func TestResolveAgeOrDate(t *testing.T) {
	t.Run("age becomes absolute cutoff", func(t *testing.T) {
		got, err := resolveAgeOrDate("30d")
		require.NoError(t, err)

		cutoff, perr := time.Parse(time.RFC3339, got)
		require.NoError(t, perr)
		assert.True(t, cutoff.Before(time.Now()))
		assert.True(t, cutoff.After(time.Now().Add(-31*24*time.Hour)))
	})

	t.Run("date passes through", func(t *testing.T) {
		got, err := resolveAgeOrDate("2024-06-01")
		require.NoError(t, err)
		assert.Equal(t, "2024-06-01", got)
	})

	t.Run("timestamp passes through", func(t *testing.T) {
		got, err := resolveAgeOrDate("2024-06-01T10:00:00Z")
		require.NoError(t, err)
		assert.Equal(t, "2024-06-01T10:00:00Z", got)
	})

	t.Run("invalid value", func(t *testing.T) {
		_, err := resolveAgeOrDate("bananas")
		require.Error(t, err)
	})
}

func TestConfirmRemoval(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "yes confirms", input: "yes\n", want: true},
		{name: "no declines", input: "no\n", want: false},
		{name: "empty input declines", input: "", want: false},
		{name: "case sensitive", input: "YES\n", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			var errBuf bytes.Buffer
			cmd.SetIn(strings.NewReader(tt.input))
			cmd.SetErr(&errBuf)

			got, err := confirmRemoval(cmd, "s3://data-bucket/logs/")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, errBuf.String(), "This cannot be undone")
			assert.Contains(t, errBuf.String(), "s3://data-bucket/logs/")
		})
	}
}

func TestTargetString(t *testing.T) {
	m := &manifest.Manifest{
		Connection: manifest.ConnectionConfig{
			Provider: "s3",
			Bucket:   "data-bucket",
			Prefix:   "logs/",
		},
	}

	assert.Equal(t, "s3://data-bucket/logs/", targetString(m, &removeOptions{}))
	assert.Equal(t, "s3://b/x", targetString(m, &removeOptions{rawURI: "s3://b/x"}))
}

func TestHeadSource(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "data", "a.log"), []byte("hello"), 0o644))

	prov, err := file.New(file.Config{BaseDir: tmpDir})
	require.NoError(t, err)
	defer func() { _ = prov.Close() }()

	t.Run("existing key", func(t *testing.T) {
		src := &headSource{provider: prov, key: "data/a.log"}

		cand, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "data/a.log", cand.Key)
		assert.Equal(t, int64(5), cand.Size)
		assert.False(t, cand.LastModified.IsZero())

		_, err = src.Next(context.Background())
		assert.Equal(t, io.EOF, err)
	})

	t.Run("missing key flows through", func(t *testing.T) {
		src := &headSource{provider: prov, key: "data/gone.log"}

		cand, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "data/gone.log", cand.Key)
		assert.Zero(t, cand.Size)
	})
}

func TestStatusTracker(t *testing.T) {
	var buf bytes.Buffer
	inner := output.NewJSONLWriter(&buf, "job-1", "s3")
	tracker := newStatusTracker(inner, "job-1")
	ctx := context.Background()

	require.NoError(t, tracker.WriteProgress(ctx, &output.ProgressRecord{
		Phase:        output.PhaseRemoving,
		ObjectsFound: 10,
	}))
	require.NoError(t, tracker.WriteDeleted(ctx, &output.DeletedRecord{Key: "a", Size: 100}))
	require.NoError(t, tracker.WriteDeleted(ctx, &output.DeletedRecord{Key: "b", Size: 50}))
	require.NoError(t, tracker.WriteSkip(ctx, &output.SkipRecord{Key: "c/", Reason: output.SkipReasonFolderMarker}))
	require.NoError(t, tracker.WriteError(ctx, &output.ErrorRecord{Key: "d", Code: output.ErrCodeAccessDenied, Message: "denied"}))
	require.NoError(t, tracker.WriteError(ctx, &output.ErrorRecord{Code: output.ErrCodeProviderUnavailable, Message: "listing broke"}))

	snap := tracker.Snapshot()
	assert.Equal(t, "job-1", snap.JobID)
	assert.Equal(t, output.PhaseRemoving, snap.Phase)
	assert.Equal(t, int64(10), snap.ObjectsFound)
	assert.Equal(t, int64(2), snap.ObjectsDeleted)
	assert.Equal(t, int64(1), snap.ObjectsSkipped)
	assert.Equal(t, int64(1), snap.ObjectsFailed)
	assert.Equal(t, int64(150), snap.BytesDeleted)
	assert.False(t, snap.StartedAt.IsZero())

	// Records still reach the wrapped writer.
	assert.Contains(t, buf.String(), `"a"`)
	assert.Contains(t, buf.String(), `"listing broke"`)
}

func TestMuteProgress(t *testing.T) {
	var buf bytes.Buffer
	inner := output.NewJSONLWriter(&buf, "job-1", "s3")
	w := &muteProgress{Writer: inner}
	ctx := context.Background()

	require.NoError(t, w.WriteProgress(ctx, &output.ProgressRecord{Phase: output.PhaseRemoving}))
	assert.Empty(t, buf.String())

	require.NoError(t, w.WriteDeleted(ctx, &output.DeletedRecord{Key: "a", Size: 1}))
	assert.Contains(t, buf.String(), output.TypeDeleted)
}

func TestListTargets(t *testing.T) {
	m := &manifest.Manifest{
		Connection: manifest.ConnectionConfig{Prefix: "logs/"},
	}

	t.Run("derived prefixes join the base", func(t *testing.T) {
		matcher, err := match.New(match.Config{Includes: []string{"2024/**/*.gz"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"logs/2024/"}, listTargets(m, matcher))
	})

	t.Run("no includes walks the base", func(t *testing.T) {
		matcher, err := match.New(match.Config{})
		require.NoError(t, err)
		assert.Equal(t, []string{"logs/"}, listTargets(m, matcher))
	})
}

// listOnlyProvider implements the base provider interface without any
// delete capability.
type listOnlyProvider struct{}

func (p *listOnlyProvider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	return &provider.ListResult{}, nil
}

func (p *listOnlyProvider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	return nil, provider.ErrNotFound
}

func (p *listOnlyProvider) Close() error { return nil }

func TestBuildRemover(t *testing.T) {
	tmpDir := t.TempDir()
	prov, err := file.New(file.Config{BaseDir: tmpDir})
	require.NoError(t, err)
	defer func() { _ = prov.Close() }()

	var buf bytes.Buffer
	w := output.NewJSONLWriter(&buf, "job-1", "file")
	src := &headSource{provider: prov, key: "a.log"}

	t.Run("per-key deleter", func(t *testing.T) {
		r, err := buildRemover(src, prov, w, remove.Config{Workers: 1}, &removeOptions{})
		require.NoError(t, err)
		require.NotNil(t, r)
	})

	t.Run("batch deleter", func(t *testing.T) {
		r, err := buildRemover(src, prov, w, remove.Config{Workers: 1}, &removeOptions{batch: true})
		require.NoError(t, err)
		require.NotNil(t, r)
	})

	t.Run("no delete capability", func(t *testing.T) {
		_, err := buildRemover(src, &listOnlyProvider{}, w, remove.Config{Workers: 1}, &removeOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not support object deletion")
	})

	t.Run("dry-run without delete capability", func(t *testing.T) {
		r, err := buildRemover(src, &listOnlyProvider{}, w, remove.Config{Workers: 1, DryRun: true}, &removeOptions{})
		require.NoError(t, err)
		require.NotNil(t, r)
	})
}

func TestBuildRemoveFilter(t *testing.T) {
	t.Run("nil filters", func(t *testing.T) {
		f, err := buildRemoveFilter(&manifest.Manifest{})
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("size and date filters", func(t *testing.T) {
		m := &manifest.Manifest{
			Match: manifest.MatchConfig{
				Filters: &manifest.FilterConfig{
					Size:     &manifest.SizeFilterConfig{Min: "1KB", Max: "100MB"},
					Modified: &manifest.DateFilterConfig{After: "2024-01-01"},
				},
			},
		}
		f, err := buildRemoveFilter(m)
		require.NoError(t, err)
		require.NotNil(t, f)
	})

	t.Run("invalid size", func(t *testing.T) {
		m := &manifest.Manifest{
			Match: manifest.MatchConfig{
				Filters: &manifest.FilterConfig{
					Size: &manifest.SizeFilterConfig{Min: "12XB"},
				},
			},
		}
		_, err := buildRemoveFilter(m)
		require.Error(t, err)
	})
}

func TestCreateWriter_Stdout(t *testing.T) {
	m := &manifest.Manifest{
		Connection: manifest.ConnectionConfig{Provider: "s3"},
		Output:     manifest.OutputConfig{Destination: "stdout"},
	}

	writer, cleanup, err := createWriter(m, "test-job-id")
	require.NoError(t, err)
	require.NotNil(t, writer)
	require.NotNil(t, cleanup)

	// Cleanup shouldn't panic
	cleanup()
}

func TestCreateWriter_EmptyDestination(t *testing.T) {
	m := &manifest.Manifest{
		Connection: manifest.ConnectionConfig{Provider: "s3"},
		Output:     manifest.OutputConfig{Destination: ""},
	}

	writer, cleanup, err := createWriter(m, "test-job-id")
	require.NoError(t, err)
	require.NotNil(t, writer)
	require.NotNil(t, cleanup)

	cleanup()
}

func TestCreateWriter_FileDestination(t *testing.T) {
	tmpDir := t.TempDir()
	outPath := filepath.Join(tmpDir, "output.jsonl")

	m := &manifest.Manifest{
		Connection: manifest.ConnectionConfig{Provider: "s3"},
		Output:     manifest.OutputConfig{Destination: outPath},
	}

	writer, cleanup, err := createWriter(m, "test-job-id")
	require.NoError(t, err)
	require.NotNil(t, writer)
	require.NotNil(t, cleanup)

	// File should exist
	_, err = os.Stat(outPath)
	require.NoError(t, err)

	cleanup()
}

func TestCreateWriter_FilePrefix(t *testing.T) {
	tmpDir := t.TempDir()
	outPath := filepath.Join(tmpDir, "output.jsonl")

	m := &manifest.Manifest{
		Connection: manifest.ConnectionConfig{Provider: "s3"},
		Output:     manifest.OutputConfig{Destination: "file:" + outPath},
	}

	writer, cleanup, err := createWriter(m, "test-job-id")
	require.NoError(t, err)
	require.NotNil(t, writer)

	// File should exist
	_, err = os.Stat(outPath)
	require.NoError(t, err)

	cleanup()
}

func TestCreateWriter_InvalidPath(t *testing.T) {
	m := &manifest.Manifest{
		Connection: manifest.ConnectionConfig{Provider: "s3"},
		Output:     manifest.OutputConfig{Destination: "/nonexistent/deeply/nested/path/output.jsonl"},
	}

	_, _, err := createWriter(m, "test-job-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create output file")
}

func TestCheckResumeScope(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(ctx, journal.Config{Path: filepath.Join(t.TempDir(), "journal.db")})
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	t.Run("empty journal passes", func(t *testing.T) {
		require.NoError(t, checkResumeScope(ctx, j, "hash-a"))
	})

	require.NoError(t, j.StartRun(ctx, journal.StartRunParams{
		JobID:     "job-1",
		Target:    "s3://log-archive/logs/",
		Provider:  "s3",
		ScopeHash: "hash-a",
	}))

	t.Run("matching scope passes", func(t *testing.T) {
		require.NoError(t, checkResumeScope(ctx, j, "hash-a"))
	})

	t.Run("mismatched scope refused", func(t *testing.T) {
		err := checkResumeScope(ctx, j, "hash-b")
		require.Error(t, err)
		assert.ErrorIs(t, err, errScopeMismatch)
		assert.Contains(t, err.Error(), "hash-a")
		assert.Contains(t, err.Error(), "hash-b")
	})
}

func TestExitError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
		err     error
		want    string
	}{
		{
			name:    "basic error",
			code:    1,
			message: "Something failed",
			err:     assert.AnError,
			want:    "Something failed",
		},
		{
			name:    "includes exit code",
			code:    32,
			message: "Auth failed",
			err:     assert.AnError,
			want:    "exit code 32",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exitError(tt.code, tt.message, tt.err)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want))
		})
	}
}
