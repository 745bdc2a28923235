package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goscour/pkg/provider"
	"github.com/3leaps/goscour/pkg/provider/file"
	"github.com/3leaps/goscour/pkg/remove"
)

// mockProvider implements provider.Provider for testing.
type mockProvider struct {
	// headCalls tracks calls to Head with the key argument
	headCalls []string
	// listCalls tracks calls to List with the prefix argument
	listCalls []string

	// headResult is returned by Head
	headResult *provider.ObjectMeta
	// headErr is returned by Head if set
	headErr error

	// listResult is returned by List
	listResult *provider.ListResult
	// listErr is returned by List if set
	listErr error
}

func (m *mockProvider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	m.headCalls = append(m.headCalls, key)
	if m.headErr != nil {
		return nil, m.headErr
	}
	return m.headResult, nil
}

func (m *mockProvider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	m.listCalls = append(m.listCalls, opts.Prefix)
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listResult, nil
}

func (m *mockProvider) Close() error {
	return nil
}

// resetLsFlags restores the ls flag variables to their registered
// defaults.
func resetLsFlags() {
	lsRecursive = false
	lsIncludes = nil
	lsExcludes = nil
	lsOlderThan = ""
	lsNewerThan = ""
	lsLimit = 0
	lsTable = false
	lsRegion = ""
	lsProfile = ""
	lsEndpoint = ""
}

// lsTestTree writes a small object tree for listing tests.
func lsTestTree(t *testing.T) provider.Provider {
	t.Helper()
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.log"), []byte("aaaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "b.txt"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sub", "c.log"), []byte("cccccc"), 0o644))

	prov, err := file.New(file.Config{BaseDir: tmpDir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = prov.Close() })
	return prov
}

// drainLister pulls every candidate from a lister.
func drainLister(t *testing.T, l interface {
	Next(ctx context.Context) (remove.Candidate, error)
}) []remove.Candidate {
	t.Helper()
	var out []remove.Candidate
	for {
		cand, err := l.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		out = append(out, cand)
	}
	return out
}

func TestBuildLsLister_Recursive(t *testing.T) {
	resetLsFlags()
	t.Cleanup(resetLsFlags)
	lsRecursive = true

	prov := lsTestTree(t)
	l, err := buildLsLister(prov, &ObjectURI{Provider: "file", Bucket: "x", Key: ""})
	require.NoError(t, err)

	cands := drainLister(t, l)
	keys := make([]string, 0, len(cands))
	for _, c := range cands {
		require.False(t, c.SyntheticFolder)
		keys = append(keys, c.Key)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"a.log", "b.txt", "sub/c.log"}, keys)
}

func TestBuildLsLister_NonRecursive(t *testing.T) {
	resetLsFlags()
	t.Cleanup(resetLsFlags)

	prov := lsTestTree(t)
	l, err := buildLsLister(prov, &ObjectURI{Provider: "file", Bucket: "x", Key: ""})
	require.NoError(t, err)

	var keys, folders []string
	for _, c := range drainLister(t, l) {
		if c.SyntheticFolder {
			folders = append(folders, c.Key)
		} else {
			keys = append(keys, c.Key)
		}
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"a.log", "b.txt"}, keys)
	assert.Equal(t, []string{"sub/"}, folders)
}

func TestBuildLsLister_PatternImpliesRecursion(t *testing.T) {
	resetLsFlags()
	t.Cleanup(resetLsFlags)

	prov := lsTestTree(t)
	l, err := buildLsLister(prov, &ObjectURI{Provider: "file", Bucket: "x", Key: "", Pattern: "**/*.log"})
	require.NoError(t, err)

	keys := make([]string, 0)
	for _, c := range drainLister(t, l) {
		keys = append(keys, c.Key)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"a.log", "sub/c.log"}, keys)
}

func TestBuildLsLister_Excludes(t *testing.T) {
	resetLsFlags()
	t.Cleanup(resetLsFlags)
	lsRecursive = true
	lsExcludes = []string{"**/*.txt"}

	prov := lsTestTree(t)
	l, err := buildLsLister(prov, &ObjectURI{Provider: "file", Bucket: "x", Key: ""})
	require.NoError(t, err)

	keys := make([]string, 0)
	for _, c := range drainLister(t, l) {
		keys = append(keys, c.Key)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"a.log", "sub/c.log"}, keys)
}

func TestBuildLsLister_InvalidPattern(t *testing.T) {
	resetLsFlags()
	t.Cleanup(resetLsFlags)
	lsIncludes = []string{"[bad"}

	prov := lsTestTree(t)
	_, err := buildLsLister(prov, &ObjectURI{Provider: "file", Bucket: "x", Key: ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid match patterns")
}

func TestLsFilter(t *testing.T) {
	t.Run("no flags", func(t *testing.T) {
		resetLsFlags()
		t.Cleanup(resetLsFlags)

		f, err := lsFilter()
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("older-than", func(t *testing.T) {
		resetLsFlags()
		t.Cleanup(resetLsFlags)
		lsOlderThan = "2024-01-01"

		f, err := lsFilter()
		require.NoError(t, err)
		require.NotNil(t, f)
	})

	t.Run("invalid value", func(t *testing.T) {
		resetLsFlags()
		t.Cleanup(resetLsFlags)
		lsNewerThan = "bananas"

		_, err := lsFilter()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid --newer-than value")
	})
}

func TestLsExactKey_NotFound(t *testing.T) {
	resetLsFlags()
	t.Cleanup(resetLsFlags)

	mock := &mockProvider{headErr: provider.ErrNotFound}
	err := lsExactKey(context.Background(), mock, &ObjectURI{Provider: "s3", Bucket: "bucket", Key: "gone.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Object not found")
	require.Len(t, mock.headCalls, 1)
	assert.Equal(t, "gone.txt", mock.headCalls[0])
}

func TestLsExactKey_JSONL(t *testing.T) {
	resetLsFlags()
	t.Cleanup(resetLsFlags)

	mock := &mockProvider{
		headResult: &provider.ObjectMeta{
			ObjectSummary: provider.ObjectSummary{
				Key:          "path/to/file.txt",
				Size:         1024,
				LastModified: time.Now(),
			},
		},
	}

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := lsExactKey(context.Background(), mock, &ObjectURI{Provider: "s3", Bucket: "bucket", Key: "path/to/file.txt"})

	require.NoError(t, w.Close())
	os.Stdout = old

	require.NoError(t, err)

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	assert.Contains(t, buf.String(), "path/to/file.txt")
	assert.Contains(t, buf.String(), `"size":1024`)
}

func TestLsStreamJSONL_Limit(t *testing.T) {
	resetLsFlags()
	t.Cleanup(resetLsFlags)
	lsRecursive = true
	lsLimit = 1

	prov := lsTestTree(t)
	l, err := buildLsLister(prov, &ObjectURI{Provider: "file", Bucket: "x", Key: ""})
	require.NoError(t, err)

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err = lsStreamJSONL(context.Background(), l, "file")

	require.NoError(t, w.Close())
	os.Stdout = old

	require.NoError(t, err)

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	lines := bytes.Count(bytes.TrimSpace(buf.Bytes()), []byte("\n")) + 1
	assert.Equal(t, 1, lines)
	assert.Contains(t, buf.String(), "a.log")
}

func TestPrintLsTable(t *testing.T) {
	rows := []lsRow{
		{key: "sub/", dir: true},
		{key: "a.log", size: 2048, modified: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := printLsTable(rows)

	require.NoError(t, w.Close())
	os.Stdout = old

	require.NoError(t, err)

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	out := buf.String()
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "DIR")
	assert.Contains(t, out, "a.log")
	assert.Contains(t, out, "2.0 KB")
	assert.Contains(t, out, "Found 1 object(s)")
}

func TestPrintLsTable_Empty(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := printLsTable(nil)

	require.NoError(t, w.Close())
	os.Stdout = old

	require.NoError(t, err)

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	assert.Contains(t, buf.String(), "No objects found.")
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.0 TB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.bytes))
	}
}
