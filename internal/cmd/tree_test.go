package cmd

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/provider"
)

type mockDelimiterLister struct {
	results []*provider.ListWithDelimiterResult
	calls   int
}

func (m *mockDelimiterLister) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	idx := m.calls
	m.calls++
	if idx >= len(m.results) {
		return &provider.ListWithDelimiterResult{Objects: nil, CommonPrefixes: nil, IsTruncated: false}, nil
	}
	return m.results[idx], nil
}

func TestSummarizeDirectPrefix_MaxObjectsTruncates(t *testing.T) {
	l := &mockDelimiterLister{results: []*provider.ListWithDelimiterResult{{
		Objects:        []provider.ObjectSummary{{Key: "a", Size: 1}, {Key: "b", Size: 2}, {Key: "c", Size: 3}},
		CommonPrefixes: []string{"p1/", "p2/"},
		IsTruncated:    false,
	}}}

	rec, children, err := summarizeDirectPrefix(context.Background(), l, "data/", "/", 2, 10, false)
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.ObjectsDirect)
	require.Equal(t, int64(3), rec.BytesDirect)
	require.Equal(t, int64(2), rec.CommonPrefixes)
	require.Equal(t, int64(1), rec.Pages)
	require.True(t, rec.Truncated)
	require.Equal(t, "max-objects", rec.TruncatedReason)
	require.Empty(t, children)
}

func TestSummarizeDirectPrefix_MaxPagesTruncates(t *testing.T) {
	l := &mockDelimiterLister{results: []*provider.ListWithDelimiterResult{
		{Objects: []provider.ObjectSummary{{Key: "a", Size: 1}}, CommonPrefixes: []string{"p1/"}, IsTruncated: true, ContinuationToken: "t1"},
		{Objects: []provider.ObjectSummary{{Key: "b", Size: 2}}, CommonPrefixes: []string{"p2/"}, IsTruncated: false},
	}}

	rec, _, err := summarizeDirectPrefix(context.Background(), l, "data/", "/", 100, 1, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.ObjectsDirect)
	require.Equal(t, int64(1), rec.BytesDirect)
	require.Equal(t, int64(1), rec.CommonPrefixes)
	require.Equal(t, int64(1), rec.Pages)
	require.True(t, rec.Truncated)
	require.Equal(t, "max-pages", rec.TruncatedReason)
}

func TestSummarizeDirectPrefix_CollectsChildren(t *testing.T) {
	l := &mockDelimiterLister{results: []*provider.ListWithDelimiterResult{{
		Objects:        []provider.ObjectSummary{{Key: "a", Size: 1}},
		CommonPrefixes: []string{"p2/", "p1/"},
		IsTruncated:    false,
	}}}

	rec, children, err := summarizeDirectPrefix(context.Background(), l, "data/", "/", 100, 10, true)
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.CommonPrefixes)
	require.Equal(t, []string{"p1/", "p2/"}, children)
}

// mockTreeLister serves delimiter pages keyed by prefix, for traversal
// tests.
type mockTreeLister struct {
	mu      sync.Mutex
	results map[string]*provider.ListWithDelimiterResult
	calls   []string
}

func (m *mockTreeLister) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, opts.Prefix)
	if res, ok := m.results[opts.Prefix]; ok {
		return res, nil
	}
	return &provider.ListWithDelimiterResult{}, nil
}

func TestTraversePrefixes(t *testing.T) {
	l := &mockTreeLister{results: map[string]*provider.ListWithDelimiterResult{
		"data/": {
			Objects:        []provider.ObjectSummary{{Key: "data/a", Size: 1}},
			CommonPrefixes: []string{"data/x/", "data/y/"},
		},
		"data/x/": {
			Objects: []provider.ObjectSummary{{Key: "data/x/1", Size: 2}},
		},
		"data/y/": {
			Objects: []provider.ObjectSummary{{Key: "data/y/1", Size: 3}},
		},
	}}

	var mu sync.Mutex
	recs := map[string]*output.PrefixRecord{}
	var discovered int

	err := traversePrefixes(context.Background(), l, "data/", "/", 1, 100, 10, 100, 1,
		func(prefix string) bool { return true },
		func(rec *output.PrefixRecord) error {
			mu.Lock()
			recs[rec.Prefix] = rec
			mu.Unlock()
			return nil
		},
		func(n int) { discovered += n },
		func(reason string) { t.Errorf("unexpected partial: %s", reason) },
	)
	require.NoError(t, err)

	require.Len(t, recs, 3)
	assert.Equal(t, 0, recs["data/"].Depth)
	assert.Equal(t, 1, recs["data/x/"].Depth)
	assert.Equal(t, 1, recs["data/y/"].Depth)
	assert.Equal(t, int64(1), recs["data/"].ObjectsDirect)
	assert.Equal(t, int64(2), recs["data/x/"].BytesDirect)
	assert.Equal(t, 3, discovered)
}

func TestTraversePrefixes_MaxPrefixes(t *testing.T) {
	l := &mockTreeLister{results: map[string]*provider.ListWithDelimiterResult{
		"data/": {
			CommonPrefixes: []string{"data/x/", "data/y/"},
		},
	}}

	var mu sync.Mutex
	var recs []*output.PrefixRecord
	var reasons []string

	err := traversePrefixes(context.Background(), l, "data/", "/", 1, 100, 10, 2, 1,
		func(prefix string) bool { return true },
		func(rec *output.PrefixRecord) error {
			mu.Lock()
			recs = append(recs, rec)
			mu.Unlock()
			return nil
		},
		func(n int) {},
		func(reason string) {
			mu.Lock()
			reasons = append(reasons, reason)
			mu.Unlock()
		},
	)
	require.NoError(t, err)

	// Root plus the single admitted child.
	assert.Len(t, recs, 2)
	require.NotEmpty(t, reasons)
	assert.Equal(t, "max-prefixes", reasons[0])
}

func TestTraversePrefixes_ScopeFilter(t *testing.T) {
	l := &mockTreeLister{results: map[string]*provider.ListWithDelimiterResult{
		"data/": {
			CommonPrefixes: []string{"data/keep/", "data/skip/"},
		},
		"data/keep/": {
			Objects: []provider.ObjectSummary{{Key: "data/keep/1", Size: 1}},
		},
	}}

	var mu sync.Mutex
	var visited []string

	err := traversePrefixes(context.Background(), l, "data/", "/", 1, 100, 10, 100, 1,
		func(prefix string) bool { return prefix != "data/skip/" },
		func(rec *output.PrefixRecord) error {
			mu.Lock()
			visited = append(visited, rec.Prefix)
			mu.Unlock()
			return nil
		},
		func(n int) {},
		func(reason string) { t.Errorf("unexpected partial: %s", reason) },
	)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"data/", "data/keep/"}, visited)
}

func TestBuildTreeScopeFilter(t *testing.T) {
	t.Run("no patterns allows everything", func(t *testing.T) {
		allow, err := buildTreeScopeFilter(nil, nil)
		require.NoError(t, err)
		assert.True(t, allow("anything/"))
	})

	t.Run("includes scope the walk", func(t *testing.T) {
		allow, err := buildTreeScopeFilter([]string{"data/**"}, nil)
		require.NoError(t, err)
		assert.True(t, allow("data/x/"))
		assert.False(t, allow("logs/"))
	})

	t.Run("excludes prune the walk", func(t *testing.T) {
		allow, err := buildTreeScopeFilter(nil, []string{"tmp/**"})
		require.NoError(t, err)
		assert.True(t, allow("data/"))
		assert.False(t, allow("tmp/a/"))
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := buildTreeScopeFilter([]string{"[bad"}, nil)
		require.Error(t, err)
	})
}

func TestOutputTreeTable_DoesNotError(t *testing.T) {
	rec := &output.PrefixRecord{Prefix: "data/", Delimiter: "/", ObjectsDirect: 1, BytesDirect: 1024, CommonPrefixes: 2, Pages: 1}
	require.NoError(t, outputTreeTable(rec))
}
