package scope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goscour/pkg/manifest"
)

func TestHashConfig_NilScopeIsEmpty(t *testing.T) {
	h, err := HashConfig(nil)
	require.NoError(t, err)
	assert.Empty(t, h, "scope-less runs journal an empty hash")
}

func TestHashConfig_StableForEquivalentInputs(t *testing.T) {
	messy := &manifest.ScopeConfig{
		Type:       "prefix_list",
		BasePrefix: "logs/",
		Prefixes:   []string{"2024/", " 2023/", "2024/", "/2022/"},
	}
	tidy := &manifest.ScopeConfig{
		Type:       "prefix_list",
		BasePrefix: "logs/",
		Prefixes:   []string{"2022/", "2023/", "2024/"},
	}

	h1, err := HashConfig(messy)
	require.NoError(t, err)
	h2, err := HashConfig(tidy)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashConfig_UnionOrderDoesNotMatter(t *testing.T) {
	a := manifest.ScopeConfig{Type: "prefix_list", Prefixes: []string{"logs/"}}
	b := manifest.ScopeConfig{Type: "prefix_list", Prefixes: []string{"tmp/"}}

	h1, err := HashConfig(&manifest.ScopeConfig{Type: "union", Scopes: []manifest.ScopeConfig{a, b}})
	require.NoError(t, err)
	h2, err := HashConfig(&manifest.ScopeConfig{Type: "union", Scopes: []manifest.ScopeConfig{b, a}})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashConfig_ChangesWhenScopeChanges(t *testing.T) {
	cfg := &manifest.ScopeConfig{
		Type:       "date_partitions",
		BasePrefix: "logs/",
		Date: &manifest.ScopeDateConfig{
			SegmentIndex: 0,
			Range: &manifest.ScopeDateRange{
				After:  "2025-12-01",
				Before: "2025-12-03",
			},
		},
	}

	h1, err := HashConfig(cfg)
	require.NoError(t, err)

	cfg.Date.Range.Before = "2025-12-04"
	h2, err := HashConfig(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2, "a wider date range is a different scope")
}

func TestHashConfig_DiscoverRulesAffectHash(t *testing.T) {
	base := func() *manifest.ScopeConfig {
		return &manifest.ScopeConfig{
			Type:       "date_partitions",
			BasePrefix: "data/",
			Discover: &manifest.ScopeDiscoverConfig{
				Segments: []manifest.ScopeDiscoverSegment{
					{Index: 0, Allow: []string{"tenant-a", "tenant-b"}},
				},
			},
			Date: &manifest.ScopeDateConfig{
				SegmentIndex: 1,
				Range: &manifest.ScopeDateRange{
					After:  "2025-01-01",
					Before: "2025-02-01",
				},
			},
		}
	}

	h1, err := HashConfig(base())
	require.NoError(t, err)

	widened := base()
	widened.Discover.Segments[0].Allow = []string{"tenant-a", "tenant-b", "tenant-c"}
	h2, err := HashConfig(widened)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	// Listing the same allow values in another order is the same scope.
	reordered := base()
	reordered.Discover.Segments[0].Allow = []string{"tenant-b", "tenant-a"}
	h3, err := HashConfig(reordered)
	require.NoError(t, err)
	assert.Equal(t, h1, h3)
}

func TestHashConfig_RejectsInvalidRange(t *testing.T) {
	cfg := &manifest.ScopeConfig{
		Type: "date_partitions",
		Date: &manifest.ScopeDateConfig{
			SegmentIndex: 0,
			Range: &manifest.ScopeDateRange{
				After:  time.Now().Format("2006-01-02"),
				Before: time.Now().Add(-24 * time.Hour).Format("2006-01-02"),
			},
		},
	}

	_, err := HashConfig(cfg)
	require.Error(t, err)
}

func TestHashConfig_RejectsUnknownType(t *testing.T) {
	_, err := HashConfig(&manifest.ScopeConfig{Type: "everything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scope.type")
}
