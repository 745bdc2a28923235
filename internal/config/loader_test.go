package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findModuleRoot walks up from the test's working directory to the
// directory holding go.mod.
func findModuleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("no go.mod above %s", dir)
		}
		dir = parent
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	// Point HOME away from any real user config on the machine.
	t.Setenv("HOME", t.TempDir())

	// A CI checkout can live outside $HOME. Root discovery must follow the
	// workspace boundary from the CI environment in that case.
	t.Run("ci workspace outside home", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Setenv("CI", "true")
		t.Setenv("FULMEN_WORKSPACE_ROOT", findModuleRoot(t))

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)
	})

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile, "profile normalizes to upper case")

		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)

		assert.False(t, cfg.Debug.Enabled)
		assert.False(t, cfg.Debug.PprofEnabled)

		// The ambient worker default matches the removal default.
		assert.Equal(t, 8, cfg.Workers)
	})

	t.Run("user config file applies", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		cfgFile := filepath.Join(home, ".goscour.yaml")
		require.NoError(t, os.WriteFile(cfgFile, []byte("server:\n  port: 7070\nlogging:\n  level: debug\n"), 0o644))

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "localhost", cfg.Server.Host, "settings absent from the file keep their defaults")
	})

	t.Run("runtime overrides", func(t *testing.T) {
		cfg, err := Load(ctx, map[string]any{
			"server":  map[string]any{"host": "0.0.0.0", "port": 9000},
			"logging": map[string]any{"level": "debug"},
		})
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile, "untouched settings keep their defaults")
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("GOSCOUR_PORT", "3000")
		t.Setenv("GOSCOUR_LOG_LEVEL", "warn")
		t.Setenv("GOSCOUR_METRICS_ENABLED", "false")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
	})

	t.Run("environment wins over config file", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		require.NoError(t, os.WriteFile(filepath.Join(home, ".goscour.yaml"), []byte("server:\n  port: 7070\n"), 0o644))
		t.Setenv("GOSCOUR_PORT", "7071")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 7071, cfg.Server.Port)
	})

	t.Run("runtime overrides win over environment", func(t *testing.T) {
		t.Setenv("GOSCOUR_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{
			"server": map[string]any{"port": 5000},
		})
		require.NoError(t, err)

		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("malformed config file is an error", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		require.NoError(t, os.WriteFile(filepath.Join(home, ".goscour.yaml"), []byte("server: [unclosed"), 0o644))

		_, err := Load(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing config file")
	})
}

func TestGetConfigReturnsLastLoaded(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	got := GetConfig()
	require.NotNil(t, got)
	assert.Same(t, cfg, got)
}

func TestReloadReplacesStoredConfig(t *testing.T) {
	ctx := context.Background()

	first, err := Load(ctx)
	require.NoError(t, err)

	second, err := Load(ctx, map[string]any{
		"server": map[string]any{"port": first.Server.Port + 1000},
	})
	require.NoError(t, err)

	assert.Equal(t, first.Server.Port+1000, second.Server.Port)
	assert.Equal(t, second.Server.Port, GetConfig().Server.Port)
}

func TestEnvSpecs(t *testing.T) {
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	byName := make(map[string]string, len(specs))
	for _, spec := range specs {
		assert.True(t, strings.HasPrefix(spec.Name, "GOSCOUR_"), "env var %s must carry the app prefix", spec.Name)
		assert.NotEmpty(t, spec.Path, "env var %s must map to a config path", spec.Name)
		byName[spec.Name] = spec.Path
	}

	want := map[string]string{
		"GOSCOUR_HOST":         "server.host",
		"GOSCOUR_PORT":         "server.port",
		"GOSCOUR_LOG_LEVEL":    "logging.level",
		"GOSCOUR_METRICS_PORT": "metrics.port",
		"GOSCOUR_WORKERS":      "workers",
	}
	for name, path := range want {
		assert.Equal(t, path, byName[name], name)
	}
}

func TestLoadParsesDurationsFromEnv(t *testing.T) {
	t.Setenv("GOSCOUR_READ_TIMEOUT", "45s")
	t.Setenv("GOSCOUR_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

// resetConfigState clears the package singletons so the nil identity path
// can be exercised. Cleanup reloads so later tests see a valid state.
func resetConfigState(t *testing.T) {
	t.Helper()
	configMu.Lock()
	appIdentity = nil
	appConfig = nil
	configMu.Unlock()
	t.Cleanup(func() {
		_, _ = Load(context.Background())
	})
}

func TestNilIdentityYieldsNoCandidates(t *testing.T) {
	resetConfigState(t)

	assert.Empty(t, getUserConfigPaths(), "no identity means no user config paths")
	assert.Empty(t, getEnvSpecs(), "no identity means no env mappings")
}

func TestFindProjectRootIgnoresBadBoundaryHints(t *testing.T) {
	moduleRoot := findModuleRoot(t)

	tests := []struct {
		name     string
		boundary string
	}{
		{"empty hint", ""},
		{"relative hint", "./ci/workspace"},
		{"nonexistent hint", "/no/such/workspace"},
		{"hint does not contain cwd", t.TempDir()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CI", "true")
			// Only the hint under test is populated.
			t.Setenv("FULMEN_WORKSPACE_ROOT", tt.boundary)
			t.Setenv("GITHUB_WORKSPACE", "")
			t.Setenv("CI_PROJECT_DIR", "")
			t.Setenv("WORKSPACE", "")

			root, err := findProjectRoot()
			require.NoError(t, err)
			assert.Equal(t, moduleRoot, root, "a bad hint falls back to the unbounded search")
		})
	}
}

func TestFindProjectRootHonorsGitHubWorkspace(t *testing.T) {
	moduleRoot := findModuleRoot(t)
	t.Setenv("GITHUB_ACTIONS", "true")
	t.Setenv("FULMEN_WORKSPACE_ROOT", "")
	t.Setenv("GITHUB_WORKSPACE", moduleRoot)

	root, err := findProjectRoot()
	require.NoError(t, err)
	assert.Equal(t, moduleRoot, root)
}
