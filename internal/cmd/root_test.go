package cmd

import (
	"errors"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulmenhq/gofulmen/foundry"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "release build",
			version:   "1.2.0",
			commit:    "abc123",
			buildDate: "2026-08-01",
		},
		{
			name:      "dev build",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		assert.Nil(t, GetAppIdentity())
	})

	t.Run("returns identity after set", func(t *testing.T) {
		if appIdentity != nil {
			result := GetAppIdentity()
			assert.NotNil(t, result)
			assert.Equal(t, appIdentity, result)
		}
	})
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setDefaults()

	assert.Equal(t, "localhost", viper.GetString("server.host"))
	assert.Equal(t, 8080, viper.GetInt("server.port"))
	assert.Equal(t, "10s", viper.GetString("server.shutdown_timeout"))

	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))

	assert.True(t, viper.GetBool("health.enabled"))

	// The ambient worker default matches the removal default.
	assert.Equal(t, 8, viper.GetInt("workers"))
}

func TestIsReadOnly(t *testing.T) {
	resetReadOnly(t)
	defer resetReadOnly(t)

	t.Run("off by default", func(t *testing.T) {
		assert.False(t, IsReadOnly())
	})

	t.Run("flag engages the latch", func(t *testing.T) {
		readOnly = true
		defer func() { readOnly = false }()
		assert.True(t, IsReadOnly())
	})

	t.Run("config engages the latch", func(t *testing.T) {
		viper.Set("readonly", true)
		defer viper.Set("readonly", false)
		assert.True(t, IsReadOnly())
	})

	t.Run("environment engages the latch", func(t *testing.T) {
		for _, val := range []string{"1", "true", "YES", "on"} {
			t.Setenv("GOSCOUR_READONLY", val)
			assert.True(t, IsReadOnly(), "GOSCOUR_READONLY=%s", val)
		}
		t.Setenv("GOSCOUR_READONLY", "0")
		assert.False(t, IsReadOnly())
	})
}

func TestExitCodeFrom(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "exit-coded error",
			err:  exitError(foundry.ExitInvalidArgument, "Invalid URI", errors.New("bad scheme")),
			want: foundry.ExitInvalidArgument,
		},
		{
			name: "service error code",
			err:  exitError(foundry.ExitExternalServiceUnavailable, "Removal completed with errors", errors.New("errors=3")),
			want: foundry.ExitExternalServiceUnavailable,
		},
		{
			name: "plain error falls back to 1",
			err:  errors.New("something broke"),
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			assert.Equal(t, tt.want, exitCodeFrom(tt.err))
		})
	}
}
