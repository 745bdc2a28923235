// Package config loads layered application configuration for the status
// server and ambient runtime settings. Precedence, highest first:
// runtime overrides, environment variables, config files, built-in defaults.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// AppIdentity describes the application for configuration discovery.
// EnvPrefix drives environment variable names, ConfigName drives
// config file and data directory names.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// EnvSpec maps a single environment variable to a dotted config path.
type EnvSpec struct {
	Name string
	Path string
}

// ServerConfig holds status server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logger settings. Profile is normalized to upper
// case on load.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig holds metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig holds health endpoint settings.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig holds debug facilities settings.
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// Config is the merged application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
	Workers int           `mapstructure:"workers"`
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
)

func defaultIdentity() *AppIdentity {
	return &AppIdentity{
		BinaryName: "goscour",
		EnvPrefix:  "GOSCOUR",
		ConfigName: "goscour",
	}
}

// DefaultIdentity returns the built-in application identity.
func DefaultIdentity() *AppIdentity {
	return defaultIdentity()
}

// Load merges defaults, config files, environment variables, and runtime
// overrides into a Config, stores it for GetConfig, and returns it.
// Missing config files are not an error; malformed ones are.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		appIdentity = defaultIdentity()
	}

	merged := defaultConfigMap()

	for _, path := range configFileCandidates() {
		layer, err := loadConfigFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		mergeMap(merged, layer)
	}

	for _, spec := range getEnvSpecs() {
		if v := os.Getenv(spec.Name); v != "" {
			setPath(merged, spec.Path, v)
		}
	}

	for _, override := range overrides {
		mergeMap(merged, override)
	}

	cfg, err := decodeConfig(merged)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Profile = strings.ToUpper(cfg.Logging.Profile)

	appConfig = cfg
	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil if
// Load has not been called.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func defaultConfigMap() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"host":             "localhost",
			"port":             8080,
			"read_timeout":     "30s",
			"write_timeout":    "30s",
			"idle_timeout":     "120s",
			"shutdown_timeout": "10s",
		},
		"logging": map[string]any{
			"level":   "info",
			"profile": "structured",
		},
		"metrics": map[string]any{
			"enabled": true,
			"port":    9090,
		},
		"health": map[string]any{
			"enabled": true,
		},
		"debug": map[string]any{
			"enabled":       false,
			"pprof_enabled": false,
		},
		"workers": 8,
	}
}

func getEnvSpecs() []EnvSpec {
	if appIdentity == nil {
		return nil
	}
	p := appIdentity.EnvPrefix + "_"
	return []EnvSpec{
		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "METRICS_ENABLED", Path: "metrics.enabled"},
		{Name: p + "METRICS_PORT", Path: "metrics.port"},
		{Name: p + "HEALTH_ENABLED", Path: "health.enabled"},
		{Name: p + "DEBUG", Path: "debug.enabled"},
		{Name: p + "PPROF_ENABLED", Path: "debug.pprof_enabled"},
		{Name: p + "WORKERS", Path: "workers"},
	}
}

// getUserConfigPaths returns candidate per-user config file paths,
// least specific first.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return nil
	}
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+appIdentity.ConfigName+".yaml"))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appIdentity.ConfigName, "config.yaml"))
	}
	return paths
}

// configFileCandidates lists config files to merge, least specific
// first: user config paths, then the project root config.
func configFileCandidates() []string {
	paths := getUserConfigPaths()
	if appIdentity == nil {
		return paths
	}
	if root, err := findProjectRoot(); err == nil {
		paths = append(paths,
			filepath.Join(root, "."+appIdentity.ConfigName+".yaml"),
			filepath.Join(root, appIdentity.ConfigName+".yaml"),
		)
	}
	return paths
}

func loadConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var layer map[string]any
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return layer, nil
}

// findProjectRoot walks up from the working directory looking for go.mod.
// In CI the checkout may live outside $HOME, so a workspace boundary hint
// from the CI environment is honored first when it is an absolute existing
// directory containing the working directory.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if inCI() {
		for _, name := range []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"} {
			boundary := os.Getenv(name)
			if boundary == "" || !filepath.IsAbs(boundary) {
				continue
			}
			info, err := os.Stat(boundary)
			if err != nil || !info.IsDir() {
				continue
			}
			if !containsPath(boundary, cwd) {
				continue
			}
			if root, ok := searchUpForGoMod(cwd, boundary); ok {
				return root, nil
			}
		}
	}

	if root, ok := searchUpForGoMod(cwd, ""); ok {
		return root, nil
	}
	return "", fmt.Errorf("project root not found above %s", cwd)
}

func inCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// searchUpForGoMod walks from start toward the filesystem root looking for
// a go.mod. An empty boundary means unbounded; otherwise the search stops
// after checking the boundary directory itself.
func searchUpForGoMod(start, boundary string) (string, bool) {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, true
		}
		if boundary != "" && dir == boundary {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func containsPath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func mergeMap(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				mergeMap(dv, sv)
				continue
			}
			copied := make(map[string]any, len(sv))
			mergeMap(copied, sv)
			dst[k] = copied
			continue
		}
		dst[k] = v
	}
}

func setPath(m map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	for i, part := range parts {
		if i == len(parts)-1 {
			m[part] = value
			return
		}
		next, ok := m[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[part] = next
		}
		m = next
	}
}

func decodeConfig(raw map[string]any) (*Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("building config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}
