// Package cmd implements the goscour command-line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/goscour/internal/config"
	"github.com/3leaps/goscour/internal/observability"
	"github.com/3leaps/goscour/internal/server/handlers"
)

var rootCmd = &cobra.Command{
	Use:   "goscour",
	Short: "Fast, safe bulk removal for object storage",
	Long: `goscour is a command-line client for S3-compatible object storage
built around one operation done well: removing large numbers of objects
quickly without ever having more work in flight than you asked for.

Removals run through a bounded concurrent pipeline: a lazy listing feeds
candidates to parallel delete workers, and an admission queue caps how
many deletions can be scheduled but not yet complete. Every run can be
previewed with --dry-run, gated by preflight permission probes, journaled
for resume, and observed over a local status endpoint.

URIs address objects on S3 (s3://bucket/prefix/) or a local tree
(file:///var/data/). Glob patterns (s3://bucket/logs/**/*.gz) select
subsets; --include/--exclude and date filters narrow further.`,
	SilenceUsage: true,
}

// versionInfo holds build-time version metadata, populated by main via
// SetVersionInfo from ldflags.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build version metadata for the version command
// and the status server's /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// appIdentity is the application identity used for config discovery and
// env prefixes. Nil until initConfig runs.
var appIdentity *config.AppIdentity

// GetAppIdentity returns the current application identity, or nil before
// initialization.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

var (
	cfgFile   string
	logLevel  string
	logFormat string
	readOnly  bool
	rootQuiet bool
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: $HOME/.goscour.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console|structured)")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "readonly", false, "Refuse all mutating provider calls")
	rootCmd.PersistentFlags().BoolVarP(&rootQuiet, "quiet", "q", false, "Suppress progress records and non-error logs")

	_ = viper.BindPFlag("readonly", rootCmd.PersistentFlags().Lookup("readonly"))
}

// initConfig wires viper to flags, environment, and an optional config
// file, then initializes the CLI logger from the resolved settings.
func initConfig() {
	if appIdentity == nil {
		appIdentity = config.DefaultIdentity()
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("." + appIdentity.ConfigName)
		viper.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(appIdentity.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing default config file is fine; an explicit one is not.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" && !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "goscour: cannot read config file %s: %v\n", cfgFile, err)
		}
	}

	level := viper.GetString("logging.level")
	if logLevel != "" {
		level = logLevel
	}
	if rootQuiet {
		level = "error"
	}

	profile := viper.GetString("logging.profile")
	if logFormat != "" {
		profile = logFormat
	}
	structured := strings.EqualFold(profile, "structured") || strings.EqualFold(profile, "json")

	observability.InitCLILogger(level, structured)
}

// setDefaults seeds viper with built-in defaults. These mirror
// internal/config's defaults so flag, env, and file layers resolve
// against the same baseline.
func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("health.enabled", true)

	viper.SetDefault("workers", 8)

	viper.SetDefault("debug.enabled", false)
	viper.SetDefault("debug.pprof_enabled", false)
}

// IsReadOnly reports whether the process-wide readonly latch is engaged,
// by flag, config, or GOSCOUR_READONLY in the environment.
func IsReadOnly() bool {
	if readOnly {
		return true
	}
	if viper.GetBool("readonly") {
		return true
	}
	switch strings.ToLower(os.Getenv("GOSCOUR_READONLY")) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// ExitWithCode logs a fatal condition and terminates the process with
// the given exit code. For use by commands that cannot return an error.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	observability.Sync()
	os.Exit(code)
}

// exitCodePattern extracts the exit code that exitError embeds in error
// messages.
var exitCodePattern = regexp.MustCompile(`\(exit code (\d+)\)$`)

func exitCodeFrom(err error) int {
	if m := exitCodePattern.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil && code > 0 {
			return code
		}
	}
	return 1
}

// Execute runs the root command with signal-aware cancellation and maps
// command errors to process exit codes.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.Sync()
		stop()
		os.Exit(exitCodeFrom(err))
	}
	observability.Sync()
}
