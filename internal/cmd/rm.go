package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goscour/internal/observability"
	"github.com/3leaps/goscour/internal/server/handlers"
	"github.com/3leaps/goscour/pkg/journal"
	"github.com/3leaps/goscour/pkg/lister"
	"github.com/3leaps/goscour/pkg/manifest"
	"github.com/3leaps/goscour/pkg/match"
	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/preflight"
	"github.com/3leaps/goscour/pkg/provider"
	"github.com/3leaps/goscour/pkg/remove"
	"github.com/3leaps/goscour/pkg/scope"
	"github.com/3leaps/goscour/pkg/shard"
	"github.com/3leaps/goscour/pkg/stream"
)

var rmCmd = &cobra.Command{
	Use:   "rm [uri]",
	Short: "Remove objects matching a target",
	Long: `Remove objects from cloud object storage.

Targets come from a URI (exact key, prefix, or glob pattern), from a
JSONL candidate list (--from-list), or from a job manifest (--job).
Deletions run on a bounded worker pool: the listing stays at most the
queue size ahead of the workers, so arbitrarily large targets run in
constant memory.

Every run emits JSONL records on stdout: what would be removed
(--dry-run), what was removed, what was skipped, and what failed. The
exit status is zero only when no deletion failed.

Example:
  goscour rm s3://bucket/tmp/debug.log
  goscour rm --recursive s3://bucket/logs/2023/
  goscour rm --dry-run 's3://bucket/logs/**/*.gz'
  goscour rm --recursive --older-than 90d s3://bucket/logs/
  goscour rm --from-list review.jsonl --journal run.db s3://bucket/
  goscour rm --job cleanup.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRm,
}

var (
	rmJobPath       string
	rmOutput        string
	rmDryRun        bool
	rmPlan          bool
	rmRecursive     bool
	rmWorkers       int
	rmQueueSize     int
	rmFailFast      bool
	rmForce         bool
	rmBatch         bool
	rmRateLimit     float64
	rmIncludes      []string
	rmExcludes      []string
	rmOlderThan     string
	rmNewerThan     string
	rmFromList      string
	rmJournalPath   string
	rmResume        bool
	rmStatusAddr    string
	rmPreflightMode string
	rmRegion        string
	rmProfile       string
	rmEndpoint      string
)

func init() {
	rootCmd.AddCommand(rmCmd)

	rmCmd.Flags().StringVarP(&rmJobPath, "job", "j", "", "Path to job manifest")
	rmCmd.Flags().StringVarP(&rmOutput, "output", "o", "", "Override output destination (stdout or file:PATH)")
	rmCmd.Flags().BoolVar(&rmDryRun, "dry-run", false, "Emit plan records for each candidate without deleting")
	rmCmd.Flags().BoolVar(&rmPlan, "plan", false, "Show the removal plan and exit without provider calls")
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "R", false, "Remove the whole subtree under a prefix")
	rmCmd.Flags().IntVar(&rmWorkers, "workers", manifest.DefaultWorkers, "Number of concurrent delete workers (1-64)")
	rmCmd.Flags().IntVar(&rmQueueSize, "queue-size", 0, "Max deletions scheduled ahead of the workers (default 2x workers)")
	rmCmd.Flags().BoolVar(&rmFailFast, "fail-fast", false, "Stop scheduling new deletions after the first failure")
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "Skip the confirmation prompt")
	rmCmd.Flags().BoolVar(&rmBatch, "batch", false, "Group deletes into provider batch calls where supported")
	rmCmd.Flags().Float64Var(&rmRateLimit, "rate-limit", 0, "Max provider requests per second (0 = unlimited)")
	rmCmd.Flags().StringArrayVar(&rmIncludes, "include", nil, "Glob pattern objects must match (repeatable)")
	rmCmd.Flags().StringArrayVar(&rmExcludes, "exclude", nil, "Glob pattern that excludes objects (repeatable)")
	rmCmd.Flags().StringVar(&rmOlderThan, "older-than", "", "Only remove objects modified before an age (30d, 12h) or ISO date")
	rmCmd.Flags().StringVar(&rmNewerThan, "newer-than", "", "Only remove objects modified after an age (30d, 12h) or ISO date")
	rmCmd.Flags().StringVar(&rmFromList, "from-list", "", "Remove the objects named in a JSONL record file instead of listing")
	rmCmd.Flags().StringVar(&rmJournalPath, "journal", "", "Record per-key outcomes in a SQLite journal at this path")
	rmCmd.Flags().BoolVar(&rmResume, "resume", false, "Skip keys the journal already records as deleted")
	rmCmd.Flags().StringVar(&rmStatusAddr, "status-addr", "", "Serve health and progress endpoints on HOST:PORT during the run")
	rmCmd.Flags().StringVar(&rmPreflightMode, "preflight", "", "Override preflight mode (plan-only|read-safe|delete-probe)")
	rmCmd.Flags().StringVarP(&rmRegion, "region", "r", "", "AWS region")
	rmCmd.Flags().StringVarP(&rmProfile, "profile", "p", "", "AWS credential profile")
	rmCmd.Flags().StringVar(&rmEndpoint, "endpoint", "", "Custom endpoint URL for S3-compatible storage")
}

// removeOptions carries CLI-only settings that have no manifest
// representation.
type removeOptions struct {
	// rawURI is the target URI as typed, for logs and the journal.
	rawURI string

	// exactKey targets a single object resolved by Head instead of a
	// listing.
	exactKey string

	// fromList replays candidates from a JSONL file instead of listing.
	fromList string

	// batch requests provider batch deletes at the provider's maximum
	// batch size.
	batch bool

	// statusAddr serves health and progress endpoints during the run.
	statusAddr string
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if rmJobPath == "" && len(args) == 0 {
		return exitError(foundry.ExitInvalidArgument, "Missing removal target", errors.New("provide a target URI or --job manifest"))
	}
	if rmJobPath != "" && len(args) > 0 {
		return exitError(foundry.ExitInvalidArgument, "Conflicting removal targets", errors.New("--job and a target URI are mutually exclusive"))
	}

	opts := removeOptions{
		fromList:   rmFromList,
		batch:      rmBatch,
		statusAddr: rmStatusAddr,
	}

	var m *manifest.Manifest
	var err error
	if rmJobPath != "" {
		m, err = manifest.Load(rmJobPath)
		if err != nil {
			observability.CLILogger.Error("Failed to load manifest",
				zap.String("path", rmJobPath),
				zap.Error(err))
			return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
		}
		observability.CLILogger.Debug("Loaded manifest",
			zap.String("path", rmJobPath),
			zap.String("provider", m.Connection.Provider),
			zap.String("bucket", m.Connection.Bucket),
			zap.Strings("includes", m.Match.Includes))
	} else {
		m, err = removeManifestFromFlags(args[0], &opts)
		if err != nil {
			return err
		}
	}

	// Apply output override if specified
	if rmOutput != "" {
		m.Output.Destination = rmOutput
	}

	// Apply preflight override if specified
	if rmPreflightMode != "" {
		switch rmPreflightMode {
		case "plan-only", "read-safe", "delete-probe":
			m.Remove.Preflight.Mode = rmPreflightMode
		default:
			return exitError(foundry.ExitInvalidArgument, "Invalid --preflight value", fmt.Errorf("unsupported preflight mode: %s", rmPreflightMode))
		}
	}

	// Journal flags layer over the manifest journal block.
	if rmJournalPath != "" {
		if m.Journal == nil {
			m.Journal = &manifest.JournalConfig{}
		}
		m.Journal.Path = rmJournalPath
	}
	if rmResume {
		if m.Journal == nil || (m.Journal.Path == "" && m.Journal.URL == "") {
			return exitError(foundry.ExitInvalidArgument, "Invalid --resume", errors.New("--resume requires a journal (--journal or the manifest journal block)"))
		}
		m.Journal.Resume = true
	}

	// Quiet suppresses progress records on top of the error-level logging
	// the root flag already applies.
	if rootQuiet {
		enabled := false
		m.Output.Progress = &enabled
	}

	// Plan mode: show the plan and exit
	if rmPlan {
		return showRemovePlan(m)
	}

	// The readonly latch refuses anything that could mutate the target:
	// real runs outright, and delete-probe preflight even under dry-run
	// because the probe writes a scratch object.
	if IsReadOnly() {
		if !rmDryRun {
			return exitError(foundry.ExitInvalidArgument, "Removal refused", errors.New("readonly mode is enabled; use --dry-run for a preview"))
		}
		if m.Remove.Preflight.Mode == string(preflight.ModeDeleteProbe) {
			return exitError(foundry.ExitInvalidArgument, "Delete-probe preflight refused", errors.New("readonly mode is enabled; the probe writes a scratch object"))
		}
	}

	if !rmDryRun && !rmForce {
		confirmed, err := confirmRemoval(cmd, targetString(m, &opts))
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read confirmation", err)
		}
		if !confirmed {
			return exitError(foundry.ExitInvalidArgument, "Removal not confirmed", errors.New("confirmation declined (pass --force to skip the prompt)"))
		}
	}

	return executeRemove(ctx, m, &opts)
}

// removeManifestFromFlags synthesizes a job manifest from a target URI
// and the rm flags, so direct and manifest runs share one execution
// path.
func removeManifestFromFlags(rawURI string, opts *removeOptions) (*manifest.Manifest, error) {
	uri, err := ParseURI(rawURI)
	if err != nil {
		observability.CLILogger.Error("Invalid URI", zap.String("uri", rawURI), zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	opts.rawURI = rawURI

	if rmWorkers < 1 || rmWorkers > 64 {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid --workers value", fmt.Errorf("workers must be between 1 and 64, got %d", rmWorkers))
	}
	if rmQueueSize < 0 {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid --queue-size value", fmt.Errorf("queue size must be >= 0, got %d", rmQueueSize))
	}

	m := &manifest.Manifest{
		Version: manifest.DefaultVersion,
		Connection: manifest.ConnectionConfig{
			Provider: uri.Provider,
			Bucket:   uri.Bucket,
			Region:   rmRegion,
			Endpoint: rmEndpoint,
			Profile:  rmProfile,
		},
	}

	m.Remove.Workers = rmWorkers
	m.Remove.QueueSize = rmQueueSize
	m.Remove.FailFast = rmFailFast
	m.Remove.RateLimit = rmRateLimit
	recursive := rmRecursive
	m.Remove.Recursive = &recursive

	filters, err := filtersFromFlags()
	if err != nil {
		return nil, err
	}
	m.Match.Filters = filters

	switch {
	case opts.fromList != "":
		// Replay removes exactly the reviewed list; the matching flags
		// would silently not apply.
		if len(rmIncludes) > 0 || len(rmExcludes) > 0 || filters != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Conflicting flags", errors.New("--from-list replays a reviewed list; pattern and filter flags do not apply"))
		}
		if uri.IsPattern() || !uri.IsPrefix() {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid --from-list target", errors.New("use a bucket or prefix URI to name the connection for a list replay"))
		}
		m.Connection.Prefix = uri.Key

	case uri.IsPattern():
		m.Connection.Prefix = uri.Key
		pattern := strings.TrimPrefix(uri.Pattern, uri.Key)
		m.Match.Includes = append([]string{pattern}, rmIncludes...)
		m.Match.Excludes = rmExcludes

	case uri.IsPrefix():
		m.Connection.Prefix = uri.Key
		m.Match.Includes = rmIncludes
		m.Match.Excludes = rmExcludes

	default:
		// Exact key: a single Head-resolved candidate.
		if len(rmIncludes) > 0 || len(rmExcludes) > 0 || filters != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Conflicting flags", errors.New("pattern and filter flags do not apply to an exact-key target"))
		}
		opts.exactKey = uri.Key
	}

	m.ApplyDefaults()
	return m, nil
}

// filtersFromFlags maps the date flags onto a manifest filter block.
func filtersFromFlags() (*manifest.FilterConfig, error) {
	if rmOlderThan == "" && rmNewerThan == "" {
		return nil, nil
	}

	modified := &manifest.DateFilterConfig{}
	if rmOlderThan != "" {
		cutoff, err := resolveAgeOrDate(rmOlderThan)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid --older-than value", err)
		}
		modified.Before = cutoff
	}
	if rmNewerThan != "" {
		cutoff, err := resolveAgeOrDate(rmNewerThan)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid --newer-than value", err)
		}
		modified.After = cutoff
	}
	return &manifest.FilterConfig{Modified: modified}, nil
}

// resolveAgeOrDate turns an age ("30d", "12h") into an absolute RFC 3339
// cutoff, and passes ISO dates through unchanged.
func resolveAgeOrDate(value string) (string, error) {
	if age, err := match.ParseAge(value); err == nil {
		return time.Now().UTC().Add(-age).Format(time.RFC3339), nil
	}
	if _, err := match.ParseDate(value); err == nil {
		return value, nil
	}
	return "", fmt.Errorf("expected an age (30d, 12h) or an ISO date, got %q", value)
}

// confirmRemoval prompts on stderr and reads one line from stdin.
// Scripted runs pass --force instead of piping a "yes".
func confirmRemoval(cmd *cobra.Command, target string) (bool, error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "About to remove objects under %s. This cannot be undone.\n", target)
	fmt.Fprint(cmd.ErrOrStderr(), "Type 'yes' to continue: ")

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.TrimSpace(line) == "yes", nil
}

// targetString names the removal target for prompts, logs, and the
// journal.
func targetString(m *manifest.Manifest, opts *removeOptions) string {
	if opts.rawURI != "" {
		return opts.rawURI
	}
	return fmt.Sprintf("%s://%s/%s", m.Connection.Provider, m.Connection.Bucket, m.Connection.Prefix)
}

// showRemovePlan displays what would be removed without executing.
func showRemovePlan(m *manifest.Manifest) error {
	fmt.Println("=== Removal Plan ===")
	fmt.Println()
	fmt.Printf("Provider:    %s\n", m.Connection.Provider)
	fmt.Printf("Bucket:      %s\n", m.Connection.Bucket)
	if m.Connection.Prefix != "" {
		fmt.Printf("Prefix:      %s\n", m.Connection.Prefix)
	}
	if m.Connection.Region != "" {
		fmt.Printf("Region:      %s\n", m.Connection.Region)
	}
	if m.Connection.Endpoint != "" {
		fmt.Printf("Endpoint:    %s\n", m.Connection.Endpoint)
	}
	fmt.Println()
	fmt.Println("Patterns:")
	fmt.Println("  Include:")
	for _, p := range m.Match.Includes {
		fmt.Printf("    - %s\n", p)
	}
	if len(m.Match.Excludes) > 0 {
		fmt.Println("  Exclude:")
		for _, p := range m.Match.Excludes {
			fmt.Printf("    - %s\n", p)
		}
	}
	fmt.Println()

	if m.Match.Filters != nil {
		fmt.Println("Filters:")
		if m.Match.Filters.Size != nil {
			fmt.Printf("  Size:      min=%s max=%s\n", m.Match.Filters.Size.Min, m.Match.Filters.Size.Max)
		}
		if m.Match.Filters.Modified != nil {
			fmt.Printf("  Modified:  after=%s before=%s\n", m.Match.Filters.Modified.After, m.Match.Filters.Modified.Before)
		}
		if m.Match.Filters.KeyRegex != "" {
			fmt.Printf("  Key Regex: %s\n", m.Match.Filters.KeyRegex)
		}
		fmt.Println()
	}

	fmt.Printf("Workers:     %d\n", m.Remove.Workers)
	fmt.Printf("Queue Size:  %d\n", m.Remove.QueueSize)
	if m.Remove.RateLimit > 0 {
		fmt.Printf("Rate Limit:  %.1f req/s\n", m.Remove.RateLimit)
	}
	fmt.Printf("Recursive:   %v\n", m.Remove.RecursiveEnabled())
	if m.Remove.BatchSize > 0 {
		fmt.Printf("Batch Size:  %d\n", m.Remove.BatchSize)
	}
	if m.Remove.Preflight.Mode != "" {
		fmt.Printf("Preflight:   %s\n", m.Remove.Preflight.Mode)
	}
	if m.Journal != nil && (m.Journal.Path != "" || m.Journal.URL != "") {
		dest := m.Journal.Path
		if dest == "" {
			dest = m.Journal.URL
		}
		if m.Journal.Resume {
			fmt.Printf("Journal:     %s (resume)\n", dest)
		} else {
			fmt.Printf("Journal:     %s\n", dest)
		}
	}
	fmt.Printf("Output:      %s\n", m.Output.Destination)
	fmt.Printf("Progress:    %v\n", m.Output.ProgressEnabled())
	fmt.Println()
	fmt.Println("Manifest validated successfully. Run without --plan to execute.")
	return nil
}

// executeRemove runs the actual removal job.
func executeRemove(ctx context.Context, m *manifest.Manifest, opts *removeOptions) error {
	// Generate job ID early so we can use it in writer
	jobID := uuid.New().String()
	target := targetString(m, opts)

	prov, err := openProvider(ctx, &ObjectURI{Provider: m.Connection.Provider, Bucket: m.Connection.Bucket},
		m.Connection.Region, m.Connection.Profile, m.Connection.Endpoint)
	if err != nil {
		observability.CLILogger.Error("Failed to create provider", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
	}
	defer func() { _ = prov.Close() }()

	matcher, err := match.New(match.Config{
		Includes:   m.Match.Includes,
		Excludes:   m.Match.Excludes,
		SkipHidden: !m.Match.IncludeHidden,
	})
	if err != nil {
		observability.CLILogger.Error("Failed to create matcher", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid match patterns", err)
	}

	filter, err := buildRemoveFilter(m)
	if err != nil {
		observability.CLILogger.Error("Invalid filters", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid filters", err)
	}

	writer, cleanup, err := createWriter(m, jobID)
	if err != nil {
		observability.CLILogger.Error("Failed to create writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	// Preflight checks (plan-only/read-safe/delete-probe), only when the
	// job asks for them.
	if m.Remove.Preflight.Mode != "" {
		pfSpec := preflight.Spec{
			Mode:          preflight.Mode(m.Remove.Preflight.Mode),
			ProbeStrategy: preflight.ProbeStrategy(m.Remove.Preflight.ProbeStrategy),
			ProbePrefix:   m.Remove.Preflight.ProbePrefix,
		}
		pfRec, pfErr := preflight.Remove(ctx, prov, listTargets(m, matcher), pfSpec)
		if err := writer.WritePreflight(ctx, pfRec); err != nil {
			observability.CLILogger.Warn("Failed to write preflight record", zap.Error(err))
		}
		if pfErr != nil {
			observability.CLILogger.Error("Preflight failed", zap.Error(pfErr))
			return exitError(foundry.ExitExternalServiceUnavailable, "Preflight failed", pfErr)
		}
	}

	// Journal
	var j *journal.Journal
	if m.Journal != nil && (m.Journal.Path != "" || m.Journal.URL != "") {
		token := ""
		if m.Journal.AuthTokenEnv != "" {
			token = os.Getenv(m.Journal.AuthTokenEnv)
		}
		j, err = journal.Open(ctx, journal.Config{
			Path:      m.Journal.Path,
			URL:       m.Journal.URL,
			AuthToken: token,
		})
		if err != nil {
			observability.CLILogger.Error("Failed to open journal", zap.Error(err))
			return exitError(foundry.ExitFileWriteError, "Failed to open journal", err)
		}
		defer func() { _ = j.Close() }()

		scopeHash, err := scope.HashConfig(m.Remove.Scope)
		if err != nil {
			observability.CLILogger.Error("Failed to hash scope", zap.Error(err))
			return exitError(foundry.ExitInvalidArgument, "Invalid scope", err)
		}

		if m.Journal.Resume {
			if err := checkResumeScope(ctx, j, scopeHash); err != nil {
				if errors.Is(err, errScopeMismatch) {
					observability.CLILogger.Error("Resume scope mismatch", zap.Error(err))
					return exitError(foundry.ExitInvalidArgument, "Resume refused", err)
				}
				observability.CLILogger.Error("Failed to read journal runs", zap.Error(err))
				return exitError(foundry.ExitFileReadError, "Failed to read journal", err)
			}
		}

		if err := j.StartRun(ctx, journal.StartRunParams{
			JobID:     jobID,
			Target:    target,
			Provider:  m.Connection.Provider,
			ScopeHash: scopeHash,
			DryRun:    rmDryRun,
		}); err != nil {
			observability.CLILogger.Error("Failed to record run in journal", zap.Error(err))
			return exitError(foundry.ExitFileWriteError, "Failed to record run in journal", err)
		}
	}

	// Candidate source
	src, closeSrc, err := buildSource(ctx, m, opts, prov, matcher, filter)
	if err != nil {
		return err
	}
	if closeSrc != nil {
		defer closeSrc()
	}

	// Writer stack: progress muting innermost, then journal recording,
	// then status tracking so /progress sees every record.
	out := output.Writer(writer)
	if !m.Output.ProgressEnabled() {
		out = &muteProgress{Writer: out}
	}
	if j != nil {
		out = journal.NewRecordingWriter(out, j, jobID)
	}
	tracker := newStatusTracker(out, jobID)
	out = tracker

	if j != nil && m.Journal.Resume {
		sink := out
		src = journal.NewResumeSource(src, j, func(key string) {
			_ = sink.WriteSkip(ctx, &output.SkipRecord{Key: key, Reason: output.SkipReasonJournaled})
		})
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if opts.statusAddr != "" {
		stopStatus, err := startStatusServer(opts.statusAddr, tracker.Snapshot, cancelRun)
		if err != nil {
			observability.CLILogger.Error("Failed to start status server", zap.Error(err))
			return exitError(foundry.ExitInvalidArgument, "Invalid --status-addr", err)
		}
		defer stopStatus()
	}

	cfg := remove.Config{
		Workers:       m.Remove.Workers,
		QueueSize:     m.Remove.QueueSize,
		DryRun:        rmDryRun,
		FailFast:      m.Remove.FailFast,
		BatchSize:     m.Remove.BatchSize,
		RateLimit:     m.Remove.RateLimit,
		ProgressEvery: m.Remove.ProgressEvery,
	}

	remover, err := buildRemover(src, prov, out, cfg, opts)
	if err != nil {
		return err
	}

	observability.CLILogger.Info("Starting removal",
		zap.String("job_id", jobID),
		zap.String("target", target),
		zap.Int("workers", cfg.Workers),
		zap.Bool("dry_run", cfg.DryRun))

	outcome, runErr := remover.Run(runCtx)

	if j != nil {
		finishJournalRun(ctx, j, jobID, outcome, runErr, runCtx.Err() != nil)
	}

	if runErr != nil {
		if runCtx.Err() != nil {
			observability.CLILogger.Warn("Removal cancelled",
				zap.String("job_id", jobID),
				zap.Int64("objects_deleted", deletedCount(outcome)))
			return exitError(foundry.ExitSignalInt, "Removal cancelled", runErr)
		}
		observability.CLILogger.Error("Removal failed",
			zap.String("job_id", jobID),
			zap.Error(runErr))
		return exitError(foundry.ExitExternalServiceUnavailable, "Removal failed", runErr)
	}

	observability.CLILogger.Info("Removal completed",
		zap.String("job_id", jobID),
		zap.Int64("objects_found", outcome.ObjectsFound),
		zap.Int64("objects_deleted", outcome.ObjectsDeleted),
		zap.Int64("objects_skipped", outcome.ObjectsSkipped),
		zap.Int64("objects_failed", outcome.ObjectsFailed),
		zap.Int64("bytes_deleted", outcome.BytesDeleted),
		zap.String("duration", formatDuration(outcome.Duration)),
		zap.Bool("dry_run", cfg.DryRun))

	if outcome.HadErrors {
		return exitError(foundry.ExitExternalServiceUnavailable, "Removal completed with failures", fmt.Errorf("objects_failed=%d", outcome.ObjectsFailed))
	}
	return nil
}

// buildSource resolves the candidate source: a JSONL replay, a single
// Head-resolved key, or a provider listing with optional scope or shard
// prefix expansion.
func buildSource(ctx context.Context, m *manifest.Manifest, opts *removeOptions, prov provider.Provider, matcher *match.Matcher, filter *match.CompositeFilter) (remove.Source, func(), error) {
	if opts.fromList != "" {
		f, err := os.Open(opts.fromList)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil, exitError(foundry.ExitFileNotFound, "Candidate list not found", err)
			}
			return nil, nil, exitError(foundry.ExitFileReadError, "Failed to open candidate list", err)
		}
		return stream.NewListSource(f), func() { _ = f.Close() }, nil
	}

	if opts.exactKey != "" {
		return &headSource{provider: prov, key: opts.exactKey}, nil, nil
	}

	var override []string
	switch {
	case m.Remove.Scope != nil:
		pl, _ := prov.(provider.PrefixLister)
		if scope.RequiresPrefixLister(m.Remove.Scope) && pl == nil {
			return nil, nil, exitError(foundry.ExitInvalidArgument, "Provider does not support prefix discovery", fmt.Errorf("scope type %q needs delimiter prefix listing", m.Remove.Scope.Type))
		}
		plan, err := scope.Compile(ctx, m.Remove.Scope, m.Connection.Prefix, pl)
		if err != nil {
			observability.CLILogger.Error("Failed to compile scope", zap.Error(err))
			return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid scope", err)
		}
		override = plan.Prefixes
		observability.CLILogger.Debug("Compiled scope plan", zap.Int("prefixes", len(override)))

	case m.Remove.Shard != nil && m.Remove.Shard.Enabled:
		prefixes, err := shard.Discover(ctx, prov, m.Connection.Prefix, shard.FromManifest(m.Remove.Shard))
		if err != nil {
			observability.CLILogger.Error("Shard discovery failed", zap.Error(err))
			return nil, nil, exitError(foundry.ExitExternalServiceUnavailable, "Shard discovery failed", err)
		}
		override = prefixes
		observability.CLILogger.Debug("Discovered shards", zap.Int("prefixes", len(override)))
	}

	l := lister.New(prov, m.Connection.Prefix, matcher, lister.Config{
		Recursive: m.Remove.RecursiveEnabled(),
		RateLimit: m.Remove.RateLimit,
	})
	if filter != nil {
		l.WithFilter(filter)
	}
	if len(override) > 0 {
		l.WithPrefixes(override)
	}
	return l, nil, nil
}

// buildRemover selects batch or per-key deletion. Batch mode needs the
// provider's batch capability; without it the run degrades to per-key
// deletes rather than failing.
func buildRemover(src remove.Source, prov provider.Provider, w output.Writer, cfg remove.Config, opts *removeOptions) (*remove.Remover, error) {
	if opts.batch || cfg.BatchSize > 0 {
		if bd, ok := prov.(remove.BatchDeleter); ok {
			return remove.NewBatch(src, bd, w, cfg), nil
		}
		observability.CLILogger.Warn("Provider does not support batch deletes, using per-key deletes")
	}

	del, ok := prov.(remove.Deleter)
	if !ok {
		if cfg.DryRun {
			return remove.New(src, nil, w, cfg), nil
		}
		return nil, exitError(foundry.ExitInvalidArgument, "Provider does not support object deletion", fmt.Errorf("missing delete capability"))
	}
	return remove.New(src, del, w, cfg), nil
}

// listTargets computes the absolute prefixes the listing will walk, for
// the preflight list probe.
func listTargets(m *manifest.Manifest, matcher *match.Matcher) []string {
	derived := matcher.Prefixes()
	out := make([]string, 0, len(derived))
	for _, d := range derived {
		out = append(out, m.Connection.Prefix+d)
	}
	if len(out) == 0 {
		out = append(out, m.Connection.Prefix)
	}
	return out
}

// errScopeMismatch refuses --resume against a journal written under a
// different removal scope.
var errScopeMismatch = errors.New("journal was written for a different removal scope; use a fresh journal or restore the original scope")

// checkResumeScope compares the job's scope hash against the journal's
// most recent run. A journal only proves keys were deleted under the
// scope that wrote it; resuming under a different scope would skip keys
// the new scope never covered. An empty journal passes.
func checkResumeScope(ctx context.Context, j *journal.Journal, scopeHash string) error {
	last, err := j.LatestRun(ctx)
	if err != nil {
		return err
	}
	if last != nil && last.ScopeHash != scopeHash {
		return fmt.Errorf("%w (journal scope %q, job scope %q)", errScopeMismatch, last.ScopeHash, scopeHash)
	}
	return nil
}

// finishJournalRun records the run's terminal status. Best effort: the
// per-key rows are already durable.
func finishJournalRun(ctx context.Context, j *journal.Journal, jobID string, outcome *remove.Outcome, runErr error, cancelled bool) {
	status := journal.RunStatusComplete
	switch {
	case cancelled:
		status = journal.RunStatusAborted
	case runErr != nil:
		status = journal.RunStatusFailed
	case outcome != nil && outcome.HadErrors:
		status = journal.RunStatusFailed
	}

	params := journal.FinishRunParams{JobID: jobID, Status: status}
	if outcome != nil {
		params.ObjectsDeleted = outcome.ObjectsDeleted
		params.ObjectsFailed = outcome.ObjectsFailed
		params.BytesDeleted = outcome.BytesDeleted
	}

	// The run context may already be cancelled; finalize on a fresh
	// short-lived one so the terminal status still lands.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := j.FinishRun(finishCtx, params); err != nil {
		observability.CLILogger.Warn("Failed to finalize journal run", zap.Error(err))
	}
}

func deletedCount(outcome *remove.Outcome) int64 {
	if outcome == nil {
		return 0
	}
	return outcome.ObjectsDeleted
}

func buildRemoveFilter(m *manifest.Manifest) (*match.CompositeFilter, error) {
	if m.Match.Filters == nil {
		return nil, nil
	}

	cfg := &match.FilterConfig{
		KeyRegex:    m.Match.Filters.KeyRegex,
		ContentType: m.Match.Filters.ContentType,
	}

	if m.Match.Filters.Size != nil {
		cfg.Size = &match.SizeFilterConfig{
			Min: m.Match.Filters.Size.Min,
			Max: m.Match.Filters.Size.Max,
		}
	}

	if m.Match.Filters.Modified != nil {
		cfg.Modified = &match.DateFilterConfig{
			After:  m.Match.Filters.Modified.After,
			Before: m.Match.Filters.Modified.Before,
		}
	}

	return match.NewFilterFromConfig(cfg)
}

// createWriter creates an output writer from manifest configuration.
// Returns the writer, a cleanup function, and any error.
func createWriter(m *manifest.Manifest, jobID string) (output.Writer, func(), error) {
	dest := m.Output.Destination
	provider := m.Connection.Provider

	// Parse destination
	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, jobID, provider)
		return w, func() { _ = w.Close() }, nil
	}

	// Handle file: prefix
	path := dest
	if strings.HasPrefix(dest, "file:") {
		path = strings.TrimPrefix(dest, "file:")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, jobID, provider)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}

// headSource yields exactly one candidate for an exact-key target. The
// key is resolved with a Head call so plan and deleted records carry
// real sizes; a key that is already absent still flows through so the
// pipeline reports the not-found success.
type headSource struct {
	provider provider.Provider
	key      string
	done     bool
}

func (s *headSource) Next(ctx context.Context) (remove.Candidate, error) {
	if s.done {
		return remove.Candidate{}, io.EOF
	}
	s.done = true

	meta, err := s.provider.Head(ctx, s.key)
	if err != nil {
		if provider.IsNotFound(err) {
			return remove.Candidate{Key: s.key}, nil
		}
		return remove.Candidate{}, fmt.Errorf("resolving %q: %w", s.key, err)
	}
	return remove.Candidate{
		Key:          s.key,
		Size:         meta.Size,
		ETag:         meta.ETag,
		LastModified: meta.LastModified,
	}, nil
}

// muteProgress drops progress records when progress output is disabled.
// Every other record type passes through.
type muteProgress struct {
	output.Writer
}

func (mp *muteProgress) WriteProgress(ctx context.Context, prog *output.ProgressRecord) error {
	return nil
}

// statusTracker mirrors the record stream into atomic counters so the
// status server can serve live progress without touching the pipeline.
type statusTracker struct {
	output.Writer
	jobID     string
	startedAt time.Time

	phase   atomic.Value
	found   atomic.Int64
	deleted atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
	bytes   atomic.Int64
}

func newStatusTracker(w output.Writer, jobID string) *statusTracker {
	t := &statusTracker{Writer: w, jobID: jobID, startedAt: time.Now().UTC()}
	t.phase.Store(output.PhaseStarting)
	return t
}

func (t *statusTracker) WriteProgress(ctx context.Context, prog *output.ProgressRecord) error {
	t.phase.Store(prog.Phase)
	t.found.Store(prog.ObjectsFound)
	return t.Writer.WriteProgress(ctx, prog)
}

func (t *statusTracker) WriteDeleted(ctx context.Context, del *output.DeletedRecord) error {
	t.deleted.Add(1)
	t.bytes.Add(del.Size)
	return t.Writer.WriteDeleted(ctx, del)
}

func (t *statusTracker) WriteSkip(ctx context.Context, skip *output.SkipRecord) error {
	t.skipped.Add(1)
	return t.Writer.WriteSkip(ctx, skip)
}

func (t *statusTracker) WriteError(ctx context.Context, errRec *output.ErrorRecord) error {
	if errRec.Key != "" {
		t.failed.Add(1)
	}
	return t.Writer.WriteError(ctx, errRec)
}

// Snapshot implements the status server's progress source.
func (t *statusTracker) Snapshot() handlers.ProgressSnapshot {
	phase, _ := t.phase.Load().(string)
	return handlers.ProgressSnapshot{
		JobID:          t.jobID,
		Phase:          phase,
		ObjectsFound:   t.found.Load(),
		ObjectsDeleted: t.deleted.Load(),
		ObjectsSkipped: t.skipped.Load(),
		ObjectsFailed:  t.failed.Load(),
		BytesDeleted:   t.bytes.Load(),
		StartedAt:      t.startedAt,
	}
}

// formatDuration renders a duration for log fields and summaries.
func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}
