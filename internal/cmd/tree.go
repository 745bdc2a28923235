package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/3leaps/goscour/internal/observability"
	"github.com/3leaps/goscour/pkg/match"
	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/provider"
)

var treeCmd = &cobra.Command{
	Use:   "tree <uri>",
	Short: "Summarize a prefix hierarchy",
	Long: `Summarize an object-store prefix as a directory-like tree.

Hierarchy in object storage is a naming convention, not a filesystem.
tree walks it with delimiter listings: each visited prefix reports its
direct object count and bytes plus the number of child prefixes, which
makes folder markers and fan-out visible before a removal.

By default only the given prefix is summarized. --depth N traverses
child prefixes level by level, bounded by --max-prefixes, --max-objects,
--max-pages, and --timeout so a huge namespace cannot run away.

Example:
  goscour tree s3://bucket/prefix/
  goscour tree s3://bucket/prefix/ --depth 2 --output table
  goscour tree s3://bucket/prefix/ --depth 3 --max-prefixes 50000 --timeout 10m
  goscour tree file:///var/data/exports/`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

var (
	treeRegion     string
	treeProfile    string
	treeEndpoint   string
	treeDelimiter  string
	treeMaxObjects int
	treeMaxPages   int
	treeOutput     string

	treeDepth         int
	treeMaxPrefixes   int
	treeTimeout       time.Duration
	treeParallel      int
	treeIncludes      []string
	treeExcludes      []string
	treeProgressEvery int
	treeNoProgress    bool
)

func init() {
	rootCmd.AddCommand(treeCmd)

	treeCmd.Flags().StringVarP(&treeRegion, "region", "r", "", "AWS region")
	treeCmd.Flags().StringVarP(&treeProfile, "profile", "p", "", "AWS credential profile")
	treeCmd.Flags().StringVar(&treeEndpoint, "endpoint", "", "Custom endpoint URL for S3-compatible storage")
	treeCmd.Flags().StringVar(&treeDelimiter, "delimiter", "/", "Delimiter for common prefixes")
	treeCmd.Flags().IntVar(&treeMaxObjects, "max-objects", 2_000_000, "Max direct objects to count before truncating")
	treeCmd.Flags().IntVar(&treeMaxPages, "max-pages", 10_000, "Max listing pages per prefix before truncating")
	treeCmd.Flags().StringVar(&treeOutput, "output", "jsonl", "Output format (jsonl|table)")

	treeCmd.Flags().IntVar(&treeDepth, "depth", 0, "Traversal depth (0 summarizes only the given prefix)")
	treeCmd.Flags().IntVar(&treeMaxPrefixes, "max-prefixes", 50_000, "Max prefixes to traverse before stopping")
	treeCmd.Flags().DurationVar(&treeTimeout, "timeout", 10*time.Minute, "Traversal timeout")
	treeCmd.Flags().IntVar(&treeParallel, "parallel", 8, "Max concurrent prefix listings")
	treeCmd.Flags().StringArrayVar(&treeIncludes, "include", nil, "Glob pattern traversed prefixes must match (repeatable)")
	treeCmd.Flags().StringArrayVar(&treeExcludes, "exclude", nil, "Glob pattern that excludes prefixes from traversal (repeatable)")
	treeCmd.Flags().IntVar(&treeProgressEvery, "progress-every", 500, "Emit progress logs every N prefixes (0=disable)")
	treeCmd.Flags().BoolVar(&treeNoProgress, "no-progress", false, "Disable progress logs")
}

func runTree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	uri := args[0]

	parsed, err := ParseURI(uri)
	if err != nil {
		observability.CLILogger.Error("Invalid URI", zap.String("uri", uri), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	if parsed.IsPattern() {
		return exitError(foundry.ExitInvalidArgument, "tree requires a prefix URI (no glob pattern)", fmt.Errorf("patterns are not supported; append '/' and use --include/--exclude for traversal scoping"))
	}
	if !parsed.IsPrefix() {
		return exitError(foundry.ExitInvalidArgument, "tree requires a prefix URI", fmt.Errorf("append '/' to treat the URI as a prefix"))
	}

	prov, err := openProvider(ctx, parsed, treeRegion, treeProfile, treeEndpoint)
	if err != nil {
		observability.CLILogger.Error("Failed to create provider", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
	}
	defer func() { _ = prov.Close() }()

	dl, ok := prov.(provider.DelimiterLister)
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "Provider does not support delimiter listing", fmt.Errorf("missing delimiter listing support"))
	}

	if treeDepth <= 0 {
		return runTreeDirect(ctx, parsed, dl)
	}
	return runTreeTraversal(ctx, parsed, dl)
}

// runTreeDirect summarizes exactly the given prefix, one delimiter walk.
func runTreeDirect(ctx context.Context, uri *ObjectURI, dl provider.DelimiterLister) error {
	start := time.Now()
	rec, _, err := summarizeDirectPrefix(ctx, dl, uri.Key, treeDelimiter, treeMaxObjects, treeMaxPages, false)
	if err != nil {
		observability.CLILogger.Error("Failed to summarize prefix", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to summarize prefix", err)
	}
	rec.Depth = 0

	if treeOutput == "table" {
		return outputTreeTable(rec)
	}
	if treeOutput != "jsonl" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("expected jsonl or table"))
	}

	w := output.NewJSONLWriter(os.Stdout, uuid.New().String(), uri.Provider)
	if err := w.WritePrefix(ctx, rec); err != nil {
		return err
	}

	dur := time.Since(start)
	return w.WriteSummary(ctx, &output.SummaryRecord{
		ObjectsFound:   rec.ObjectsDirect,
		ObjectsMatched: rec.ObjectsDirect,
		BytesTotal:     rec.BytesDirect,
		Duration:       dur,
		DurationHuman:  formatDuration(dur),
		Prefixes:       []string{rec.Prefix},
	})
}

func runTreeTraversal(ctx context.Context, uri *ObjectURI, dl provider.DelimiterLister) error {
	if treeParallel < 1 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --parallel value", fmt.Errorf("parallel must be >= 1"))
	}
	if treeMaxPrefixes < 1 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-prefixes value", fmt.Errorf("max-prefixes must be >= 1"))
	}

	ctx2 := ctx
	cancel := func() {}
	if treeTimeout > 0 {
		ctx2, cancel = context.WithTimeout(ctx, treeTimeout)
	}
	defer cancel()

	allowPrefix, err := buildTreeScopeFilter(treeIncludes, treeExcludes)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid include/exclude patterns", err)
	}

	start := time.Now()
	jobID := uuid.New().String()

	// traversePrefixes never runs callbacks concurrently, so plain
	// variables are enough for the run totals.
	var (
		totalObjects int64
		totalBytes   int64
		pagesTotal   int64
		processed    int64
		discovered   int64
		reasonsSet   = map[string]struct{}{}
	)

	markPartial := func(reason string) {
		reasonsSet[reason] = struct{}{}
	}

	tally := func(rec *output.PrefixRecord) {
		pagesTotal += rec.Pages
		processed++
		totalObjects += rec.ObjectsDirect
		totalBytes += rec.BytesDirect
		if rec.Truncated {
			markPartial(rec.TruncatedReason)
		}
	}

	if treeOutput == "table" {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if err := outputTreeTableHeader(tw); err != nil {
			return err
		}

		err = traversePrefixes(ctx2, dl, uri.Key, treeDelimiter, treeDepth, treeMaxObjects, treeMaxPages, treeMaxPrefixes, treeParallel, allowPrefix,
			func(rec *output.PrefixRecord) error {
				if err := outputTreeTableRow(tw, rec); err != nil {
					return err
				}
				tally(rec)
				return nil
			},
			func(newPrefixes int) {
				discovered += int64(newPrefixes)
			},
			markPartial,
		)
		if err != nil {
			if errorsIsContext(err) {
				markPartial("timeout")
			}
			return err
		}

		if err := tw.Flush(); err != nil {
			return err
		}

		dur := time.Since(start)
		if len(reasonsSet) > 0 {
			fmt.Fprintf(os.Stderr, "tree: partial results (%s)\n", strings.Join(sortedKeys(reasonsSet), ","))
		}
		fmt.Fprintf(os.Stderr, "tree: processed=%d prefixes, objects=%d, bytes=%s, duration=%s\n",
			processed, totalObjects, formatSize(totalBytes), formatDuration(dur),
		)
		return nil
	}

	if treeOutput != "jsonl" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("expected jsonl or table"))
	}

	w := output.NewJSONLWriter(os.Stdout, jobID, uri.Provider)

	lastProgress := time.Now()
	progressEvery := treeProgressEvery
	if treeNoProgress {
		progressEvery = 0
	}

	err = traversePrefixes(ctx2, dl, uri.Key, treeDelimiter, treeDepth, treeMaxObjects, treeMaxPages, treeMaxPrefixes, treeParallel, allowPrefix,
		func(rec *output.PrefixRecord) error {
			if err := w.WritePrefix(ctx2, rec); err != nil {
				return err
			}
			tally(rec)

			if progressEvery > 0 {
				if processed%int64(progressEvery) == 0 || time.Since(lastProgress) > 10*time.Second {
					lastProgress = time.Now()
					observability.CLILogger.Info("Tree progress",
						zap.String("prefix", rec.Prefix),
						zap.Int64("prefixes_processed", processed),
						zap.Int64("prefixes_discovered", discovered),
						zap.Int64("pages", pagesTotal),
					)
				}
			}

			return nil
		},
		func(newPrefixes int) {
			discovered += int64(newPrefixes)
		},
		markPartial,
	)
	if err != nil {
		if errorsIsContext(err) {
			markPartial("timeout")
		}
		return err
	}

	dur := time.Since(start)

	if len(reasonsSet) > 0 {
		_ = w.WriteError(ctx2, &output.ErrorRecord{
			Code:    output.ErrCodeInternal,
			Message: "tree stopped early, one or more traversal limits tripped",
			Prefix:  uri.Key,
			Details: map[string]any{"reasons": sortedKeys(reasonsSet)},
		})
	}

	sum := &output.SummaryRecord{
		ObjectsFound:   totalObjects,
		ObjectsMatched: totalObjects,
		BytesTotal:     totalBytes,
		Duration:       dur,
		DurationHuman:  formatDuration(dur),
		Prefixes:       []string{uri.Key},
	}
	if len(reasonsSet) > 0 {
		sum.Errors = 1
	}

	return w.WriteSummary(ctx2, sum)
}

// buildTreeScopeFilter compiles the include/exclude patterns into a
// prefix predicate. Hidden prefixes stay visible: hiding hierarchy from
// a summary command would misreport the namespace.
func buildTreeScopeFilter(includes, excludes []string) (func(prefix string) bool, error) {
	if len(includes) == 0 && len(excludes) == 0 {
		return func(prefix string) bool { return true }, nil
	}

	cfg := match.Config{
		Includes: includes,
		Excludes: excludes,
	}
	if len(cfg.Includes) == 0 {
		cfg.Includes = []string{"**"}
	}
	m, err := match.New(cfg)
	if err != nil {
		return nil, err
	}

	return func(prefix string) bool {
		return m.Match(prefix)
	}, nil
}

// traversePrefixes walks the delimiter hierarchy breadth-first up to
// maxDepth levels. A weighted semaphore keeps at most parallel listings
// in flight. Each summarized prefix is reported through onPrefix, newly
// discovered child prefixes are counted through onDiscover, and every
// tripped safety limit is named through onPartial.
//
// Callbacks never run concurrently: onPrefix and onPartial fire one at
// a time, and onDiscover fires only between levels. Callers can write
// to shared sinks and counters without their own locking.
func traversePrefixes(
	ctx context.Context,
	dl provider.DelimiterLister,
	rootPrefix string,
	delimiter string,
	maxDepth int,
	maxObjects int,
	maxPages int,
	maxPrefixes int,
	parallel int,
	allowPrefix func(prefix string) bool,
	onPrefix func(rec *output.PrefixRecord) error,
	onDiscover func(n int),
	onPartial func(reason string),
) error {
	sem := semaphore.NewWeighted(int64(parallel))
	seen := map[string]struct{}{rootPrefix: {}}

	current := []string{rootPrefix}
	onDiscover(1)

	for depth := 0; depth <= maxDepth && len(current) > 0; depth++ {
		collect := depth < maxDepth

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			next     []string
			firstErr error
		)

		for _, prefix := range current {
			// Acquire fails only when ctx is done; stop launching
			// and let in-flight listings drain.
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}

			wg.Add(1)
			go func(prefix string) {
				defer wg.Done()
				defer sem.Release(1)

				rec, children, err := summarizeDirectPrefix(ctx, dl, prefix, delimiter, maxObjects, maxPages, collect)

				// The listing ran unlocked; everything below is
				// level bookkeeping and the serialized callbacks.
				mu.Lock()
				defer mu.Unlock()

				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				rec.Depth = depth

				if err := onPrefix(rec); err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				if !collect {
					return
				}

				for _, child := range children {
					if !allowPrefix(child) {
						continue
					}
					if _, ok := seen[child]; ok {
						continue
					}
					if len(seen) >= maxPrefixes {
						onPartial("max-prefixes")
						continue
					}
					seen[child] = struct{}{}
					next = append(next, child)
				}
			}(prefix)
		}

		wg.Wait()

		if firstErr != nil {
			return firstErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		sort.Strings(next)
		if len(next) > 0 {
			onDiscover(len(next))
		}
		current = next
	}

	return ctx.Err()
}

// summarizeDirectPrefix lists one prefix with a delimiter and aggregates
// its direct objects into a PrefixRecord. Child prefixes are always
// counted; they are returned for enqueueing only when collectChildren is
// set.
func summarizeDirectPrefix(
	ctx context.Context,
	dl provider.DelimiterLister,
	prefix string,
	delimiter string,
	maxObjects int,
	maxPages int,
	collectChildren bool,
) (*output.PrefixRecord, []string, error) {
	rec := &output.PrefixRecord{
		Prefix:    prefix,
		Delimiter: delimiter,
	}
	childrenSet := map[string]struct{}{}

	var token string
	for {
		if maxPages > 0 && rec.Pages >= int64(maxPages) {
			rec.Truncated = true
			rec.TruncatedReason = "max-pages"
			break
		}

		res, err := dl.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{
			Prefix:            prefix,
			Delimiter:         delimiter,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, nil, err
		}
		rec.Pages++

		for _, cp := range res.CommonPrefixes {
			childrenSet[cp] = struct{}{}
		}
		for _, obj := range res.Objects {
			if maxObjects > 0 && rec.ObjectsDirect >= int64(maxObjects) {
				rec.Truncated = true
				rec.TruncatedReason = "max-objects"
				break
			}
			rec.ObjectsDirect++
			rec.BytesDirect += obj.Size
		}

		if rec.Truncated || !res.IsTruncated || res.ContinuationToken == "" {
			break
		}
		token = res.ContinuationToken
	}

	rec.CommonPrefixes = int64(len(childrenSet))

	if !collectChildren {
		return rec, nil, nil
	}

	children := make([]string, 0, len(childrenSet))
	for cp := range childrenSet {
		children = append(children, cp)
	}
	sort.Strings(children)
	return rec, children, nil
}

func outputTreeTable(rec *output.PrefixRecord) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if err := outputTreeTableHeader(tw); err != nil {
		return err
	}
	if err := outputTreeTableRow(tw, rec); err != nil {
		return err
	}
	return tw.Flush()
}

func outputTreeTableHeader(tw *tabwriter.Writer) error {
	_, err := fmt.Fprintln(tw, "PREFIX\tDEPTH\tOBJECTS\tBYTES\tCOMMON_PREFIXES\tPAGES\tTRUNCATED")
	return err
}

func outputTreeTableRow(tw *tabwriter.Writer, rec *output.PrefixRecord) error {
	trunc := "no"
	switch {
	case rec.Truncated && rec.TruncatedReason != "":
		trunc = "yes (" + rec.TruncatedReason + ")"
	case rec.Truncated:
		trunc = "yes"
	}

	_, err := fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t%d\t%s\n",
		rec.Prefix,
		rec.Depth,
		rec.ObjectsDirect,
		formatSize(rec.BytesDirect),
		rec.CommonPrefixes,
		rec.Pages,
		trunc,
	)
	return err
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func errorsIsContext(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
