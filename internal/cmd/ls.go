package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goscour/internal/observability"
	"github.com/3leaps/goscour/pkg/lister"
	"github.com/3leaps/goscour/pkg/match"
	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/provider"
)

var lsCmd = &cobra.Command{
	Use:   "ls <uri>",
	Short: "List objects matching a target",
	Long: `List objects in cloud storage.

Listing is lazy: objects stream out as provider pages arrive, so large
prefixes list in constant memory. The default output is JSONL object
records, which rm --from-list accepts unchanged; list, review, then
replay the reviewed file as a removal source.

Without --recursive a prefix lists one level, with child prefixes shown
as prefix records. A glob pattern implies recursion.

Example:
  goscour ls s3://bucket/path/to/object.txt
  goscour ls s3://bucket/prefix/
  goscour ls --recursive s3://bucket/prefix/
  goscour ls 's3://bucket/data/**/*.parquet'
  goscour ls --recursive --older-than 90d s3://bucket/logs/ > candidates.jsonl
  goscour ls s3://bucket/prefix/ --table --limit 10`,
	Args: cobra.ExactArgs(1),
	RunE: runLs,
}

var (
	lsRecursive bool
	lsIncludes  []string
	lsExcludes  []string
	lsOlderThan string
	lsNewerThan string
	lsLimit     int
	lsTable     bool
	lsRegion    string
	lsProfile   string
	lsEndpoint  string
)

func init() {
	rootCmd.AddCommand(lsCmd)

	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "R", false, "List the whole subtree under a prefix")
	lsCmd.Flags().StringArrayVar(&lsIncludes, "include", nil, "Glob pattern objects must match (repeatable)")
	lsCmd.Flags().StringArrayVar(&lsExcludes, "exclude", nil, "Glob pattern that excludes objects (repeatable)")
	lsCmd.Flags().StringVar(&lsOlderThan, "older-than", "", "Only list objects modified before an age (30d, 12h) or ISO date")
	lsCmd.Flags().StringVar(&lsNewerThan, "newer-than", "", "Only list objects modified after an age (30d, 12h) or ISO date")
	lsCmd.Flags().IntVarP(&lsLimit, "limit", "n", 0, "Max objects to list (0 = unlimited)")
	lsCmd.Flags().BoolVar(&lsTable, "table", false, "Output a formatted table instead of JSONL")
	lsCmd.Flags().StringVarP(&lsRegion, "region", "r", "", "AWS region")
	lsCmd.Flags().StringVarP(&lsProfile, "profile", "p", "", "AWS credential profile")
	lsCmd.Flags().StringVar(&lsEndpoint, "endpoint", "", "Custom endpoint URL for S3-compatible storage")
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	uri := args[0]

	parsed, err := ParseURI(uri)
	if err != nil {
		observability.CLILogger.Error("Invalid URI", zap.String("uri", uri), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}

	observability.CLILogger.Debug("Parsed URI",
		zap.String("provider", parsed.Provider),
		zap.String("bucket", parsed.Bucket),
		zap.String("key", parsed.Key),
		zap.String("pattern", parsed.Pattern))

	prov, err := openProvider(ctx, parsed, lsRegion, lsProfile, lsEndpoint)
	if err != nil {
		observability.CLILogger.Error("Failed to create provider", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
	}
	defer func() { _ = prov.Close() }()

	// An exact object key resolves with Head rather than a prefix
	// listing, which could return unrelated neighbors (object.txt vs
	// object.txt.bak).
	if !parsed.IsPattern() && !parsed.IsPrefix() {
		return lsExactKey(ctx, prov, parsed)
	}

	l, err := buildLsLister(prov, parsed)
	if err != nil {
		return err
	}

	if lsTable {
		return lsStreamTable(ctx, l)
	}
	return lsStreamJSONL(ctx, l, parsed.Provider)
}

func lsExactKey(ctx context.Context, prov provider.Provider, parsed *ObjectURI) error {
	meta, err := prov.Head(ctx, parsed.Key)
	if err != nil {
		if provider.IsNotFound(err) {
			observability.CLILogger.Error("Object not found", zap.String("key", parsed.Key))
			return exitError(foundry.ExitFileNotFound, "Object not found", err)
		}
		observability.CLILogger.Error("Failed to inspect object", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to inspect object", err)
	}

	if lsTable {
		return printLsTable([]lsRow{{
			key:      meta.Key,
			size:     meta.Size,
			modified: meta.LastModified,
		}})
	}

	w := output.NewJSONLWriter(os.Stdout, uuid.New().String(), parsed.Provider)
	defer func() { _ = w.Close() }()
	return w.WriteObject(ctx, &output.ObjectRecord{
		Key:          meta.Key,
		Size:         meta.Size,
		ETag:         meta.ETag,
		LastModified: meta.LastModified,
	})
}

// buildLsLister assembles the same matching engine rm uses, so a
// listing previews exactly what a removal with the same flags would
// target.
func buildLsLister(prov provider.Provider, parsed *ObjectURI) (*lister.Lister, error) {
	includes := lsIncludes
	if parsed.IsPattern() {
		pattern := strings.TrimPrefix(parsed.Pattern, parsed.Key)
		includes = append([]string{pattern}, lsIncludes...)
	}

	matcher, err := match.New(match.Config{
		Includes:   includes,
		Excludes:   lsExcludes,
		SkipHidden: true,
	})
	if err != nil {
		observability.CLILogger.Error("Invalid match patterns", zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid match patterns", err)
	}

	filter, err := lsFilter()
	if err != nil {
		return nil, err
	}

	// A glob decides its own depth, so patterns always list recursively.
	l := lister.New(prov, parsed.Key, matcher, lister.Config{
		Recursive: lsRecursive || parsed.IsPattern(),
	})
	if filter != nil {
		l.WithFilter(filter)
	}
	return l, nil
}

// lsFilter maps the date flags onto a composite filter.
func lsFilter() (*match.CompositeFilter, error) {
	if lsOlderThan == "" && lsNewerThan == "" {
		return nil, nil
	}

	modified := &match.DateFilterConfig{}
	if lsOlderThan != "" {
		cutoff, err := resolveAgeOrDate(lsOlderThan)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid --older-than value", err)
		}
		modified.Before = cutoff
	}
	if lsNewerThan != "" {
		cutoff, err := resolveAgeOrDate(lsNewerThan)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid --newer-than value", err)
		}
		modified.After = cutoff
	}
	return match.NewFilterFromConfig(&match.FilterConfig{Modified: modified})
}

// lsStreamJSONL pulls candidates and writes one record per line as they
// arrive.
func lsStreamJSONL(ctx context.Context, l *lister.Lister, providerName string) error {
	w := output.NewJSONLWriter(os.Stdout, uuid.New().String(), providerName)
	defer func() { _ = w.Close() }()

	count := 0
	for lsLimit == 0 || count < lsLimit {
		cand, err := l.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			observability.CLILogger.Error("Failed to list objects", zap.Error(err))
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list objects", err)
		}

		if cand.SyntheticFolder {
			if err := w.WritePrefix(ctx, &output.PrefixRecord{
				Prefix:    cand.Key,
				Delimiter: lister.DefaultDelimiter,
			}); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write record", err)
			}
			continue
		}

		if err := w.WriteObject(ctx, &output.ObjectRecord{
			Key:          cand.Key,
			Size:         cand.Size,
			ETag:         cand.ETag,
			LastModified: cand.LastModified,
		}); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write record", err)
		}
		count++
	}

	stats := l.Stats()
	observability.CLILogger.Debug("Listing completed",
		zap.Int64("objects_listed", stats.ObjectsListed),
		zap.Int64("objects_matched", stats.ObjectsMatched),
		zap.Int64("bytes_matched", stats.BytesMatched),
		zap.Int64("pages", stats.Pages))
	return nil
}

// lsStreamTable buffers rows for aligned display. Table mode is for
// human eyes; unbounded listings should stay on JSONL or pass --limit.
func lsStreamTable(ctx context.Context, l *lister.Lister) error {
	var rows []lsRow
	count := 0
	for lsLimit == 0 || count < lsLimit {
		cand, err := l.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			observability.CLILogger.Error("Failed to list objects", zap.Error(err))
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list objects", err)
		}

		if cand.SyntheticFolder {
			rows = append(rows, lsRow{key: cand.Key, dir: true})
			continue
		}
		rows = append(rows, lsRow{key: cand.Key, size: cand.Size, modified: cand.LastModified})
		count++
	}
	return printLsTable(rows)
}

// lsRow is one display row: an object or a child prefix.
type lsRow struct {
	key      string
	size     int64
	modified time.Time
	dir      bool
}

// printLsTable writes rows as a formatted table to stdout.
func printLsTable(rows []lsRow) error {
	if len(rows) == 0 {
		fmt.Println("No objects found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(w, "KEY\tSIZE\tMODIFIED"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var objects int
	var totalSize int64
	for _, row := range rows {
		if row.dir {
			if _, err := fmt.Fprintf(w, "%s\tDIR\t-\n", row.key); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
			continue
		}
		objects++
		totalSize += row.size
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n",
			row.key,
			formatSize(row.size),
			row.modified.Format("2006-01-02 15:04:05")); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	fmt.Println()
	fmt.Printf("Found %d object(s) (%s total)\n", objects, formatSize(totalSize))

	return nil
}

// formatSize formats bytes as human-readable size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
