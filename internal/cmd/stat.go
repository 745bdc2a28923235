package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goscour/internal/observability"
	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/provider"
)

var statCmd = &cobra.Command{
	Use:   "stat <uri> [key...]",
	Short: "Show object metadata via HEAD",
	Long: `Show full metadata for one or more objects.

stat issues HEAD requests only; object bodies are never downloaded.
Each probed key emits one JSONL object record carrying size, etag,
content type, and user metadata. Extra keys are resolved against the
first argument's bucket and prefix and probed by a worker pool.

Example:
  goscour stat s3://bucket/data/file.parquet
  goscour stat s3://bucket/data/ part-0001.parquet part-0002.parquet
  goscour stat --stdin s3://bucket/logs/ < keys.txt`,
	Args: validateStatArgs,
	RunE: runStat,
}

var (
	statConcurrency int
	statStdin       bool
	statRegion      string
	statProfile     string
	statEndpoint    string
)

func init() {
	rootCmd.AddCommand(statCmd)

	statCmd.Flags().IntVar(&statConcurrency, "concurrency", 8, "Number of concurrent HEAD requests")
	statCmd.Flags().BoolVar(&statStdin, "stdin", false, "Read keys from stdin, one per line, resolved against <uri>")
	statCmd.Flags().StringVarP(&statRegion, "region", "r", "", "AWS region")
	statCmd.Flags().StringVarP(&statProfile, "profile", "p", "", "AWS credential profile")
	statCmd.Flags().StringVar(&statEndpoint, "endpoint", "", "Custom endpoint URL for S3-compatible storage")
}

func validateStatArgs(cmd *cobra.Command, args []string) error {
	stdin, _ := cmd.Flags().GetBool("stdin")
	if stdin {
		if len(args) != 1 {
			return fmt.Errorf("with --stdin, pass exactly one <uri> naming the bucket or prefix keys resolve against")
		}
		return nil
	}
	if len(args) < 1 {
		return fmt.Errorf("requires at least 1 argument: <uri>")
	}
	return nil
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if statConcurrency < 1 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --concurrency value", fmt.Errorf("concurrency must be >= 1"))
	}

	parsed, err := ParseURI(args[0])
	if err != nil {
		observability.CLILogger.Error("Invalid URI", zap.String("uri", args[0]), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}

	extra := args[1:]
	if statStdin {
		lines, err := readKeyLines(cmd.InOrStdin())
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to read stdin", err)
		}
		extra = append(extra, lines...)
	}

	keys, err := statKeys(parsed, extra)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid stat target", err)
	}
	if len(keys) == 0 {
		return nil
	}

	prov, err := openProvider(ctx, parsed, statRegion, statProfile, statEndpoint)
	if err != nil {
		observability.CLILogger.Error("Failed to create provider", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
	}
	defer func() { _ = prov.Close() }()

	w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.New().String(), parsed.Provider)
	defer func() { _ = w.Close() }()

	var (
		invalidCount    atomic.Int64
		serviceErrCount atomic.Int64
	)

	tasks := make(chan string, statConcurrency*2)
	var wg sync.WaitGroup
	for i := 0; i < statConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range tasks {
				if ctx.Err() != nil {
					return
				}
				meta, err := prov.Head(ctx, key)
				if err != nil {
					// A missing key is a bad input, not a provider
					// outage; the two roll up to different exit codes.
					if provider.IsNotFound(err) {
						invalidCount.Add(1)
					} else {
						serviceErrCount.Add(1)
					}
					emitStatError(w, key, "head failed", err)
					continue
				}
				rec := &output.ObjectRecord{
					Key:          key,
					Size:         meta.Size,
					ETag:         meta.ETag,
					LastModified: meta.LastModified,
					ContentType:  meta.ContentType,
					Metadata:     meta.Metadata,
				}
				if err := w.WriteObject(ctx, rec); err != nil {
					observability.CLILogger.Error("Failed to write record", zap.Error(err))
					serviceErrCount.Add(1)
					return
				}
			}
		}()
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		select {
		case tasks <- key:
		case <-ctx.Done():
		}
	}
	close(tasks)
	wg.Wait()

	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "stat cancelled", ctx.Err())
	}
	if invalidCount.Load() > 0 {
		return exitError(foundry.ExitInvalidArgument, "stat completed with invalid inputs", fmt.Errorf("invalid_inputs=%d", invalidCount.Load()))
	}
	if serviceErrCount.Load() > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "stat completed with errors", fmt.Errorf("errors=%d", serviceErrCount.Load()))
	}
	return nil
}

// statKeys resolves the probe targets. Extra keys, from arguments or
// stdin, join onto the base URI's prefix so a reviewed key list can be
// replayed against any bucket without rewriting each line.
func statKeys(parsed *ObjectURI, extra []string) ([]string, error) {
	if parsed.IsPattern() {
		return nil, fmt.Errorf("glob patterns are not supported; use ls to enumerate matching objects")
	}
	if len(extra) == 0 {
		if parsed.IsPrefix() {
			return nil, fmt.Errorf("%s is a prefix; name an object key or pass keys as extra arguments", parsed.String())
		}
		return []string{parsed.Key}, nil
	}
	if !parsed.IsPrefix() {
		return nil, fmt.Errorf("extra keys require a bucket or prefix URI, got exact key %s", parsed.String())
	}

	keys := make([]string, 0, len(extra))
	for _, k := range extra {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		keys = append(keys, parsed.Key+strings.TrimPrefix(k, "/"))
	}
	return keys, nil
}

func readKeyLines(r io.Reader) ([]string, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1024*1024)

	var out []string
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// emitStatError records a per-key failure without failing the run; the
// exit code carries the aggregate outcome.
func emitStatError(w output.Writer, key, msg string, err error) {
	rec := &output.ErrorRecord{
		Code:    statErrorCode(err),
		Message: fmt.Sprintf("%s: %s", msg, err.Error()),
		Key:     key,
	}
	if werr := w.WriteError(context.Background(), rec); werr != nil {
		observability.CLILogger.Debug("Failed to emit stat error record", zap.Error(werr))
	}
}

func statErrorCode(err error) string {
	code := output.ErrCodeInternal
	switch {
	case provider.IsNotFound(err):
		code = output.ErrCodeNotFound
	case provider.IsAccessDenied(err):
		code = output.ErrCodeAccessDenied
	case provider.IsThrottled(err):
		code = output.ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		code = output.ErrCodeProviderUnavailable
	}
	return code
}
