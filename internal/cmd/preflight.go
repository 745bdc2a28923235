package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goscour/internal/observability"
	"github.com/3leaps/goscour/pkg/match"
	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/preflight"
	"github.com/3leaps/goscour/pkg/provider"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Prove permissions before destructive work",
	Long: `Prove permissions and capabilities before running a bulk removal.

Preflight emits a JSONL preflight record (goscour.preflight.v1) naming
each probed capability and whether the credentials allow it. Run it
standalone here, or attach it to a removal with rm --preflight.

Examples:
  # Plan-only: no provider calls at all
  goscour preflight rm 's3://bucket/data/**/*.parquet' --mode plan-only

  # Read-safe: listing probes only, nothing is written
  goscour preflight rm s3://bucket/logs/ --mode read-safe

  # Delete-probe: put and delete a scratch key to prove delete permission
  goscour preflight rm s3://bucket/logs/ --mode delete-probe

Safety:
  --readonly (or GOSCOUR_READONLY=1) refuses delete-probe, which is the
  only mode with provider-side mutations.`,
}

var preflightRmCmd = &cobra.Command{
	Use:   "rm <uri>",
	Short: "Preflight checks for a removal target",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreflightRm,
}

var (
	preflightRegion        string
	preflightProfile       string
	preflightEndpoint      string
	preflightMode          string
	preflightProbeStrategy string
	preflightProbePrefix   string
)

func init() {
	rootCmd.AddCommand(preflightCmd)
	preflightCmd.AddCommand(preflightRmCmd)

	preflightRmCmd.Flags().StringVarP(&preflightRegion, "region", "r", "", "AWS region")
	preflightRmCmd.Flags().StringVarP(&preflightProfile, "profile", "p", "", "AWS credential profile")
	preflightRmCmd.Flags().StringVar(&preflightEndpoint, "endpoint", "", "Custom endpoint URL for S3-compatible storage")
	preflightRmCmd.Flags().StringVar(&preflightMode, "mode", "read-safe", "Preflight mode (plan-only|read-safe|delete-probe)")
	preflightRmCmd.Flags().StringVar(&preflightProbeStrategy, "probe-strategy", "put-delete", "Delete-probe strategy (put-delete|multipart-abort)")
	preflightRmCmd.Flags().StringVar(&preflightProbePrefix, "probe-prefix", "_goscour/probe/", "Scratch prefix for probe objects")
}

func runPreflightRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	uriStr := args[0]

	parsed, err := ParseURI(uriStr)
	if err != nil {
		observability.CLILogger.Error("Invalid URI", zap.String("uri", uriStr), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}

	spec := preflight.Spec{
		Mode:          preflight.Mode(preflightMode),
		ProbeStrategy: preflight.ProbeStrategy(preflightProbeStrategy),
		ProbePrefix:   preflightProbePrefix,
	}
	switch spec.Mode {
	case preflight.ModePlanOnly, preflight.ModeReadSafe, preflight.ModeDeleteProbe:
		// ok
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --mode value", fmt.Errorf("unsupported preflight mode: %s", preflightMode))
	}
	switch spec.ProbeStrategy {
	case preflight.ProbePutDelete, preflight.ProbeMultipartAbort:
		// ok
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --probe-strategy value", fmt.Errorf("unsupported probe strategy: %s", preflightProbeStrategy))
	}
	if IsReadOnly() && spec.Mode == preflight.ModeDeleteProbe {
		return exitError(foundry.ExitInvalidArgument, "Delete-probe preflight refused", errors.New("readonly mode is enabled; the probe writes a scratch object"))
	}

	jobID := uuid.New().String()
	w := output.NewJSONLWriter(cmd.OutOrStdout(), jobID, parsed.Provider)
	defer func() { _ = w.Close() }()

	// Plan-only never creates a provider or touches an endpoint.
	if spec.Mode == preflight.ModePlanOnly {
		rec := &output.PreflightRecord{
			Mode:          string(spec.Mode),
			ProbeStrategy: string(spec.ProbeStrategy),
			ProbePrefix:   spec.ProbePrefix,
			Results:       []output.PreflightCheckResult{},
		}
		return w.WritePreflight(ctx, rec)
	}

	prov, err := openProvider(ctx, parsed, preflightRegion, preflightProfile, preflightEndpoint)
	if err != nil {
		observability.CLILogger.Error("Failed to create provider", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
	}
	defer func() { _ = prov.Close() }()

	prefixes := []string{parsed.Key}
	if parsed.IsPattern() {
		m, err := match.New(match.Config{Includes: []string{parsed.Pattern}})
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid match pattern", err)
		}
		prefixes = m.Prefixes()
	}

	rec, pfErr := preflight.Remove(ctx, prov, prefixes, spec)

	// An exact object URI also gets a Head probe: rm of a single key
	// resolves it with Head before deleting.
	if pfErr == nil && !parsed.IsPattern() && !parsed.IsPrefix() {
		pfErr = probePreflightHead(ctx, prov, parsed.Key, rec)
	}

	if err := w.WritePreflight(ctx, rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write preflight record", err)
	}
	if pfErr != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Preflight failed", pfErr)
	}
	return nil
}

func probePreflightHead(ctx context.Context, prov provider.Provider, key string, rec *output.PreflightRecord) error {
	_, err := prov.Head(ctx, key)
	// A missing object is a finding, not a permission failure: the
	// probe proves Head is allowed either way.
	if err != nil && !provider.IsNotFound(err) {
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Capability: preflight.CapTargetHead,
			Allowed:    false,
			Method:     fmt.Sprintf("Head(key=%q)", key),
			ErrorCode:  preflightErrorCode(err),
			Detail:     err.Error(),
		})
		return err
	}

	res := output.PreflightCheckResult{
		Capability: preflight.CapTargetHead,
		Allowed:    true,
		Method:     fmt.Sprintf("Head(key=%q)", key),
	}
	if provider.IsNotFound(err) {
		res.Detail = "object does not exist; removal would be a no-op"
	}
	rec.Results = append(rec.Results, res)
	return nil
}

func preflightErrorCode(err error) string {
	switch {
	case provider.IsAccessDenied(err):
		return output.ErrCodeAccessDenied
	case provider.IsBucketNotFound(err), provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	default:
		return output.ErrCodeInternal
	}
}
