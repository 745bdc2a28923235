package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/3leaps/goscour/internal/errors"
	"github.com/3leaps/goscour/internal/observability"
)

var (
	doctorProvider string
	doctorRegion   string
	doctorEndpoint string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  goscour doctor                 # Full environment check
  goscour doctor --provider s3   # Also check credentials, region, and IMDS
  goscour doctor --provider s3 --endpoint http://localhost:9000`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
	doctorCmd.Flags().StringVarP(&doctorRegion, "region", "r", "", "Region to validate instead of the resolved default")
	doctorCmd.Flags().StringVar(&doctorEndpoint, "endpoint", "", "Endpoint URL to validate for S3-compatible storage")
}

func runDoctor(cmd *cobra.Command, args []string) {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 5

	if doctorProvider == "s3" {
		totalChecks = 9
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible access
	version := crucible.GetVersion()
	if version.Crucible != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			errwrap.NewExternalServiceError("Crucible service unavailable"))
	}
	checkNum++

	// Check 3: Gofulmen access
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 4: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
			zap.String("config_dir", configDir))
	}
	checkNum++

	// Check 5: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorProvider == "s3" {
		allChecks = runS3Checks(cmd.Context(), checkNum, totalChecks) && allChecks
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// runS3Checks probes the credential chain, region resolution, IMDS
// reachability, and endpoint sanity.
func runS3Checks(ctx context.Context, checkNum, totalChecks int) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Provider Checks:")

	allChecks := true

	// Check 6: AWS credentials
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		allChecks = false
	} else {
		maskedKey := maskAccessKey(creds.AccessKeyID)
		source := creds.Source
		if source == "" {
			source = "unknown"
		}
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials (%s)", checkNum, totalChecks, source),
			zap.String("access_key", maskedKey),
			zap.String("source", source))
	}
	checkNum++

	// Check 7: Region resolution
	region := doctorRegion
	if region == "" {
		region = cfg.Region
	}
	if region == "" {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking region... ⚠️  No region resolved", checkNum, totalChecks))
		observability.CLILogger.Info("  Set AWS_REGION, configure a profile region, or pass --region")
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking region... ✅ %s", checkNum, totalChecks, region),
			zap.String("region", region))
	}
	checkNum++

	// Check 8: EC2 IMDS reachability. Off EC2 this fails fast, which is
	// the expected result, not a problem.
	imdsCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	doc, err := imds.NewFromConfig(cfg).GetInstanceIdentityDocument(imdsCtx, &imds.GetInstanceIdentityDocumentInput{})
	cancel()
	if err != nil {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking EC2 IMDS... ✅ Not reachable (normal outside EC2)", checkNum, totalChecks))
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking EC2 IMDS... ✅ Reachable (instance %s, region %s)", checkNum, totalChecks,
			doc.InstanceID, doc.Region),
			zap.String("instance_id", doc.InstanceID),
			zap.String("imds_region", doc.Region))
	}
	checkNum++

	// Check 9: Endpoint sanity
	endpoint := doctorEndpoint
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT_URL")
	}
	if endpoint == "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking endpoint... ✅ Using AWS default endpoints", checkNum, totalChecks))
	} else if reason := endpointSanity(endpoint); reason != "" {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking endpoint... ❌ %s: %s", checkNum, totalChecks, endpoint, reason),
			zap.String("endpoint", endpoint))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking endpoint... ✅ %s", checkNum, totalChecks, endpoint),
			zap.String("endpoint", endpoint))
		if u, err := url.Parse(endpoint); err == nil && u.Scheme == "http" {
			observability.CLILogger.Warn("  Endpoint uses plaintext http; credentials travel unencrypted")
		}
	}

	return allChecks
}

// endpointSanity validates an endpoint URL, returning an empty string
// when it is usable and a reason when it is not.
func endpointSanity(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Sprintf("not a valid URL (%v)", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("unsupported scheme %q (expected http or https)", u.Scheme)
	}
	if u.Host == "" {
		return "missing host"
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Sprintf("unexpected path %q (bucket names belong in the URI, not the endpoint)", u.Path)
	}
	return ""
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use an IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - AWS_ENDPOINT_URL or use --endpoint flag")
	observability.CLILogger.Info("")
}
