// Package s3 implements the storage provider for AWS S3 and S3-compatible
// object stores. Removal jobs lean on three calls here: paginated listing
// to find keys, Head to spot-check survivors, and DeleteObjects to remove
// keys a batch at a time.
package s3

// Config configures an S3 provider.
//
// Credentials resolve through the SDK v2 default chain unless
// AccessKeyID/SecretAccessKey pin them explicitly. The chain reads
// environment variables first, then the shared credentials and config
// files (honoring Profile), then instance or task roles.
//
// Region resolution depends on the target. Against AWS an unset Region
// falls back to us-east-1. Against a custom Endpoint no fallback applies;
// compatible stores either ignore the region or, like Wasabi, want the
// one their endpoint names.
type Config struct {
	// Bucket names the S3 bucket. Required.
	Bucket string

	// Region is the AWS region. Empty means us-east-1 against AWS and
	// stays empty against a custom Endpoint.
	Region string

	// Endpoint points at an S3-compatible store, such as
	// https://s3.wasabisys.com or a local http://localhost:9000 MinIO.
	// Empty means AWS S3.
	Endpoint string

	// Profile selects a shared-config profile. Empty uses the default
	// profile or whatever the environment provides.
	Profile string

	// AccessKeyID and SecretAccessKey pin static credentials, bypassing
	// the default chain. Set both or neither.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the URL path instead of the
	// subdomain. Most compatible stores require it.
	ForcePathStyle bool

	// MaxKeys is the page size for List. Zero means DefaultMaxKeys;
	// values past MaxAllowedKeys clamp.
	MaxKeys int
}

// S3 caps both listing pages and delete batches at 1000 keys.
const (
	// DefaultMaxKeys is the page size used when Config.MaxKeys is zero.
	DefaultMaxKeys = 1000

	// MaxAllowedKeys is the largest page size the protocol accepts.
	MaxAllowedKeys = 1000

	// MaxDeleteBatch is the most keys one DeleteObjects call takes.
	MaxDeleteBatch = 1000
)

// DefaultAWSRegion applies when neither Config nor environment names a
// region and no custom endpoint is in play.
const DefaultAWSRegion = "us-east-1"

// Validate checks required fields and credential pairing.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	// Static credentials only work as a pair.
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError describes a rejected Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
