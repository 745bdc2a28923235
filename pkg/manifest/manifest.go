// Package manifest provides loading and validation of goscour job manifests.
//
// A job manifest is a YAML or JSON file that configures all aspects of a
// removal job: provider connection, pattern matching, removal behavior,
// journaling, and output.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// execution. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	connection:
//	  provider: s3
//	  bucket: my-data-bucket
//	  prefix: logs/
//	match:
//	  includes:
//	    - "2024/**/*.log"
//	  excludes:
//	    - "**/_keep/**"
//	remove:
//	  workers: 8
//	  fail_fast: true
//	journal:
//	  path: ./scour-journal.db
//	output:
//	  destination: stdout
package manifest

// Manifest represents a validated removal job manifest.
//
// A manifest configures all aspects of a removal job. Required fields are
// Version, Connection, and Match. Remove, Journal, and Output are optional
// with sensible defaults.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	// Example: "https://schemas.3leaps.dev/goscour/v1.0.0/removal-manifest.schema.json"
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Connection configures the cloud storage provider.
	Connection ConnectionConfig `json:"connection" yaml:"connection"`

	// Match configures object filtering by glob patterns.
	Match MatchConfig `json:"match" yaml:"match"`

	// Remove configures removal behavior (optional).
	Remove RemoveConfig `json:"remove,omitempty" yaml:"remove,omitempty"`

	// Journal configures the removal journal (optional; nil disables it).
	Journal *JournalConfig `json:"journal,omitempty" yaml:"journal,omitempty"`

	// Output configures output destination and format (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// ConnectionConfig configures the cloud storage provider connection.
type ConnectionConfig struct {
	// Provider is the storage provider type: "s3" or "file".
	Provider string `json:"provider" yaml:"provider"`

	// Bucket is the bucket name (or root directory for the file provider).
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is the base key prefix the job operates under. Optional.
	// Match patterns are evaluated relative to this prefix.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// Region is the AWS region (e.g., "us-east-1"). Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom endpoint URL for S3-compatible storage. Optional.
	// Example: "https://s3.wasabisys.com"
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Profile is the AWS credential profile name. Optional.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// MatchConfig configures object filtering by glob patterns and metadata filters.
type MatchConfig struct {
	// Includes is a list of glob patterns for objects to include.
	// At least one pattern is required.
	Includes []string `json:"includes" yaml:"includes"`

	// Excludes is a list of glob patterns for objects to exclude. Optional.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`

	// IncludeHidden includes hidden files (starting with .). Default: false.
	IncludeHidden bool `json:"include_hidden,omitempty" yaml:"include_hidden,omitempty"`

	// Filters specifies additional metadata-based filters. Optional.
	// Filters are applied after glob pattern matching with AND semantics.
	Filters *FilterConfig `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// FilterConfig specifies metadata-based object filters.
// All filters are optional and compose with AND semantics.
type FilterConfig struct {
	// Size specifies min/max size constraints.
	// Supports human-readable values: "1KB", "100MiB", "1GB".
	Size *SizeFilterConfig `json:"size,omitempty" yaml:"size,omitempty"`

	// Modified specifies last-modified date range constraints.
	// Dates are in ISO 8601 format: "2024-01-15" or "2024-01-15T10:30:00Z".
	Modified *DateFilterConfig `json:"modified,omitempty" yaml:"modified,omitempty"`

	// ContentType specifies allowed MIME types.
	// Requires enrichment (HEAD calls) to evaluate.
	ContentType []string `json:"content_type,omitempty" yaml:"content_type,omitempty"`

	// KeyRegex is a regex pattern applied to object keys after glob matching.
	// Use for patterns not expressible with globs, e.g., "TXN-\\d{8}".
	KeyRegex string `json:"key_regex,omitempty" yaml:"key_regex,omitempty"`
}

// SizeFilterConfig specifies size constraints.
type SizeFilterConfig struct {
	// Min is the minimum size (inclusive).
	// Supports: raw bytes "1024", base-10 "1KB", base-2 "1KiB".
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum size (inclusive).
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// DateFilterConfig specifies date range constraints.
type DateFilterConfig struct {
	// After filters to objects modified at or after this time (inclusive).
	After string `json:"after,omitempty" yaml:"after,omitempty"`

	// Before filters to objects modified before this time (exclusive end).
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
}

// RemoveConfig configures removal behavior.
//
// All fields are optional with sensible defaults applied during loading.
type RemoveConfig struct {
	// Workers is the number of concurrent delete workers.
	// Range: 1-64. Default: 8.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// QueueSize bounds how many candidates may be admitted ahead of the
	// workers. Default: 2x workers.
	QueueSize int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`

	// FailFast stops admitting new candidates after the first failure.
	// Default: false.
	FailFast bool `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`

	// Recursive lists the whole subtree under the prefix. Default: true
	// for manifest jobs.
	Recursive *bool `json:"recursive,omitempty" yaml:"recursive,omitempty"`

	// BatchSize groups deletes into multi-object requests when the
	// provider supports them. 0 issues per-key deletes. Max: 1000.
	BatchSize int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`

	// RateLimit is the maximum list requests per second (0 = unlimited).
	// Default: 0.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// ProgressEvery controls progress record frequency.
	// A progress record is emitted every N completed removals.
	// Default: 1000.
	ProgressEvery int `json:"progress_every,omitempty" yaml:"progress_every,omitempty"`

	// Preflight configures permission checks and provider probes.
	Preflight PreflightConfig `json:"preflight,omitempty" yaml:"preflight,omitempty"`

	// Scope compiles into an explicit prefix plan before listing. Optional.
	Scope *ScopeConfig `json:"scope,omitempty" yaml:"scope,omitempty"`

	// Shard expands the base prefix into per-shard prefixes via delimiter
	// discovery. Optional.
	Shard *ShardConfig `json:"shard,omitempty" yaml:"shard,omitempty"`
}

// PreflightConfig controls how aggressively goscour probes permissions.
//
// Preflight is a capability contract, not a data operation.
// - plan-only: no provider calls
// - read-safe: no writes/deletes
// - delete-probe: explicit opt-in put+delete of a scratch key to prove
//   delete permission before the bulk run
//
// Values are schema-validated.
type PreflightConfig struct {
	Mode          string `json:"mode,omitempty" yaml:"mode,omitempty"`
	ProbeStrategy string `json:"probe_strategy,omitempty" yaml:"probe_strategy,omitempty"`
	ProbePrefix   string `json:"probe_prefix,omitempty" yaml:"probe_prefix,omitempty"`
}

// ScopeConfig narrows a removal job to an explicit prefix plan.
//
// Types:
//   - prefix_list: literal prefixes under base_prefix
//   - union: concatenation of child scopes
//   - date_partitions: date-range expansion over a partitioned layout,
//     with optional discovery of intermediate segments
type ScopeConfig struct {
	// Type is the scope type: "prefix_list", "union", or "date_partitions".
	Type string `json:"type" yaml:"type"`

	// BasePrefix is joined under the job prefix before expansion. Optional.
	BasePrefix string `json:"base_prefix,omitempty" yaml:"base_prefix,omitempty"`

	// Delimiter separates key segments. Default: "/".
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`

	// Prefixes lists literal prefixes (prefix_list).
	Prefixes []string `json:"prefixes,omitempty" yaml:"prefixes,omitempty"`

	// Scopes lists child scopes (union).
	Scopes []ScopeConfig `json:"scopes,omitempty" yaml:"scopes,omitempty"`

	// Discover configures segment discovery for date_partitions.
	Discover *ScopeDiscoverConfig `json:"discover,omitempty" yaml:"discover,omitempty"`

	// Date configures the date range for date_partitions.
	Date *ScopeDateConfig `json:"date,omitempty" yaml:"date,omitempty"`
}

// ScopeDiscoverConfig configures discovery of intermediate path segments.
type ScopeDiscoverConfig struct {
	// Segments configures allow/deny rules per segment index.
	Segments []ScopeDiscoverSegment `json:"segments,omitempty" yaml:"segments,omitempty"`
}

// ScopeDiscoverSegment filters discovered values at one segment index.
type ScopeDiscoverSegment struct {
	// Index is the zero-based segment position under the scope root.
	Index int `json:"index" yaml:"index"`

	// Allow lists exact segment values to keep. Empty allows all.
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`

	// Deny lists exact segment values to drop.
	Deny []string `json:"deny,omitempty" yaml:"deny,omitempty"`

	// GlobAllow lists glob patterns a value must match.
	GlobAllow []string `json:"glob_allow,omitempty" yaml:"glob_allow,omitempty"`

	// GlobDeny lists glob patterns that drop a value.
	GlobDeny []string `json:"glob_deny,omitempty" yaml:"glob_deny,omitempty"`
}

// ScopeDateConfig configures date-partition expansion.
type ScopeDateConfig struct {
	// SegmentIndex is the zero-based segment position holding the date.
	SegmentIndex int `json:"segment_index" yaml:"segment_index"`

	// Format is the Go time layout for date segments. Default: "2006-01-02".
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Range bounds the dates to expand.
	Range *ScopeDateRange `json:"range" yaml:"range"`

	// Glob optionally constrains date segment values.
	Glob string `json:"glob,omitempty" yaml:"glob,omitempty"`
}

// ScopeDateRange is a half-open date interval [after, before).
type ScopeDateRange struct {
	// After is the inclusive start date.
	After string `json:"after" yaml:"after"`

	// Before is the exclusive end date.
	Before string `json:"before" yaml:"before"`
}

// ShardConfig expands the base prefix into shard prefixes for large flat
// layouts.
type ShardConfig struct {
	// Enabled turns shard discovery on. Default: false.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Depth is how many delimiter levels to expand. Range: 1-8. Default: 1.
	Depth int `json:"depth,omitempty" yaml:"depth,omitempty"`

	// MaxShards caps the number of shard prefixes (0 = unlimited).
	MaxShards int `json:"max_shards,omitempty" yaml:"max_shards,omitempty"`

	// ListConcurrency is the number of concurrent discovery listings.
	// Range: 1-32. Default: 1.
	ListConcurrency int `json:"list_concurrency,omitempty" yaml:"list_concurrency,omitempty"`

	// Delimiter separates key segments. Default: "/".
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
}

// JournalConfig configures the removal journal.
type JournalConfig struct {
	// Path is a local filesystem path for the journal database.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// URL is a libsql/Turso URL for a remote journal (cgo builds).
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// AuthTokenEnv names an environment variable holding the auth token
	// for URL journals. The token itself never lives in the manifest.
	AuthTokenEnv string `json:"auth_token_env,omitempty" yaml:"auth_token_env,omitempty"`

	// Resume skips keys the journal already marks deleted. Default: false.
	Resume bool `json:"resume,omitempty" yaml:"resume,omitempty"`
}

// OutputConfig configures output destination and format.
//
// All fields are optional with sensible defaults applied during loading.
type OutputConfig struct {
	// Destination is the output target.
	// Values: "stdout" or "file:/path/to/output.jsonl"
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Progress enables progress record emission during removal.
	// Default: true.
	Progress *bool `json:"progress,omitempty" yaml:"progress,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultWorkers is the default number of concurrent delete workers.
	DefaultWorkers = 8

	// DefaultRateLimit is the default rate limit (0 = unlimited).
	DefaultRateLimit = 0.0

	// DefaultProgressEvery is the default progress emission frequency.
	DefaultProgressEvery = 1000

	// DefaultDestination is the default output destination.
	DefaultDestination = "stdout"

	// DefaultProgress is the default value for progress emission.
	DefaultProgress = true

	// DefaultRecursive is the default for manifest-driven listing.
	DefaultRecursive = true

	// DefaultPreflightMode is the default preflight mode.
	DefaultPreflightMode = "read-safe"

	// DefaultProbeStrategy is the default provider probe strategy.
	DefaultProbeStrategy = "put-delete"

	// DefaultProbePrefix is the default prefix under which probe keys are created.
	DefaultProbePrefix = "_goscour/probe/"

	// DefaultShardDepth is the default shard discovery depth.
	DefaultShardDepth = 1
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest to ensure
// all optional fields have sensible values.
func (m *Manifest) ApplyDefaults() {
	// Remove defaults
	if m.Remove.Workers == 0 {
		m.Remove.Workers = DefaultWorkers
	}
	if m.Remove.QueueSize == 0 {
		m.Remove.QueueSize = 2 * m.Remove.Workers
	}
	if m.Remove.ProgressEvery == 0 {
		m.Remove.ProgressEvery = DefaultProgressEvery
	}
	if m.Remove.Recursive == nil {
		recursive := DefaultRecursive
		m.Remove.Recursive = &recursive
	}
	// RateLimit: 0 is a valid value (unlimited), so no default needed
	// BatchSize: 0 is a valid value (per-key deletes), so no default needed

	// Preflight defaults (schema applies defaults too, but we normalize here
	// so callers don't need to reason about empty strings).
	if m.Remove.Preflight.Mode == "" {
		m.Remove.Preflight.Mode = DefaultPreflightMode
	}
	if m.Remove.Preflight.ProbeStrategy == "" {
		m.Remove.Preflight.ProbeStrategy = DefaultProbeStrategy
	}
	if m.Remove.Preflight.ProbePrefix == "" {
		m.Remove.Preflight.ProbePrefix = DefaultProbePrefix
	}

	// Shard defaults
	if m.Remove.Shard != nil && m.Remove.Shard.Enabled {
		if m.Remove.Shard.Depth == 0 {
			m.Remove.Shard.Depth = DefaultShardDepth
		}
	}

	// Output defaults
	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
	if m.Output.Progress == nil {
		defaultProgress := DefaultProgress
		m.Output.Progress = &defaultProgress
	}
}

// RecursiveEnabled returns whether the job lists the whole subtree.
// Returns the configured value, or DefaultRecursive if not set.
func (r *RemoveConfig) RecursiveEnabled() bool {
	if r.Recursive == nil {
		return DefaultRecursive
	}
	return *r.Recursive
}

// ProgressEnabled returns whether progress records should be emitted.
// Returns the configured value, or DefaultProgress if not set.
func (o *OutputConfig) ProgressEnabled() bool {
	if o.Progress == nil {
		return DefaultProgress
	}
	return *o.Progress
}
