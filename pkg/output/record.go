// Package output provides JSONL output for removal runs.
//
// Output is structured as typed record envelopes containing planned and
// completed removals, errors, and progress updates. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: goscour.<type>.v<version>
const (
	// TypePlan identifies dry-run plan records.
	TypePlan = "goscour.plan.v1"

	// TypeDeleted identifies completed removal records.
	TypeDeleted = "goscour.deleted.v1"

	// TypeSkip identifies records for objects listed but not removed.
	TypeSkip = "goscour.skip.v1"

	// TypeObject identifies listed object records (ls, stat).
	TypeObject = "goscour.object.v1"

	// TypePrefix identifies prefix summary records (tree).
	TypePrefix = "goscour.prefix.v1"

	// TypeError identifies error records.
	TypeError = "goscour.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "goscour.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "goscour.summary.v1"

	// TypePreflight identifies preflight capability check records.
	TypePreflight = "goscour.preflight.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "goscour.deleted.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this removal job.
	JobID string `json:"job_id"`

	// Provider identifies the storage provider (e.g., "s3", "file").
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// PlanRecord is the data payload for dry-run plan items.
//
// A plan record describes an object that would be removed if the run
// were executed without --dry-run. Size and LastModified come from the
// listing so consumers can total up the bytes a real run would free.
type PlanRecord struct {
	// Key is the full object key (path) in the bucket.
	Key string `json:"key"`

	// Size is the object size in bytes.
	Size int64 `json:"size"`

	// LastModified is when the object was last modified.
	LastModified time.Time `json:"last_modified,omitempty"`
}

// DeletedRecord is the data payload for completed removals.
type DeletedRecord struct {
	// Key is the full object key that was removed.
	Key string `json:"key"`

	// Size is the object size in bytes, as reported by the listing.
	Size int64 `json:"size,omitempty"`

	// NotFound marks removals where the provider reported the key
	// already gone. These count as successes because the desired end
	// state holds either way.
	NotFound bool `json:"not_found,omitempty"`
}

// ObjectRecord is the data payload for listed objects.
//
// ls emits one per matched object; stat emits one per probed key. A
// stream of object records is valid input for rm --from-list, so a
// reviewed listing can be replayed as a removal source.
type ObjectRecord struct {
	// Key is the full object key (path) in the bucket.
	Key string `json:"key"`

	// Size is the object size in bytes.
	Size int64 `json:"size"`

	// ETag is the entity tag, typically an MD5 hash of the object.
	ETag string `json:"etag,omitempty"`

	// LastModified is when the object was last modified.
	LastModified time.Time `json:"last_modified"`

	// ContentType is the MIME type of the object.
	// Only populated by stat (HEAD calls).
	ContentType string `json:"content_type,omitempty"`

	// Metadata contains user-defined metadata key-value pairs.
	// Only populated by stat (HEAD calls).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PrefixRecord is the data payload for per-prefix summaries.
//
// tree emits one per visited prefix to make the delimiter hierarchy,
// including folder markers, visible without a full flat listing.
type PrefixRecord struct {
	// Prefix is the prefix this record summarizes.
	Prefix string `json:"prefix"`

	// Delimiter is the delimiter used for the listing.
	Delimiter string `json:"delimiter"`

	// Depth is the traversal depth relative to the root prefix.
	Depth int `json:"depth"`

	// ObjectsDirect counts objects directly under this prefix.
	ObjectsDirect int64 `json:"objects_direct"`

	// BytesDirect is the cumulative size of direct objects.
	BytesDirect int64 `json:"bytes_direct"`

	// CommonPrefixes counts immediate child prefixes.
	CommonPrefixes int64 `json:"common_prefixes"`

	// Pages is the number of list pages fetched.
	Pages int64 `json:"pages"`

	// Truncated is true when limits stopped the summary early.
	Truncated bool `json:"truncated,omitempty"`

	// TruncatedReason names the limit that stopped the summary.
	TruncatedReason string `json:"truncated_reason,omitempty"`
}

// Skip reasons for SkipRecord.
const (
	// SkipReasonFolderMarker marks synthetic folder placeholders that
	// non-recursive runs list but never remove.
	SkipReasonFolderMarker = "folder_marker"

	// SkipReasonJournaled marks keys a resumed run found already
	// recorded as removed in its journal.
	SkipReasonJournaled = "journaled"
)

// SkipRecord is the data payload for objects listed but not removed.
type SkipRecord struct {
	// Key is the full object key that was skipped.
	Key string `json:"key"`

	// Reason is a machine-readable skip reason.
	Reason string `json:"reason"`
}

// PreflightRecord is the data payload for preflight capability checks.
//
// Preflight records are emitted early, before any object is touched.
// They provide an explicit contract for what was checked and whether the
// principal appears to have the required permissions.
type PreflightRecord struct {
	Mode          string                 `json:"mode"`
	ProbeStrategy string                 `json:"probe_strategy,omitempty"`
	ProbePrefix   string                 `json:"probe_prefix,omitempty"`
	Results       []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is a single capability check result.
type PreflightCheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than aborting the entire run,
// allowing partial results when some removals fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Key is the object key related to this error, if applicable.
	Key string `json:"key,omitempty"`

	// Prefix is the prefix being listed when the error occurred.
	Prefix string `json:"prefix,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the object or bucket was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeProviderUnavailable indicates the provider could not serve
	// requests (outage, connectivity loss).
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
//
// Progress records are emitted periodically during removal runs to
// provide visibility into long-running operations.
type ProgressRecord struct {
	// Phase indicates the current run phase.
	Phase string `json:"phase"`

	// ObjectsFound is the total number of candidates listed so far.
	ObjectsFound int64 `json:"objects_found"`

	// ObjectsDeleted is the number of objects removed so far.
	ObjectsDeleted int64 `json:"objects_deleted"`

	// ObjectsSkipped is the number of listed objects not removed.
	ObjectsSkipped int64 `json:"objects_skipped,omitempty"`

	// ObjectsFailed is the number of removals that failed so far.
	ObjectsFailed int64 `json:"objects_failed,omitempty"`

	// BytesDeleted is the cumulative size of removed objects in bytes.
	BytesDeleted int64 `json:"bytes_deleted,omitempty"`

	// Prefix is the current prefix being processed, if applicable.
	Prefix string `json:"prefix,omitempty"`
}

// Progress phase constants.
const (
	// PhaseStarting indicates the run is initializing.
	PhaseStarting = "starting"

	// PhaseListing indicates candidates are being listed (ls, tree).
	PhaseListing = "listing"

	// PhaseRemoving indicates removals are in flight.
	PhaseRemoving = "removing"

	// PhaseDraining indicates an abort was requested and the run is
	// waiting for already-launched removals to finish.
	PhaseDraining = "draining"

	// PhaseComplete indicates the run has finished.
	PhaseComplete = "complete"
)

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of a run with aggregate
// statistics.
type SummaryRecord struct {
	// ObjectsFound is the total number of candidates seen.
	ObjectsFound int64 `json:"objects_found"`

	// ObjectsPlanned is the number of objects a dry run would remove.
	ObjectsPlanned int64 `json:"objects_planned,omitempty"`

	// ObjectsDeleted is the number of objects removed.
	ObjectsDeleted int64 `json:"objects_deleted"`

	// ObjectsSkipped is the number of listed objects not removed.
	ObjectsSkipped int64 `json:"objects_skipped"`

	// ObjectsFailed is the number of removals that failed.
	ObjectsFailed int64 `json:"objects_failed"`

	// BytesDeleted is the cumulative size of removed objects in bytes.
	BytesDeleted int64 `json:"bytes_deleted"`

	// ObjectsMatched is the number of objects matching patterns.
	// Populated by listing commands (ls, tree).
	ObjectsMatched int64 `json:"objects_matched,omitempty"`

	// BytesTotal is the cumulative size of matched objects in bytes.
	// Populated by listing commands.
	BytesTotal int64 `json:"bytes_total,omitempty"`

	// Errors is the count of non-fatal errors encountered.
	Errors int64 `json:"errors,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// DryRun is true when the run planned removals without executing.
	DryRun bool `json:"dry_run,omitempty"`

	// Aborted is true when the run stopped early on first error.
	Aborted bool `json:"aborted,omitempty"`

	// Prefixes lists the prefixes that were processed.
	Prefixes []string `json:"prefixes,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
