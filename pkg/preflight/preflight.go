// Package preflight proves permissions before destructive work starts.
//
// Preflight is a capability contract, not a data operation. Modes:
//   - plan-only: no provider calls at all
//   - read-safe: listing probes only, no writes or deletes
//   - delete-probe: opt-in put+delete of a scratch key to prove delete
//     permission before a bulk removal
package preflight

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/provider"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	ModePlanOnly    Mode = "plan-only"
	ModeReadSafe    Mode = "read-safe"
	ModeDeleteProbe Mode = "delete-probe"
)

// ProbeStrategy selects a provider-specific probe strategy.
type ProbeStrategy string

const (
	// ProbePutDelete writes a scratch object and deletes it, proving both
	// write and delete permission.
	ProbePutDelete ProbeStrategy = "put-delete"

	// ProbeMultipartAbort creates and aborts a multipart upload, proving
	// write permission without making an object visible. It cannot prove
	// delete permission.
	ProbeMultipartAbort ProbeStrategy = "multipart-abort"
)

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode          Mode
	ProbeStrategy ProbeStrategy
	ProbePrefix   string
}

// Capability names are stable strings used in JSONL output.
const (
	CapTargetList   = "target.list"
	CapTargetHead   = "target.head"
	CapTargetWrite  = "target.write"
	CapTargetDelete = "target.delete"
)

const fallbackProbePrefix = "_goscour/probe/"

// Remove runs the preflight for a removal job.
//
// plan-only returns an empty record without touching the provider.
// read-safe validates that listing is permitted under the first prefix.
// delete-probe additionally runs the configured write probe; with the
// put-delete strategy that proves delete permission on a scratch key.
func Remove(ctx context.Context, prov provider.Provider, prefixes []string, spec Spec) (*output.PreflightRecord, error) {
	rec := &output.PreflightRecord{
		Mode:          string(spec.Mode),
		ProbeStrategy: string(spec.ProbeStrategy),
		ProbePrefix:   spec.ProbePrefix,
		Results:       []output.PreflightCheckResult{},
	}

	if spec.Mode == ModePlanOnly {
		return rec, nil
	}

	prefix := ""
	if len(prefixes) > 0 {
		prefix = prefixes[0]
	}

	_, err := prov.List(ctx, provider.ListOptions{Prefix: prefix, MaxKeys: 1})
	if err != nil {
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Capability: CapTargetList,
			Allowed:    false,
			Method:     fmt.Sprintf("List(prefix=%q,maxKeys=1)", prefix),
			ErrorCode:  normalizeErrorCode(err),
			Detail:     err.Error(),
		})
		return rec, err
	}
	rec.Results = append(rec.Results, output.PreflightCheckResult{
		Capability: CapTargetList,
		Allowed:    true,
		Method:     fmt.Sprintf("List(prefix=%q,maxKeys=1)", prefix),
	})

	if spec.Mode != ModeDeleteProbe {
		return rec, nil
	}

	probeRec, err := WriteProbe(ctx, prov, spec)
	rec.Results = append(rec.Results, probeRec.Results...)
	return rec, err
}

// WriteProbe proves mutation permission with minimal side effects.
//
// put-delete creates a scratch object under the probe prefix and removes
// it again, reporting the write and delete legs separately. If the delete
// leg fails, the scratch key is left behind and named in the result
// detail. multipart-abort never makes an object visible but only proves
// write permission.
func WriteProbe(ctx context.Context, prov provider.Provider, spec Spec) (*output.PreflightRecord, error) {
	rec := &output.PreflightRecord{
		Mode:          string(spec.Mode),
		ProbeStrategy: string(spec.ProbeStrategy),
		ProbePrefix:   spec.ProbePrefix,
		Results:       []output.PreflightCheckResult{},
	}

	probePrefix := spec.ProbePrefix
	if probePrefix == "" {
		probePrefix = fallbackProbePrefix
	}

	strategy := spec.ProbeStrategy
	if strategy == "" {
		strategy = ProbePutDelete
	}

	switch strategy {
	case ProbeMultipartAbort:
		return rec, probeMultipartAbort(ctx, prov, probePrefix, rec)
	case ProbePutDelete:
		return rec, probePutDelete(ctx, prov, probePrefix, rec)
	default:
		return rec, fmt.Errorf("unsupported probe strategy %q", spec.ProbeStrategy)
	}
}

func probeMultipartAbort(ctx context.Context, prov provider.Provider, probePrefix string, rec *output.PreflightRecord) error {
	uploader, ok := prov.(provider.MultipartUploader)
	if !ok {
		return fmt.Errorf("provider does not support multipart uploads")
	}

	probeKey := joinPrefix(probePrefix, "scour-"+uuid.NewString())
	uploadID, err := uploader.CreateMultipartUpload(ctx, probeKey)
	if err != nil {
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Capability: CapTargetWrite,
			Allowed:    false,
			Method:     "CreateMultipartUpload+Abort",
			ErrorCode:  normalizeErrorCode(err),
			Detail:     err.Error(),
		})
		return err
	}

	if err := uploader.AbortMultipartUpload(ctx, probeKey, uploadID); err != nil {
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Capability: CapTargetWrite,
			Allowed:    false,
			Method:     "CreateMultipartUpload+Abort",
			ErrorCode:  normalizeErrorCode(err),
			Detail:     fmt.Sprintf("abort failed, upload %s on %s left behind: %v", uploadID, probeKey, err),
		})
		return err
	}

	rec.Results = append(rec.Results, output.PreflightCheckResult{
		Capability: CapTargetWrite,
		Allowed:    true,
		Method:     "CreateMultipartUpload+Abort",
		Detail:     "write permission proven; delete permission is not probed by multipart-abort",
	})
	return nil
}

func probePutDelete(ctx context.Context, prov provider.Provider, probePrefix string, rec *output.PreflightRecord) error {
	putter, ok := prov.(provider.ObjectPutter)
	if !ok {
		return fmt.Errorf("provider does not support object writes")
	}
	deleter, ok := prov.(provider.ObjectDeleter)
	if !ok {
		return fmt.Errorf("provider does not support object deletes")
	}

	probeKey := joinPrefix(probePrefix, "scour-"+uuid.NewString())
	if err := putter.PutObject(ctx, probeKey, strings.NewReader(""), 0); err != nil {
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Capability: CapTargetWrite,
			Allowed:    false,
			Method:     "PutObject",
			ErrorCode:  normalizeErrorCode(err),
			Detail:     err.Error(),
		})
		return err
	}
	rec.Results = append(rec.Results, output.PreflightCheckResult{
		Capability: CapTargetWrite,
		Allowed:    true,
		Method:     "PutObject",
	})

	if err := deleter.DeleteObject(ctx, probeKey); err != nil {
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Capability: CapTargetDelete,
			Allowed:    false,
			Method:     "DeleteObject",
			ErrorCode:  normalizeErrorCode(err),
			Detail:     fmt.Sprintf("probe object %s left behind: %v", probeKey, err),
		})
		return err
	}
	rec.Results = append(rec.Results, output.PreflightCheckResult{
		Capability: CapTargetDelete,
		Allowed:    true,
		Method:     "DeleteObject",
	})
	return nil
}

func joinPrefix(prefix, suffix string) string {
	if prefix == "" {
		return strings.TrimPrefix(suffix, "/")
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix + strings.TrimPrefix(suffix, "/")
	}
	return prefix + "/" + strings.TrimPrefix(suffix, "/")
}

func normalizeErrorCode(err error) string {
	switch {
	case provider.IsAccessDenied(err):
		return output.ErrCodeAccessDenied
	case provider.IsBucketNotFound(err), provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	case provider.IsInvalidCredentials(err):
		return output.ErrCodeAccessDenied
	case provider.IsProviderUnavailable(err):
		return output.ErrCodeInternal
	default:
		return output.ErrCodeInternal
	}
}
