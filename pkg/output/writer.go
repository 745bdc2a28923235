package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer is the sink for a run's record stream. Every Write* call
// emits one complete record as a single JSON line. The removal engine
// reports from many workers at once, so implementations must accept
// concurrent calls without interleaving bytes within a line.
type Writer interface {
	// WritePlan emits what a dry run would delete.
	WritePlan(ctx context.Context, plan *PlanRecord) error

	// WriteDeleted emits one completed removal.
	WriteDeleted(ctx context.Context, del *DeletedRecord) error

	// WriteSkip emits an object that was listed but held back.
	WriteSkip(ctx context.Context, skip *SkipRecord) error

	// WriteObject emits one listed or probed object.
	WriteObject(ctx context.Context, obj *ObjectRecord) error

	// WritePrefix emits a per-prefix rollup.
	WritePrefix(ctx context.Context, prefix *PrefixRecord) error

	// WriteError emits a failure without ending the run.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// WriteProgress emits a point-in-time progress snapshot.
	WriteProgress(ctx context.Context, prog *ProgressRecord) error

	// WriteSummary emits the end-of-run totals.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// WritePreflight emits the outcome of a permission probe.
	WritePreflight(ctx context.Context, preflight *PreflightRecord) error

	// Close rejects further writes. It does not close the
	// destination; the caller owns that lifecycle.
	Close() error
}

// JSONLWriter emits records to an io.Writer as newline-delimited JSON.
// A mutex serializes the actual writes, so lines from concurrent
// workers come out whole.
type JSONLWriter struct {
	w        io.Writer
	jobID    string
	provider string

	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter returns a writer that stamps every record envelope
// with jobID and provider. It does not take ownership of w.
func NewJSONLWriter(w io.Writer, jobID, provider string) *JSONLWriter {
	return &JSONLWriter{
		w:        w,
		jobID:    jobID,
		provider: provider,
	}
}

// Each method below wraps its payload in the versioned envelope for
// its record type and emits one line.

func (jw *JSONLWriter) WritePlan(ctx context.Context, plan *PlanRecord) error {
	return jw.writeRecord(ctx, TypePlan, plan)
}

func (jw *JSONLWriter) WriteDeleted(ctx context.Context, del *DeletedRecord) error {
	return jw.writeRecord(ctx, TypeDeleted, del)
}

func (jw *JSONLWriter) WriteSkip(ctx context.Context, skip *SkipRecord) error {
	return jw.writeRecord(ctx, TypeSkip, skip)
}

func (jw *JSONLWriter) WriteObject(ctx context.Context, obj *ObjectRecord) error {
	return jw.writeRecord(ctx, TypeObject, obj)
}

func (jw *JSONLWriter) WritePrefix(ctx context.Context, prefix *PrefixRecord) error {
	return jw.writeRecord(ctx, TypePrefix, prefix)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.writeRecord(ctx, TypeProgress, prog)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

func (jw *JSONLWriter) WritePreflight(ctx context.Context, preflight *PreflightRecord) error {
	return jw.writeRecord(ctx, TypePreflight, preflight)
}

// Close makes every subsequent write fail with ErrWriterClosed. The
// underlying io.Writer stays open for the caller to close.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord wraps data in the envelope and writes it as one line.
// The payload is marshaled before taking the lock; the lock covers the
// closed check and the write itself.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	// Waiting on the lock may have outlived the caller.
	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:     recordType,
		TS:       time.Now().UTC(),
		JobID:    jw.jobID,
		Provider: jw.provider,
		Data:     dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll pushes p to w in full. Write is allowed to accept fewer
// bytes than offered with a nil error, and a truncated line is corrupt
// JSONL, so keep writing until the line is out or an error surfaces. A
// zero-progress write aborts as io.ErrShortWrite instead of spinning.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
