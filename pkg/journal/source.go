package journal

import (
	"context"
	"fmt"

	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/remove"
)

// ResumeSource filters a candidate source against the journal: keys
// already recorded as deleted are skipped without reaching the workers.
// Folder markers pass through untouched.
type ResumeSource struct {
	src     remove.Source
	journal *Journal
	onSkip  func(key string)
}

// NewResumeSource wraps src. onSkip, when non-nil, is invoked for every
// skipped key.
func NewResumeSource(src remove.Source, j *Journal, onSkip func(key string)) *ResumeSource {
	return &ResumeSource{src: src, journal: j, onSkip: onSkip}
}

// Next returns the next candidate not yet recorded as deleted.
func (r *ResumeSource) Next(ctx context.Context) (remove.Candidate, error) {
	for {
		c, err := r.src.Next(ctx)
		if err != nil {
			return remove.Candidate{}, err
		}
		if c.SyntheticFolder {
			return c, nil
		}

		done, err := r.journal.IsDeleted(ctx, c.Key)
		if err != nil {
			return remove.Candidate{}, fmt.Errorf("journal lookup for %q: %w", c.Key, err)
		}
		if !done {
			return c, nil
		}
		if r.onSkip != nil {
			r.onSkip(c.Key)
		}
	}
}

// RecordingWriter tees removal outcomes into the journal before passing
// records through to the wrapped writer. A journal failure on a deleted
// record fails the write; failed-key journaling is best effort.
type RecordingWriter struct {
	output.Writer
	journal *Journal
	jobID   string
}

// NewRecordingWriter wraps w so deleted and error records are journaled.
func NewRecordingWriter(w output.Writer, j *Journal, jobID string) *RecordingWriter {
	return &RecordingWriter{Writer: w, journal: j, jobID: jobID}
}

// WriteDeleted journals the key as deleted, then emits the record.
func (rw *RecordingWriter) WriteDeleted(ctx context.Context, del *output.DeletedRecord) error {
	if err := rw.journal.RecordDeleted(ctx, rw.jobID, del.Key, del.Size, del.NotFound); err != nil {
		return err
	}
	return rw.Writer.WriteDeleted(ctx, del)
}

// WriteError journals per-key failures, then emits the record.
func (rw *RecordingWriter) WriteError(ctx context.Context, errRec *output.ErrorRecord) error {
	if errRec.Key != "" {
		_ = rw.journal.RecordFailed(ctx, rw.jobID, errRec.Key, errRec.Code, errRec.Message)
	}
	return rw.Writer.WriteError(ctx, errRec)
}

var (
	_ remove.Source = (*ResumeSource)(nil)
	_ output.Writer = (*RecordingWriter)(nil)
)
