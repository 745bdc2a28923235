// Package remove implements a bounded concurrent bulk-removal pipeline
// for cloud object storage.
//
// The pipeline coordinates three roles:
//   - Submitter: drains the lazy candidate source and schedules deletions
//     under admission control
//   - Workers: a fixed-size pool performing provider delete calls in
//     parallel
//   - Reporter: consumes completion events on the calling goroutine,
//     emits per-item failure records, and derives the run outcome
//
// A bounded admission semaphore between the submitter and the workers
// provides backpressure: an unbounded listing can never schedule
// unbounded work, so memory and outstanding network calls stay capped
// no matter how large the bucket is.
//
// Removal is not atomic. Candidates are submitted in listing order but
// complete in arbitrary order, and no ordering holds between any two
// deletions, including parent/child key relationships.
package remove

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/provider"
	"golang.org/x/time/rate"
)

// Candidate is one item produced by the listing: either a real deletable
// object or a synthetic folder marker.
type Candidate struct {
	// Key is the full object key (path) in the bucket.
	Key string

	// Size is the object size in bytes, as reported by the listing.
	Size int64

	// ETag is the entity tag from the listing, when available.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time

	// SyntheticFolder marks listing artifacts that represent a
	// hierarchical "directory". They exist only to preserve the
	// hierarchical view and are never submitted for deletion.
	SyntheticFolder bool
}

// Source produces a lazy, potentially unbounded sequence of candidates.
//
// Next returns io.EOF when the sequence is exhausted. Any other error is
// fatal to the run: a broken listing means the set of objects to remove
// is unknown, so the pipeline stops rather than remove a partial set
// silently.
type Source interface {
	Next(ctx context.Context) (Candidate, error)
}

// Deleter performs one remote deletion attempt per call.
//
// Implementations must return an error wrapping provider.ErrNotFound
// when the object is already absent; the pipeline counts that case as
// success because the desired end state holds either way.
type Deleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// Config configures removal behavior.
type Config struct {
	// Workers is the number of parallel delete operations.
	// Default: 8
	Workers int

	// QueueSize bounds the number of deletions scheduled but not yet
	// completed. The submitter blocks once the bound is reached, which
	// is the backpressure that stops an unbounded listing from
	// scheduling unbounded work.
	// Default: 2 × Workers
	QueueSize int

	// DryRun reports what would be removed without deleting anything.
	DryRun bool

	// FailFast stops scheduling new deletions after the first per-item
	// failure. Deletions already in flight run to completion.
	FailFast bool

	// BatchSize is the number of keys per batch delete call. Only used
	// by batch runs; clamped to the provider's maximum.
	// Default: the provider's maximum.
	BatchSize int

	// RateLimit is the maximum delete calls per second.
	// Zero means unlimited (provider handles its own throttling).
	// Default: 0
	RateLimit float64

	// ProgressEvery controls how often progress records are emitted.
	// A progress record is written every N completed deletions.
	// Default: 1000
	ProgressEvery int

	// Progress, when non-nil, is called with cumulative scheduled and
	// completed counts as the run advances. It is fire-and-forget: it
	// must not block and its return is ignored.
	Progress func(scheduled, completed int64)
}

// DefaultConfig returns the default removal configuration.
func DefaultConfig() Config {
	return Config{
		Workers:       8,
		QueueSize:     0, // derived from Workers
		RateLimit:     0,
		ProgressEvery: 1000,
	}
}

// Failure records one candidate whose deletion failed.
type Failure struct {
	// Key is the object key that failed to delete.
	Key string

	// Err is the deletion error.
	Err error
}

// Outcome contains aggregate statistics from a completed run.
type Outcome struct {
	// HadErrors is true if any deletion failed. It maps directly to the
	// process exit status.
	HadErrors bool

	// Failures lists per-item failures in the order they were observed.
	// Completion order is not submission order.
	Failures []Failure

	// ObjectsFound is the total number of candidates pulled from the
	// source.
	ObjectsFound int64

	// ObjectsPlanned is the number of candidates a dry run would have
	// removed.
	ObjectsPlanned int64

	// ObjectsDeleted counts successful deletions, including objects the
	// provider reported already absent.
	ObjectsDeleted int64

	// ObjectsSkipped counts candidates that were listed but never
	// submitted (folder markers).
	ObjectsSkipped int64

	// ObjectsFailed counts deletions that did not succeed.
	ObjectsFailed int64

	// BytesDeleted is the cumulative size of removed objects in bytes.
	BytesDeleted int64

	// Aborted is true when the run stopped scheduling early, either
	// because fail-fast tripped or because a fatal error occurred.
	Aborted bool

	// Duration is the total run duration.
	Duration time.Duration
}

// Result event kinds flowing from completion handlers to the reporter.
type eventKind int

const (
	// eventEndOfWork signals that the submitter has stopped and every
	// scheduled deletion has completed.
	eventEndOfWork eventKind = iota

	// eventItemError reports one candidate's deletion failure.
	eventItemError

	// eventUnexpectedFailure reports a fatal condition: a broken
	// listing, a panicking worker, or an output failure.
	eventUnexpectedFailure
)

type resultEvent struct {
	kind      eventKind
	candidate Candidate
	err       error
}

// inFlightSet tracks scheduled-but-not-completed deletions.
//
// An entry is present from the moment its task is scheduled until its
// completion handler has retrieved it, and never after.
type inFlightSet struct {
	mu    sync.Mutex
	tasks map[uint64]Candidate
}

func newInFlightSet() *inFlightSet {
	return &inFlightSet{tasks: make(map[uint64]Candidate)}
}

func (s *inFlightSet) insert(id uint64, c Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = c
}

func (s *inFlightSet) remove(id uint64) (Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.tasks[id]
	delete(s.tasks, id)
	return c, ok
}

func (s *inFlightSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// panicError marks a panic recovered from a deletion worker. Panics are
// programming errors, not per-item failures, and abort the whole run.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("deletion worker panicked: %v", e.value)
}

// Remover executes a bulk-removal run.
//
// Remover is safe for single use only. Create a new Remover for each run.
type Remover struct {
	source  Source
	deleter Deleter
	batcher BatchDeleter
	writer  output.Writer
	cfg     Config

	// Rate limiter for delete calls (nil if unlimited)
	limiter *rate.Limiter

	// failFast is set at most once and only moves forward. The
	// submitter reads it before every admission attempt; once set, no
	// further deletions are scheduled.
	failFast atomic.Bool

	// Single-use concurrency primitives, created in Run.
	admission chan struct{}
	workers   chan struct{}

	// Atomic counters for stats
	found     atomic.Int64
	planned   atomic.Int64
	deleted   atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
	scheduled atomic.Int64
	completed atomic.Int64
}

// New creates a remover that deletes candidates one key at a time.
//
// Parameters:
//   - src: Lazy candidate source (listing, manifest replay)
//   - d: Deleter performing the remote calls; may be nil for dry runs
//   - w: Writer for JSONL output
//   - cfg: Removal configuration (use DefaultConfig() as base)
func New(src Source, d Deleter, w output.Writer, cfg Config) *Remover {
	r := &Remover{
		source:  src,
		deleter: d,
		writer:  w,
		cfg:     applyDefaults(cfg),
	}
	if r.cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(r.cfg.RateLimit), 1)
	}
	return r
}

func applyDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 2 * cfg.Workers
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultConfig().ProgressEvery
	}
	return cfg
}

// Run executes the removal and returns the run outcome.
//
// Run blocks until the candidate source is exhausted and every scheduled
// deletion has completed, or until a fatal error ends the run. Per-item
// deletion failures are not fatal: they are reported as error records,
// collected in the outcome, and only flip the exit status.
//
// Cancelling the context stops new submissions; deletions already in
// flight run to completion so no remote call is abandoned half-issued.
// On cancellation Run returns the partial outcome together with the
// context error.
func (r *Remover) Run(ctx context.Context) (*Outcome, error) {
	start := time.Now()

	if r.deleter == nil && r.batcher == nil && !r.cfg.DryRun {
		return nil, errors.New("a deleter is required unless running dry-run")
	}

	r.admission = make(chan struct{}, r.cfg.QueueSize)
	r.workers = make(chan struct{}, r.cfg.Workers)
	events := make(chan resultEvent, r.cfg.QueueSize+1)
	inflight := newInFlightSet()

	if err := r.writeProgress(ctx, output.PhaseStarting); err != nil {
		return nil, err
	}

	if r.batcher != nil {
		go r.submitBatches(ctx, events)
	} else {
		go r.submit(ctx, inflight, events)
	}

	// Reporter: single-threaded consumption of result events on the
	// calling goroutine. All error policy is centralized here.
	outcome := &Outcome{}
	var fatal error
	for {
		ev := <-events
		if ev.kind == eventEndOfWork {
			break
		}
		switch ev.kind {
		case eventItemError:
			outcome.HadErrors = true
			outcome.Failures = append(outcome.Failures, Failure{Key: ev.candidate.Key, Err: ev.err})
			r.writeItemError(ctx, ev.candidate.Key, ev.err)
		case eventUnexpectedFailure:
			outcome.HadErrors = true
			if fatal == nil {
				fatal = ev.err
			}
		}
	}

	outcome.ObjectsFound = r.found.Load()
	outcome.ObjectsPlanned = r.planned.Load()
	outcome.ObjectsDeleted = r.deleted.Load()
	outcome.ObjectsSkipped = r.skipped.Load()
	outcome.ObjectsFailed = r.failed.Load()
	outcome.BytesDeleted = r.bytes.Load()
	outcome.Aborted = r.failFast.Load()
	outcome.Duration = time.Since(start)

	if fatal != nil {
		return outcome, fatal
	}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	if err := r.writeSummary(ctx, outcome); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// submit is the producer: it drains the source, applies admission
// control, and hands each real candidate to a worker.
//
// End-of-work is announced only after every scheduled deletion has
// completed, so the reporter observes every per-item failure before it
// stops, including failures that land after fail-fast trips.
func (r *Remover) submit(ctx context.Context, inflight *inFlightSet, events chan<- resultEvent) {
	var wg sync.WaitGroup
	var taskID uint64

	defer func() {
		wg.Wait()
		events <- resultEvent{kind: eventEndOfWork}
	}()

	for {
		if ctx.Err() != nil || r.failFast.Load() {
			return
		}

		cand, err := r.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			events <- resultEvent{kind: eventUnexpectedFailure, err: err}
			return
		}
		r.found.Add(1)

		if cand.SyntheticFolder {
			r.skipped.Add(1)
			r.writeSkip(ctx, cand.Key, output.SkipReasonFolderMarker)
			continue
		}

		if r.cfg.DryRun {
			r.planned.Add(1)
			if werr := r.writePlan(ctx, cand); werr != nil {
				events <- resultEvent{kind: eventUnexpectedFailure, err: werr}
				return
			}
			continue
		}

		// Fail-fast is checked before acquiring a permit so a slot is
		// never taken for work that will not be scheduled.
		if r.failFast.Load() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case r.admission <- struct{}{}:
		}

		// A failure may have tripped fail-fast while we were blocked on
		// admission. The completion handler sets the flag before it
		// releases the slot, so waking here guarantees we observe it.
		if r.failFast.Load() {
			<-r.admission
			return
		}

		id := taskID
		taskID++

		// The in-flight entry must exist before the worker starts so
		// the completion handler can never observe a missing mapping.
		inflight.insert(id, cand)
		r.scheduled.Add(1)
		r.reportProgress()

		wg.Add(1)
		go r.runWorker(ctx, id, cand, inflight, events, &wg)
	}
}

// runWorker performs one deletion attempt and hands the result to the
// completion handler. Panics from the deleter are recovered and surface
// as fatal failures rather than taking down the process.
func (r *Remover) runWorker(ctx context.Context, id uint64, cand Candidate, inflight *inFlightSet, events chan<- resultEvent, wg *sync.WaitGroup) {
	defer wg.Done()

	var delErr error
	func() {
		defer func() {
			if v := recover(); v != nil {
				delErr = &panicError{value: v}
			}
		}()

		// Hold a worker slot only for the provider call so admitted
		// candidates queue here rather than inside the provider.
		select {
		case <-ctx.Done():
			delErr = ctx.Err()
			return
		case r.workers <- struct{}{}:
		}
		defer func() { <-r.workers }()

		if delErr = r.waitForRateLimit(ctx); delErr != nil {
			return
		}
		delErr = r.deleter.DeleteObject(ctx, cand.Key)
	}()

	r.complete(ctx, id, delErr, inflight, events)
}

// complete finalizes one scheduled deletion exactly once.
//
// Ordering here is load-bearing: the fail-fast flag is set (when it is
// going to be set) strictly before the admission slot is released, so a
// submitter that wakes on the release immediately observes the flag.
// The release itself is always the last step.
func (r *Remover) complete(ctx context.Context, id uint64, delErr error, inflight *inFlightSet, events chan<- resultEvent) {
	defer func() {
		n := r.completed.Add(1)
		r.reportProgress()
		if r.cfg.ProgressEvery > 0 && n%int64(r.cfg.ProgressEvery) == 0 {
			phase := output.PhaseRemoving
			if r.failFast.Load() {
				phase = output.PhaseDraining
			}
			_ = r.writeProgress(ctx, phase)
		}
		<-r.admission
	}()

	cand, ok := inflight.remove(id)
	if !ok {
		r.failFast.Store(true)
		events <- resultEvent{kind: eventUnexpectedFailure, err: fmt.Errorf("no in-flight entry for task %d", id)}
		return
	}

	switch {
	case delErr == nil:
		r.deleted.Add(1)
		r.bytes.Add(cand.Size)
		if werr := r.writeDeleted(ctx, cand, false); werr != nil && ctx.Err() == nil {
			r.failFast.Store(true)
			events <- resultEvent{kind: eventUnexpectedFailure, err: werr}
		}

	case provider.IsNotFound(delErr):
		// Already absent, likely deleted by a concurrent actor. The
		// goal (object gone) is achieved, so this is a success.
		r.deleted.Add(1)
		if werr := r.writeDeleted(ctx, cand, true); werr != nil && ctx.Err() == nil {
			r.failFast.Store(true)
			events <- resultEvent{kind: eventUnexpectedFailure, err: werr}
		}

	case isPanic(delErr):
		r.failed.Add(1)
		r.failFast.Store(true)
		events <- resultEvent{kind: eventUnexpectedFailure, err: delErr}

	case ctx.Err() != nil && errors.Is(delErr, ctx.Err()):
		// The run is being cancelled; the run-level error already says
		// so, so no per-item failure line is emitted.
		r.failed.Add(1)

	default:
		r.failed.Add(1)
		if r.cfg.FailFast {
			r.failFast.Store(true)
		}
		events <- resultEvent{kind: eventItemError, candidate: cand, err: delErr}
	}
}

func isPanic(err error) bool {
	var pe *panicError
	return errors.As(err, &pe)
}

// waitForRateLimit blocks until the rate limiter allows a delete call.
// Returns immediately if rate limiting is disabled.
func (r *Remover) waitForRateLimit(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// reportProgress invokes the fire-and-forget progress callback.
func (r *Remover) reportProgress() {
	if r.cfg.Progress == nil {
		return
	}
	r.cfg.Progress(r.scheduled.Load(), r.completed.Load())
}

// errorCode maps a deletion error to a machine-readable record code.
func errorCode(err error) string {
	switch {
	case provider.IsAccessDenied(err) || provider.IsInvalidCredentials(err):
		return output.ErrCodeAccessDenied
	case provider.IsNotFound(err) || provider.IsBucketNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return output.ErrCodeProviderUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return output.ErrCodeTimeout
	default:
		return output.ErrCodeInternal
	}
}

func (r *Remover) writePlan(ctx context.Context, cand Candidate) error {
	return r.writer.WritePlan(ctx, &output.PlanRecord{
		Key:          cand.Key,
		Size:         cand.Size,
		LastModified: cand.LastModified,
	})
}

func (r *Remover) writeDeleted(ctx context.Context, cand Candidate, notFound bool) error {
	rec := &output.DeletedRecord{Key: cand.Key, NotFound: notFound}
	if !notFound {
		rec.Size = cand.Size
	}
	return r.writer.WriteDeleted(ctx, rec)
}

// writeSkip emits a skip record. Best effort: a lost skip record does
// not change what the run removes.
func (r *Remover) writeSkip(ctx context.Context, key, reason string) {
	_ = r.writer.WriteSkip(ctx, &output.SkipRecord{Key: key, Reason: reason})
}

// writeItemError emits an error record. Best effort: the outcome
// already carries the failure.
func (r *Remover) writeItemError(ctx context.Context, key string, err error) {
	_ = r.writer.WriteError(ctx, &output.ErrorRecord{
		Code:    errorCode(err),
		Message: err.Error(),
		Key:     key,
	})
}

// writeProgress emits a progress record.
func (r *Remover) writeProgress(ctx context.Context, phase string) error {
	return r.writer.WriteProgress(ctx, &output.ProgressRecord{
		Phase:          phase,
		ObjectsFound:   r.found.Load(),
		ObjectsDeleted: r.deleted.Load(),
		ObjectsSkipped: r.skipped.Load(),
		ObjectsFailed:  r.failed.Load(),
		BytesDeleted:   r.bytes.Load(),
	})
}

// writeSummary emits the final progress and summary records.
func (r *Remover) writeSummary(ctx context.Context, o *Outcome) error {
	if err := r.writeProgress(ctx, output.PhaseComplete); err != nil {
		return err
	}
	return r.writer.WriteSummary(ctx, &output.SummaryRecord{
		ObjectsFound:   o.ObjectsFound,
		ObjectsPlanned: o.ObjectsPlanned,
		ObjectsDeleted: o.ObjectsDeleted,
		ObjectsSkipped: o.ObjectsSkipped,
		ObjectsFailed:  o.ObjectsFailed,
		BytesDeleted:   o.BytesDeleted,
		Duration:       o.Duration,
		DurationHuman:  o.Duration.Round(time.Millisecond).String(),
		DryRun:         r.cfg.DryRun,
		Aborted:        o.Aborted,
	})
}
