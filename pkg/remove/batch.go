package remove

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/provider"
	"golang.org/x/time/rate"
)

// BatchDeleter deletes many keys in one provider call.
//
// Per-key failures come back as provider.DeleteError values; a non-nil
// error means the whole call failed and nothing can be assumed deleted.
type BatchDeleter interface {
	DeleteObjects(ctx context.Context, keys []string) ([]provider.DeleteError, error)

	// MaxBatchSize returns the largest batch the provider accepts.
	MaxBatchSize() int
}

// NewBatch creates a remover that groups candidates into provider batch
// delete calls instead of issuing one call per key.
//
// Admission control bounds outstanding batches, not keys, so the number
// of keys in flight is at most QueueSize × BatchSize. Classification is
// identical to single-key runs: a key the provider reports as already
// absent counts as success, every other per-key failure is reported and
// flips the exit status.
func NewBatch(src Source, b BatchDeleter, w output.Writer, cfg Config) *Remover {
	r := &Remover{
		source:  src,
		batcher: b,
		writer:  w,
		cfg:     applyDefaults(cfg),
	}
	if b != nil {
		if max := b.MaxBatchSize(); r.cfg.BatchSize <= 0 || r.cfg.BatchSize > max {
			r.cfg.BatchSize = max
		}
	}
	if r.cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(r.cfg.RateLimit), 1)
	}
	return r
}

// batchSet tracks scheduled-but-not-completed batches by task handle.
type batchSet struct {
	mu      sync.Mutex
	batches map[uint64][]Candidate
}

func newBatchSet() *batchSet {
	return &batchSet{batches: make(map[uint64][]Candidate)}
}

func (s *batchSet) insert(id uint64, batch []Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[id] = batch
}

func (s *batchSet) remove(id uint64) ([]Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	delete(s.batches, id)
	return batch, ok
}

// submitBatches drains the source into fixed-size batches and schedules
// each batch as one unit of work under admission control.
func (r *Remover) submitBatches(ctx context.Context, events chan<- resultEvent) {
	var wg sync.WaitGroup
	var batchID uint64
	inflight := newBatchSet()

	defer func() {
		wg.Wait()
		events <- resultEvent{kind: eventEndOfWork}
	}()

	pending := make([]Candidate, 0, r.cfg.BatchSize)

	// flush schedules the pending batch. It returns false when no
	// further batches may be scheduled (fail-fast or cancellation).
	flush := func() bool {
		if len(pending) == 0 {
			return true
		}
		if r.failFast.Load() {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case r.admission <- struct{}{}:
		}

		if r.failFast.Load() {
			<-r.admission
			return false
		}

		id := batchID
		batchID++

		batch := make([]Candidate, len(pending))
		copy(batch, pending)
		pending = pending[:0]

		inflight.insert(id, batch)
		r.scheduled.Add(int64(len(batch)))
		r.reportProgress()

		wg.Add(1)
		go r.runBatchWorker(ctx, id, batch, inflight, events, &wg)
		return true
	}

	for {
		if ctx.Err() != nil || r.failFast.Load() {
			return
		}

		cand, err := r.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
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

		pending = append(pending, cand)
		if len(pending) >= r.cfg.BatchSize {
			if !flush() {
				return
			}
		}
	}

	flush()
}

// runBatchWorker performs one batch delete call and hands the result to
// the batch completion handler.
func (r *Remover) runBatchWorker(ctx context.Context, id uint64, batch []Candidate, inflight *batchSet, events chan<- resultEvent, wg *sync.WaitGroup) {
	defer wg.Done()

	var callErr error
	var keyErrs []provider.DeleteError
	func() {
		defer func() {
			if v := recover(); v != nil {
				callErr = &panicError{value: v}
			}
		}()

		select {
		case <-ctx.Done():
			callErr = ctx.Err()
			return
		case r.workers <- struct{}{}:
		}
		defer func() { <-r.workers }()

		if callErr = r.waitForRateLimit(ctx); callErr != nil {
			return
		}

		keys := make([]string, len(batch))
		for i, c := range batch {
			keys[i] = c.Key
		}
		keyErrs, callErr = r.batcher.DeleteObjects(ctx, keys)
	}()

	r.completeBatch(ctx, id, keyErrs, callErr, inflight, events)
}

// completeBatch finalizes one batch, fanning the provider's per-key
// results out through the same classification single-key runs use.
// As with single completions, the fail-fast flag is set before the
// admission slot is released.
func (r *Remover) completeBatch(ctx context.Context, id uint64, keyErrs []provider.DeleteError, callErr error, inflight *batchSet, events chan<- resultEvent) {
	batch, ok := inflight.remove(id)

	defer func() {
		n := r.completed.Add(int64(len(batch)))
		r.reportProgress()
		if every := int64(r.cfg.ProgressEvery); every > 0 && n/every > (n-int64(len(batch)))/every {
			phase := output.PhaseRemoving
			if r.failFast.Load() {
				phase = output.PhaseDraining
			}
			_ = r.writeProgress(ctx, phase)
		}
		<-r.admission
	}()

	if !ok {
		r.failFast.Store(true)
		events <- resultEvent{kind: eventUnexpectedFailure, err: fmt.Errorf("no in-flight entry for batch %d", id)}
		return
	}

	if callErr != nil {
		switch {
		case isPanic(callErr):
			r.failed.Add(int64(len(batch)))
			r.failFast.Store(true)
			events <- resultEvent{kind: eventUnexpectedFailure, err: callErr}

		case ctx.Err() != nil && errors.Is(callErr, ctx.Err()):
			r.failed.Add(int64(len(batch)))

		default:
			// The whole call failed, so every key in the batch failed
			// with it.
			r.failed.Add(int64(len(batch)))
			if r.cfg.FailFast {
				r.failFast.Store(true)
			}
			for _, cand := range batch {
				events <- resultEvent{kind: eventItemError, candidate: cand, err: callErr}
			}
		}
		return
	}

	failedKeys := make(map[string]error, len(keyErrs))
	for _, ke := range keyErrs {
		failedKeys[ke.Key] = ke.Err
	}

	for _, cand := range batch {
		keyErr, bad := failedKeys[cand.Key]
		if !bad {
			r.deleted.Add(1)
			r.bytes.Add(cand.Size)
			if werr := r.writeDeleted(ctx, cand, false); werr != nil && ctx.Err() == nil {
				r.failFast.Store(true)
				events <- resultEvent{kind: eventUnexpectedFailure, err: werr}
			}
			continue
		}

		if provider.IsNotFound(keyErr) {
			r.deleted.Add(1)
			if werr := r.writeDeleted(ctx, cand, true); werr != nil && ctx.Err() == nil {
				r.failFast.Store(true)
				events <- resultEvent{kind: eventUnexpectedFailure, err: werr}
			}
			continue
		}

		r.failed.Add(1)
		if r.cfg.FailFast {
			r.failFast.Store(true)
		}
		events <- resultEvent{kind: eventItemError, candidate: cand, err: keyErr}
	}
}
