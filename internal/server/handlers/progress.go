package handlers

import (
	"net/http"
	"sync"
	"time"

	apperrors "github.com/3leaps/goscour/internal/errors"
)

// ProgressSnapshot is a point-in-time view of an active removal run,
// served on /progress while the run is alive.
type ProgressSnapshot struct {
	JobID          string    `json:"job_id"`
	Phase          string    `json:"phase"`
	ObjectsFound   int64     `json:"objects_found"`
	ObjectsDeleted int64     `json:"objects_deleted"`
	ObjectsSkipped int64     `json:"objects_skipped"`
	ObjectsFailed  int64     `json:"objects_failed"`
	BytesDeleted   int64     `json:"bytes_deleted"`
	StartedAt      time.Time `json:"started_at"`
}

var (
	progressMu     sync.RWMutex
	progressSource func() ProgressSnapshot
)

// SetProgressSource registers the function that produces progress
// snapshots. Passing nil unregisters it (after a run completes).
func SetProgressSource(f func() ProgressSnapshot) {
	progressMu.Lock()
	defer progressMu.Unlock()
	progressSource = f
}

// ProgressHandler serves a snapshot of the active run. Returns a 503
// envelope when no run is in progress.
func ProgressHandler(w http.ResponseWriter, r *http.Request) {
	progressMu.RLock()
	source := progressSource
	progressMu.RUnlock()

	if source == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailable("no removal run in progress", nil))
		return
	}

	snap := source()
	writeJSON(w, http.StatusOK, snap)
}
