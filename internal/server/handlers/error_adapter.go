package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/goscour/internal/errors"
)

// HTTPErrorResponder renders an error to an HTTP response.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

// defaultHTTPErrorResponder delegates to the shared envelope renderer.
func defaultHTTPErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

// httpErrorResponder is the active responder. Tests swap it to observe
// handler error paths without parsing envelopes.
var httpErrorResponder HTTPErrorResponder = defaultHTTPErrorResponder

// SetHTTPErrorResponder overrides the error responder. Passing nil
// resets to the default.
func SetHTTPErrorResponder(f HTTPErrorResponder) {
	if f == nil {
		httpErrorResponder = defaultHTTPErrorResponder
		return
	}
	httpErrorResponder = f
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultHTTPErrorResponder
}

// respondWithError renders err through the active responder.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
