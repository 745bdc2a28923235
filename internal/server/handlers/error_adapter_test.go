package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPErrorResponderSeam(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	t.Run("custom responder receives the error", func(t *testing.T) {
		var captured error
		SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
			captured = err
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		req := httptest.NewRequest("GET", "/progress", nil)
		rec := httptest.NewRecorder()
		respondWithError(rec, req, assert.AnError)

		assert.Equal(t, assert.AnError, captured)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("nil restores the default", func(t *testing.T) {
		SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
			w.WriteHeader(http.StatusTeapot)
		})
		SetHTTPErrorResponder(nil)

		assert.NotNil(t, httpErrorResponder)
	})

	t.Run("reset restores the default", func(t *testing.T) {
		customCalled := false
		SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
			customCalled = true
		})

		ResetHTTPErrorResponder()

		req := httptest.NewRequest("GET", "/healthz", nil)
		rec := httptest.NewRecorder()
		respondWithError(rec, req, assert.AnError)

		assert.False(t, customCalled)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	})
}
