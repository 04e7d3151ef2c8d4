package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStorageDown = errors.New("storage down")

func doRequest(t *testing.T, r *Router, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r.Router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) JsonError {
	t.Helper()
	var apiErr JsonError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHandlerErrors(t *testing.T) {
	r := New()
	r.MapError(errStorageDown, func(err error) Error {
		return NewJsonError(http.StatusServiceUnavailable, err.Error())
	})

	r.Get("/ok", func(w http.ResponseWriter, req *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
	r.Get("/json-error", func(w http.ResponseWriter, req *http.Request) error {
		return NewJsonError(http.StatusTeapot, "short and stout")
	})
	r.Get("/mapped", func(w http.ResponseWriter, req *http.Request) error {
		return errStorageDown
	})
	r.Get("/wrapped", func(w http.ResponseWriter, req *http.Request) error {
		return errors.Join(errors.New("context"), errStorageDown)
	})
	r.Get("/unknown", func(w http.ResponseWriter, req *http.Request) error {
		return errors.New("some internal detail")
	})

	t.Run("no error writes nothing extra", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/ok")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("returned JsonError is used as is", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/json-error")
		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.Equal(t, "short and stout", decodeError(t, w).Err)
	})

	t.Run("mapped sentinel", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/mapped")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("wrapped sentinel still matches", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/wrapped")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("unknown error falls back and hides detail", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/unknown")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "internal detail")
	})
}

func TestSubroutersInheritMappers(t *testing.T) {
	r := New()
	r.MapError(errStorageDown, func(err error) Error {
		return NewJsonError(http.StatusServiceUnavailable, err.Error())
	})
	r.Route("/api", func(api *Router) {
		api.Get("/fail", func(w http.ResponseWriter, req *http.Request) error {
			return errStorageDown
		})
	})

	w := doRequest(t, r, http.MethodGet, "/api/fail")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
