package router

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

var DefaultError = JsonError{
	Code: http.StatusInternalServerError,
	Err:  "internal server error",
}

// Router wraps chi.Router so handlers can return an error that gets mapped to
// a JSON error response. Mappers are registered per sentinel error.
type Router struct {
	chi.Router
	mappers      []mapping
	defaultError JsonError
	logger       *slog.Logger
}

type mapping struct {
	sentinel error
	fn       func(error) Error
}

func New(opts ...RouterOption) *Router {
	return wrap(chi.NewRouter(), opts...)
}

type RouterOption func(*Router)

func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithDefaultError(err JsonError) RouterOption {
	return func(r *Router) {
		r.defaultError = err
	}
}

func wrap(chiRouter chi.Router, opts ...RouterOption) *Router {
	router := &Router{
		Router:       chiRouter,
		defaultError: DefaultError,
		logger:       slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(router)
	}
	return router
}

// HandlerFunc handles an HTTP request and returns an error. A failing handler
// should not write to the response writer; it returns the error instead.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

func (a *Router) MapError(sentinel error, fn func(error) Error) {
	a.mappers = append(a.mappers, mapping{sentinel: sentinel, fn: fn})
}

func (a *Router) mapError(err error) Error {
	var apiErr JsonError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, m := range a.mappers {
		if errors.Is(err, m.sentinel) {
			return m.fn(err)
		}
	}
	return a.defaultError
}

func (a *Router) handleWithErr(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err != nil {
			a.logger.Error(err.Error(), slog.String("path", r.URL.Path))
			resError := a.mapError(err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(resError.StatusCode())
			if err := json.NewEncoder(w).Encode(resError); err != nil {
				a.logger.Error(err.Error())
			}
		}
	}
}

func (a *Router) Get(path string, h HandlerFunc) {
	a.Router.Get(path, a.handleWithErr(h))
}

func (a *Router) Post(path string, h HandlerFunc) {
	a.Router.Post(path, a.handleWithErr(h))
}

func (a *Router) Put(path string, h HandlerFunc) {
	a.Router.Put(path, a.handleWithErr(h))
}

func (a *Router) Delete(path string, h HandlerFunc) {
	a.Router.Delete(path, a.handleWithErr(h))
}

func (a *Router) Route(path string, f func(r *Router)) {
	a.Router.Route(path, func(r chi.Router) {
		sub := wrap(r)
		sub.logger = a.logger
		sub.defaultError = a.defaultError
		sub.mappers = a.mappers
		f(sub)
	})
}

func (a *Router) With(middleware func(http.Handler) http.Handler) *Router {
	sub := wrap(a.Router.With(middleware))
	sub.logger = a.logger
	sub.defaultError = a.defaultError
	sub.mappers = a.mappers
	return sub
}
