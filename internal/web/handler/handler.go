// Package handler maps JSON:API HTTP requests onto the resource manager.
//
// Every request URL is parsed by the query converter, so the route only picks
// which manager call runs. Events collected by a call are emitted after the
// response has been written.
package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcekit/internal/web/format"
	"github.com/conduit-lang/resourcekit/internal/web/middleware"
	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/events"
	"github.com/conduit-lang/resourcekit/pkg/manager"
	"github.com/conduit-lang/resourcekit/pkg/query"
)

// DefaultMaxBodyBytes limits request documents when no limit is configured
const DefaultMaxBodyBytes = 1 << 20

// Options configures a handler
type Options struct {
	Logger       *zap.Logger
	MaxBodyBytes int64
}

// Handler serves the resource API of one manager
type Handler struct {
	manager   *manager.Manager
	conv      *query.Converter
	formatter *format.Formatter
	logger    *zap.Logger
	maxBody   int64
}

// New creates a handler. conv must use the same domain and prefix the
// routes are mounted under.
func New(m *manager.Manager, conv *query.Converter, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		manager:   m,
		conv:      conv,
		formatter: format.New(conv),
		logger:    opts.Logger,
		maxBody:   opts.MaxBodyBytes,
	}
}

// Formatter returns the formatter used to render responses
func (h *Handler) Formatter() *format.Formatter {
	return h.formatter
}

// Routes returns the resource routes relative to the API prefix
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(h.notFound)
	r.MethodNotAllowed(h.methodNotAllowed)

	r.Post("/operations", h.operations)

	r.Route("/{type}", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.add)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Patch("/", h.update)
			r.Delete("/", h.remove)

			r.Get("/{relationship}", h.relationship)

			r.Route("/relationships/{relationship}", func(r chi.Router) {
				r.Get("/", h.relationship)
				r.Post("/", h.addRelationships)
				r.Patch("/", h.updateRelationship)
				r.Delete("/", h.removeRelationships)
			})
		})
	})
	return r
}

// parse converts the request URL into a query, answering with the parse
// errors when it fails.
func (h *Handler) parse(w http.ResponseWriter, r *http.Request) (*query.Query, bool) {
	q, err := h.conv.Parse(r.URL.RequestURI())
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return q, true
}

// body reads the request document
func (h *Handler) body(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, apierror.NewErrorSet(&apierror.Error{
				Status: http.StatusRequestEntityTooLarge,
				Title:  "Request body too large",
				Detail: fmt.Sprintf("request documents are limited to %d bytes", tooLarge.Limit),
				Source: apierror.QuerySource(),
			}))
			return nil, false
		}
		h.fail(w, r, err)
		return nil, false
	}
	return data, true
}

// respond writes the outcome of a manager call. render turns a successful
// value into a status and a document; a nil document writes no body.
func respond[T any](h *Handler, w http.ResponseWriter, r *http.Request, resp *manager.Response[T], err error, render func(T) (int, any)) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !resp.Result.OK() {
		h.send(w, r, resp.Events, resp.Result.Err.Status(), format.Errors(resp.Result.Err))
		return
	}
	status, doc := render(resp.Result.Value)
	h.send(w, r, resp.Events, status, doc)
}

// send writes doc and then emits the call's events. Events are dropped when
// the response could not be written.
func (h *Handler) send(w http.ResponseWriter, r *http.Request, store *events.Store, status int, doc any) {
	if err := format.Write(w, status, doc); err != nil {
		h.logger.Warn("failed to write response",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
		return
	}
	if store == nil {
		return
	}
	if err := store.Emit(r.Context()); err != nil {
		h.logger.Warn("failed to emit events",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
}

// fail answers with a modeled error set, or with a 500 for anything else
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	set, ok := apierror.AsErrorSet(err)
	if !ok {
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		set = apierror.NewErrorSet(apierror.Internal("An unexpected error occurred"))
	}
	h.send(w, r, nil, set.Status(), format.Errors(set))
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.fail(w, r, apierror.NewErrorSet(apierror.NotFound(apierror.QuerySource(), fmt.Sprintf("no route for %s", r.URL.Path))))
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.fail(w, r, apierror.NewErrorSet(apierror.MethodNotAllowed(r.Method)))
}
