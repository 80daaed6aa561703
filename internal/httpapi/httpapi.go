// Package httpapi serves health, metrics and per-tenant generate/ingest
// endpoints over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/schizoid/markovbot/internal/markov"
)

// maxBodyBytes bounds a posted sentence.
const maxBodyBytes = 64 << 10

// Generator is the part of *markov.Chain the API needs.
type Generator interface {
	Generate(ctx context.Context, tenant string, opts ...markov.GenerateOption) (string, error)
	ImportSentence(ctx context.Context, tenant, raw string) (int, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	chain     Generator
	hardLimit int
	metrics   http.Handler
	logger    *zap.Logger
}

// New returns a server generating at most hardLimit tokens per sentence.
// metrics may be nil, in which case /metrics is not routed.
func New(chain Generator, hardLimit int, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{chain: chain, hardLimit: hardLimit, metrics: metrics, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1/tenants/{tenant}", func(r chi.Router) {
		r.Get("/sentence", s.generate)
		r.Post("/sentences", s.ingest)
	})
	return r
}

// NewHTTPServer wraps the router in an http.Server listening on addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	limit := s.hardLimit
	if raw := r.URL.Query().Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeText(w, http.StatusBadRequest, "max must be a positive integer")
			return
		}
		limit = min(n, s.hardLimit)
	}

	text, err := s.chain.Generate(r.Context(), tenant, markov.WithMaxTokens(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, text)
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "sentence too large")
			return
		}
		writeText(w, http.StatusBadRequest, "could not read body")
		return
	}

	n, err := s.chain.ImportSentence(r.Context(), tenant, strings.TrimSpace(string(body)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if n == 0 {
		writeText(w, http.StatusBadRequest, "sentence has no tokens")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, markov.ErrNoData):
		writeText(w, http.StatusNotFound, "No messages have been indexed for this tenant yet.")
	case errors.Is(err, markov.ErrInvalidInput):
		writeText(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, markov.ErrStorageUnavailable):
		s.logger.Warn("storage unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		writeText(w, http.StatusServiceUnavailable, "storage unavailable, try again later")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeText(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body+"\n")
}
