// Package server exposes a store over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cqkv/logkv"
	"github.com/go-chi/chi/v5"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeBinary      = "application/octet-stream"
	defaultAddr            = ":8080"
	defaultShutdownTimeout = time.Second * 5
)

// Store is the part of the engine served over HTTP
type Store interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Compact() error
	Stat() logkv.Stat
}

type Server struct {
	store        Store
	logger       *slog.Logger
	maxValueSize int64

	httpServer *http.Server
	addr       string
}

// New creates a server listening on addr once started.
// Request bodies larger than maxValueSize are rejected, zero means unlimited.
func New(store Store, addr string, maxValueSize int64, logger *slog.Logger) *Server {
	if addr == "" {
		addr = defaultAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:        store,
		logger:       logger,
		maxValueSize: maxValueSize,
		addr:         addr,
	}
}

// Handler builds the chi router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/stat", s.handleStat)
	r.Post("/compact", s.handleCompact)
	r.Get("/kv/{key}", s.handleGet)
	r.Put("/kv/{key}", s.handlePut)
	r.Delete("/kv/{key}", s.handleDelete)

	return r
}

// Start listens and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server started", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding response", "error", err)
	}
}

// writeError maps engine errors onto status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, logkv.ErrKeyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, logkv.ErrEmptyKey), errors.Is(err, logkv.ErrKeyTooLarge), errors.Is(err, logkv.ErrValueTooLarge):
		status = http.StatusBadRequest
	case errors.Is(err, logkv.ErrCompactionRunning):
		status = http.StatusConflict
	case errors.Is(err, logkv.ErrClosed):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	value, err := s.store.Get([]byte(chi.URLParam(r, "key")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	// values are bytes, they go back exactly as stored
	w.Header().Set("Content-Type", contentTypeBinary)
	w.Header().Set("Content-Length", strconv.Itoa(len(value)))
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(value); err != nil {
		s.logger.Warn("Error writing value", "error", err)
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	body := io.Reader(r.Body)
	if s.maxValueSize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxValueSize)
	}
	value, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, logkv.ErrValueTooLarge)
			return
		}
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to read body"))
		return
	}

	if err = s.store.Put([]byte(chi.URLParam(r, "key")), value); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete([]byte(chi.URLParam(r, "key"))); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleCompact(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.Compact(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleStat(w http.ResponseWriter, _ *http.Request) {
	st := s.store.Stat()
	s.writeJSON(w, http.StatusOK, StatResponse{
		KeyNum:          st.KeyNum,
		SegmentNum:      st.SegmentNum,
		DiskSize:        st.DiskSize,
		ReclaimableSize: st.ReclaimableSize,
	})
}
