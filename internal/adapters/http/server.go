// Package http serves the read-mostly status API of a running controller.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/forkline"
	"github.com/aretw0/forkline/internal/logging"
	"github.com/aretw0/forkline/internal/rotation"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Rotator runs one rotation check against the persisted state.
type Rotator interface {
	Run(ctx context.Context) (rotation.Result, error)
}

// QuotaFunc probes every identity of the pool.
type QuotaFunc func(ctx context.Context) []domain.QuotaReport

// Server holds the handlers' collaborators. Nil collaborators disable their routes.
type Server struct {
	Store   ports.StateStore
	Rotator Rotator
	Quota   QuotaFunc
	Metrics http.Handler
	Logger  *slog.Logger
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State  *domain.State             `json:"state"`
	Active *domain.ForkNode          `json:"active,omitempty"`
	Counts map[domain.ForkStatus]int `json:"counts"`
}

// NewHandler creates the HTTP handler for s.
func NewHandler(s *Server) http.Handler {
	if s.Logger == nil {
		s.Logger = logging.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Read-only status routes may be polled from a browser dashboard.
	r.Group(func(r chi.Router) {
		r.Use(allowAnyOrigin)
		r.Get("/health", s.health)
		r.Get("/info", s.info)
		if s.Store != nil {
			r.Get("/status", s.status)
		}
	})
	if s.Quota != nil {
		r.Get("/quota", s.quota)
	}
	if s.Rotator != nil {
		r.Post("/rotate", s.rotate)
	}
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}
	return r
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "forkline-http",
		"version": strings.TrimSpace(forkline.Version),
	})
}

// status handles GET /status.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	state, err := s.Store.Load(r.Context())
	if err != nil {
		s.fail(w, "status", err)
		return
	}
	resp := StatusResponse{State: state, Counts: state.Counts()}
	if idx := state.Active(); idx >= 0 {
		node := state.Nodes[idx]
		resp.Active = &node
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// quota handles GET /quota.
func (s *Server) quota(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Quota(r.Context()))
}

// rotate handles POST /rotate.
func (s *Server) rotate(w http.ResponseWriter, r *http.Request) {
	result, err := s.Rotator.Run(r.Context())
	if err != nil {
		s.fail(w, "rotate", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrLeaseHeld):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrStateCorrupt):
		code = http.StatusUnprocessableEntity
	}
	s.Logger.Error("request failed", "op", op, "status", code, "err", err)
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("response encode failed", "err", err)
	}
}
