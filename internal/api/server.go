// SPDX-License-Identifier: MIT

// Package api exposes the operational HTTP surface: snapshot reads,
// forced refreshes, favorites, profiles, health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/chanfeed/chanfeed/internal/config"
	"github.com/chanfeed/chanfeed/internal/engine"
	"github.com/chanfeed/chanfeed/internal/log"
)

// Server wires the engine and config manager behind a chi router.
type Server struct {
	engine *engine.Engine
	cfg    *config.Manager
	logger zerolog.Logger
}

// New returns a Server around the given engine and config manager.
func New(eng *engine.Engine, cfg *config.Manager) *Server {
	return &Server{
		engine: eng,
		cfg:    cfg,
		logger: log.WithComponent("api"),
	}
}

// Router builds the full route tree with the canonical middleware
// stack applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.With(httprate.LimitByIP(6, time.Minute)).Post("/refresh", s.handleRefresh)
		r.Get("/favorites", s.handleFavorites)
		r.Post("/favorites/toggle", s.handleToggleFavorite)
		r.Get("/profiles", s.handleProfiles)
		r.Post("/profiles/active", s.handleSetActiveProfile)
		r.Put("/profiles/{id}", s.handleUpdateProfile)
		r.Post("/cache/invalidate", s.handleInvalidate)
	})

	return r
}

// accessLog logs one structured line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("event", "http.request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("request handled")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.loadAndRespond(w, r, engine.LoadOptions{})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Playlist bool `json:"playlist"`
		Guide    bool `json:"guide"`
	}
	// An empty body means refresh everything.
	req.Playlist, req.Guide = true, true
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	s.loadAndRespond(w, r, engine.LoadOptions{ForcePlaylist: req.Playlist, ForceGuide: req.Guide})
}

func (s *Server) loadAndRespond(w http.ResponseWriter, r *http.Request, opts engine.LoadOptions) {
	snap, err := s.engine.LoadSnapshot(r.Context(), opts, nil)
	if err != nil {
		var acq *engine.AcquisitionError
		status := http.StatusInternalServerError
		if errors.As(err, &acq) {
			status = http.StatusBadGateway
		}
		if errors.Is(err, context.Canceled) {
			// Client went away mid-load.
			return
		}
		s.logger.Error().Err(err).Str("event", "api.load_failed").Msg("snapshot load failed")
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleFavorites(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"favorite_groups": s.cfg.FavoriteGroups()})
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Group string `json:"group"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Group == "" {
		writeError(w, http.StatusBadRequest, "group is required")
		return
	}
	favorite, err := s.cfg.ToggleFavorite(req.Group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": req.Group, "favorite": favorite})
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	type profile struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Active bool   `json:"active"`
	}
	out := make([]profile, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		out = append(out, profile{ID: p.ID, Name: p.Name, Active: p.ID == cfg.ActiveProfile})
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": out})
}

func (s *Server) handleSetActiveProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := s.cfg.SetActiveProfile(req.ID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active_profile": req.ID})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		PlaylistURL string `json:"playlist_url"`
		GuideURL    string `json:"guide_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.cfg.UpdateProfile(id, req.PlaylistURL, req.GuideURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, _ *http.Request) {
	s.engine.InvalidateCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
