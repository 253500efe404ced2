package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/taped/internal/playback"
	"github.com/JakeFAU/taped/internal/store"
)

// listCassettes handles GET /api/cassettes. The pre-encoded snapshot body is
// written as-is; a matching If-None-Match yields 304 and an unpublished
// catalog yields 503.
func (s *Server) listCassettes(w http.ResponseWriter, r *http.Request) {
	snap, err := s.catalog.Snapshot()
	if err != nil {
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "catalog not ready")
		return
	}

	h := w.Header()
	h.Set("Cache-Control", "no-cache")
	h.Set("Last-Modified", snap.PublishedAt.UTC().Format(http.TimeFormat))
	if snap.ETag != "" {
		h.Set("ETag", snap.ETag)
		if etagMatches(r.Header.Get("If-None-Match"), snap.ETag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(snap.Body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(snap.Body); err != nil {
		s.logger.Warn("write catalog failed", zap.Error(err))
	}
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

// play handles GET /api/play/{uuid}: 400 for a malformed id, 404 for an
// unknown cassette, 500 when the player cannot be switched.
func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cassette id")
		return
	}
	cassette, err := s.player.Play(r.Context(), id)
	switch {
	case errors.Is(err, playback.ErrCassetteNotFound):
		writeError(w, http.StatusNotFound, "cassette not found")
		return
	case err != nil:
		s.logger.Error("play failed", zap.String("uuid", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "playback failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"uuid":   cassette.UUID.String(),
		"name":   cassette.Name,
		"status": "playing",
	})
}

// stop handles GET /api/stop.
func (s *Server) stop(w http.ResponseWriter, _ *http.Request) {
	if err := s.player.Stop(); err != nil {
		s.logger.Error("stop failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stop failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type statusResponse struct {
	State       string     `json:"state"`
	Cassettes   int        `json:"cassettes"`
	Source      string     `json:"source,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ETag        string     `json:"etag,omitempty"`
	Playing     *string    `json:"playing"`
}

// status handles GET /api/status.
func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{State: s.catalog.State().String()}
	if snap, err := s.catalog.Snapshot(); err == nil {
		resp.Cassettes = len(snap.Catalog)
		resp.Source = string(snap.Source)
		published := snap.PublishedAt
		resp.PublishedAt = &published
		resp.ETag = snap.ETag
	} else if !errors.Is(err, store.ErrNotReady) {
		s.logger.Warn("read snapshot failed", zap.Error(err))
	}
	if id, ok := s.player.Playing(); ok {
		playing := id.String()
		resp.Playing = &playing
	}
	writeJSON(w, http.StatusOK, resp)
}
