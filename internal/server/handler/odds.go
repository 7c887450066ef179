package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// OddsReader is the slice of the odds cache the handler reads.
type OddsReader interface {
	GetEvent(ctx context.Context, eventID string) (domain.EventOdds, error)
	SportEvents(ctx context.Context, sport string) ([]domain.EventOdds, error)
}

// OddsHandler serves the normalized odds of the latest pass straight from
// the cache. There is no store fallback: odds older than the cache TTL are
// not worth serving.
type OddsHandler struct {
	cache  OddsReader
	logger *slog.Logger
}

// NewOddsHandler creates an OddsHandler.
func NewOddsHandler(cache OddsReader, logger *slog.Logger) *OddsHandler {
	return &OddsHandler{
		cache:  cache,
		logger: logger.With(slog.String("handler", "odds")),
	}
}

type oddsListResponse struct {
	Sport  string             `json:"sport"`
	Events []domain.EventOdds `json:"events"`
	Count  int                `json:"count"`
}

// List returns the cached events of one sport.
// GET /api/odds?sport=
func (h *OddsHandler) List(w http.ResponseWriter, r *http.Request) {
	sport := r.URL.Query().Get("sport")
	if sport == "" {
		writeError(w, http.StatusBadRequest, "sport is required")
		return
	}

	events, err := h.cache.SportEvents(r.Context(), sport)
	if err != nil {
		h.logger.Warn("cache read failed", slog.String("sport", sport), slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "odds unavailable")
		return
	}
	writeJSON(w, http.StatusOK, oddsListResponse{Sport: sport, Events: events, Count: len(events)})
}

// Event returns the cached odds of one event.
// GET /api/events/{id}/odds
func (h *OddsHandler) Event(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	ev, err := h.cache.GetEvent(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ev)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "event odds not found")
	default:
		h.logger.Warn("cache read failed", slog.String("event_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "odds unavailable")
	}
}
