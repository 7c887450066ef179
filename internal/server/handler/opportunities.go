package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// CurrentReader is the slice of the opportunity cache the handler reads.
type CurrentReader interface {
	Current(ctx context.Context, sport string) ([]domain.Opportunity, error)
	GetOpportunity(ctx context.Context, id string) (domain.Opportunity, error)
}

// HistoryReader is the slice of the durable store the handler reads.
type HistoryReader interface {
	GetByID(ctx context.Context, id string) (domain.Opportunity, error)
	Query(ctx context.Context, f domain.OpportunityFilter) ([]domain.Opportunity, error)
}

// OpportunityHandler serves current and historical opportunities. Either
// source may be nil.
type OpportunityHandler struct {
	cache  CurrentReader
	store  HistoryReader
	now    func() time.Time
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(cache CurrentReader, store HistoryReader, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{
		cache:  cache,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("handler", "opportunities")),
	}
}

type listResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
	Count         int                  `json:"count"`
	Source        string               `json:"source"`
}

// List returns live opportunities from the cache snapshot, falling back to
// the store when the cache is empty or unavailable. Opportunities whose
// event has started are filtered out.
// GET /api/opportunities?sport=&limit=&min_profit=
func (h *OpportunityHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultLimit, maxLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	minProfit, ok := queryFloat(r, "min_profit")
	if !ok {
		writeError(w, http.StatusBadRequest, "min_profit must be a non-negative number")
		return
	}
	sport := r.URL.Query().Get("sport")
	now := h.now()

	var (
		opps   []domain.Opportunity
		source string
	)
	if h.cache != nil {
		cached, err := h.cache.Current(r.Context(), sport)
		if err != nil {
			h.logger.Warn("cache read failed", slog.String("error", err.Error()))
		} else if len(cached) > 0 {
			opps, source = cached, "cache"
		}
	}
	if source == "" && h.store != nil {
		stored, err := h.store.Query(r.Context(), domain.OpportunityFilter{
			Sport:     sport,
			MinProfit: minProfit,
			Limit:     limit,
		})
		if err != nil {
			h.logger.Error("store query failed", slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "opportunities unavailable")
			return
		}
		opps, source = stored, "store"
	}
	if source == "" {
		source = "none"
	}

	out := make([]domain.Opportunity, 0, len(opps))
	for _, o := range opps {
		if o.Expired || o.Commenced(now) || o.ProfitPercentage < minProfit {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, listResponse{Opportunities: out, Count: len(out), Source: source})
}

// Get returns a single opportunity by id, from the cache or the store.
// GET /api/opportunities/{id}
func (h *OpportunityHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	if h.cache != nil {
		opp, err := h.cache.GetOpportunity(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, opp)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.Warn("cache read failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}

	if h.store != nil {
		opp, err := h.store.GetByID(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, opp)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.Error("store read failed", slog.String("id", id), slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "opportunity unavailable")
			return
		}
	}

	writeError(w, http.StatusNotFound, "opportunity not found")
}
