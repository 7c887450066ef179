package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// AuditReader lists recorded pipeline events.
type AuditReader interface {
	Recent(ctx context.Context, event string, limit int) ([]domain.AuditEntry, error)
}

// PassHandler serves the recent pipeline pass log.
type PassHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewPassHandler creates a PassHandler.
func NewPassHandler(audit AuditReader, logger *slog.Logger) *PassHandler {
	return &PassHandler{audit: audit, logger: logger.With(slog.String("handler", "passes"))}
}

// Recent lists the latest completed passes.
// GET /api/passes?limit=
func (h *PassHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 20, 200)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	entries, err := h.audit.Recent(r.Context(), domain.AuditPassCompleted, limit)
	if err != nil {
		h.logger.Error("audit read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "pass log unavailable")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"passes": entries})
}
