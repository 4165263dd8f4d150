package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/service"
)

// HistoryHandler exposes what a user has already received.
type HistoryHandler struct {
	svc *service.RegistrationService
}

func NewHistoryHandler(svc *service.RegistrationService) *HistoryHandler {
	return &HistoryHandler{svc: svc}
}

// List handles GET /api/v1/users/{userID}/items
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	entries, err := h.svc.History(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	if entries == nil {
		entries = []*domain.HistoryEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": entries, "total": len(entries)})
}

// Show handles GET /api/v1/users/{userID}/items/{link}. The link is one
// path segment, so clients escape it with url.PathEscape.
func (h *HistoryHandler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	link, err := url.PathUnescape(chi.URLParam(r, "link"))
	if err != nil || link == "" {
		mapError(w, domain.ErrInvalidLink)
		return
	}
	msg, err := h.svc.HistoryItem(r.Context(), id, link)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"link":        link,
		"source_name": msg.SourceName,
		"title":       msg.Title,
		"artifacts":   msg.Artifacts,
		"html":        msg.HTML(),
	})
}

// Clear handles DELETE /api/v1/users/{userID}/items
func (h *HistoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	n, err := h.svc.ClearHistory(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"removed": n})
}
