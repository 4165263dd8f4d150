package handler

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/feeddigest/internal/api/middleware"
	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/service"
)

// SourceHandler manages a user's subscriptions.
type SourceHandler struct {
	svc    *service.RegistrationService
	logger *zap.Logger
}

func NewSourceHandler(svc *service.RegistrationService, logger *zap.Logger) *SourceHandler {
	return &SourceHandler{svc: svc, logger: logger}
}

// List handles GET /api/v1/users/{userID}/sources
func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	sources, err := h.svc.ListSources(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	if sources == nil {
		sources = []*domain.Source{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": sources})
}

// Add handles POST /api/v1/users/{userID}/sources
func (h *SourceHandler) Add(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req domain.AddSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	src, err := h.svc.AddSource(r.Context(), id, req)
	if err != nil {
		h.logger.Warn("add source failed",
			zap.String("request_id", apimw.GetRequestID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, src)
}

// Remove handles DELETE /api/v1/users/{userID}/sources?key=...
func (h *SourceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	key := domain.QueueKey(strings.TrimSpace(r.URL.Query().Get("key")))
	if !key.Valid() {
		mapError(w, domain.ErrInvalidSourceKey)
		return
	}
	if err := h.svc.RemoveSource(r.Context(), id, key); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
