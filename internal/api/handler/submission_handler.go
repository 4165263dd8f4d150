package handler

import (
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/feeddigest/internal/api/middleware"
	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/service"
)

// SubmissionHandler accepts links for the priority lane.
type SubmissionHandler struct {
	svc    *service.RegistrationService
	logger *zap.Logger
}

func NewSubmissionHandler(svc *service.RegistrationService, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{svc: svc, logger: logger}
}

// Submit handles POST /api/v1/submissions. The item is processed ahead of
// every source queue on the next dispatch pass.
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.logger.Warn("submission rejected",
			zap.String("request_id", apimw.GetRequestID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, item)
}
