package handler

import (
	"net/http"
	"sort"

	"github.com/notifyhub/feeddigest/internal/service"
)

// QueueHandler serves a human-readable JSON snapshot of the queue store.
// Raw Prometheus metrics are available at /metrics.
type QueueHandler struct {
	svc *service.RegistrationService
}

func NewQueueHandler(svc *service.RegistrationService) *QueueHandler {
	return &QueueHandler{svc: svc}
}

type queueDepth struct {
	Queue string `json:"queue"`
	Depth int    `json:"depth"`
}

// Depths handles GET /api/v1/queues
func (h *QueueHandler) Depths(w http.ResponseWriter, r *http.Request) {
	depths, err := h.svc.QueueDepths(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	out := make([]queueDepth, 0, len(depths))
	total := 0
	for k, n := range depths {
		out = append(out, queueDepth{Queue: k.String(), Depth: n})
		total += n
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })
	respondJSON(w, http.StatusOK, map[string]any{"queues": out, "total": total})
}
