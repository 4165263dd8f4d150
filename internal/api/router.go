package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/feeddigest/internal/api/handler"
	apimw "github.com/notifyhub/feeddigest/internal/api/middleware"
	"github.com/notifyhub/feeddigest/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route.
func NewRouter(
	svc *service.RegistrationService,
	checks map[string]handler.Check,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.RequestID)
	r.Use(apimw.RequestLogger(logger))

	sh := handler.NewSourceHandler(svc, logger)
	hh := handler.NewHistoryHandler(svc)
	subh := handler.NewSubmissionHandler(svc, logger)
	qh := handler.NewQueueHandler(svc)
	health := handler.NewHealthHandler(checks)

	r.Get("/health", health.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/sources", sh.List)
			r.Post("/sources", sh.Add)
			r.Delete("/sources", sh.Remove)

			r.Get("/items", hh.List)
			r.Get("/items/{link}", hh.Show)
			r.Delete("/items", hh.Clear)
		})
		r.Post("/submissions", subh.Submit)
		r.Get("/queues", qh.Depths)
	})

	return r
}
