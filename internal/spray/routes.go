package spray

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Post("/submissions", h.SubmissionWebhook)

	r.Get("/districts", h.Districts)
	r.Get("/areas/{code}/coverage", h.AreaCoverage)
	r.Get("/unmatched", h.Unmatched)
	r.Get("/performance/{operator}", h.OperatorPerformance)

	return r
}
