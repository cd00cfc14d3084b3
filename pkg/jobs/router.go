package jobs

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for the refresh job API.
func Router(store *JobStore) chi.Router {
	r := chi.NewRouter()
	r.Post("/", EnqueueJobHandler(store))
	r.Get("/", ListJobsHandler(store))
	r.Get("/{jobID}", GetJobHandler(store))
	r.Post("/{jobID}/cancel", CancelJobHandler(store))
	return r
}
