// Package api assembles the HTTP surface of the reconciler.
package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/settlement-reconciler/internal/api/handlers"
	"github.com/dvloznov/settlement-reconciler/internal/api/middleware"
	"github.com/dvloznov/settlement-reconciler/internal/jobs"
)

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Engine    handlers.Reconciler
	Exporter  handlers.AuditExporter // optional
	Publisher jobs.Publisher
	JobStore  jobs.JobStore
	Uploader  handlers.Uploader // optional
	Bucket    string
	Log       zerolog.Logger
}

// NewRouter returns the routed handler wrapped in the middleware chain.
func NewRouter(d Deps) http.Handler {
	sessions := handlers.NewSessionsHandler(d.Engine, d.Exporter, d.Log)
	buckets := handlers.NewBucketsHandler(d.Engine, d.Log)
	imports := handlers.NewJobsHandler(d.Publisher, d.JobStore, d.Uploader, d.Bucket, d.Log)

	mux := http.NewServeMux()

	// Sessions endpoints
	mux.HandleFunc("POST /api/sessions", sessions.OpenSession)
	mux.HandleFunc("GET /api/sessions", sessions.ListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessions.GetSession(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessions.Cancel(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/sessions/{id}/transactions/{txID}/toggle", func(w http.ResponseWriter, r *http.Request) {
		sessions.ToggleTransaction(w, r, r.PathValue("id"), r.PathValue("txID"))
	})
	mux.HandleFunc("POST /api/sessions/{id}/entries/{entryID}/toggle", func(w http.ResponseWriter, r *http.Request) {
		sessions.ToggleEntry(w, r, r.PathValue("id"), r.PathValue("entryID"))
	})
	mux.HandleFunc("GET /api/sessions/{id}/preview", func(w http.ResponseWriter, r *http.Request) {
		sessions.Preview(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/sessions/{id}/commit", func(w http.ResponseWriter, r *http.Request) {
		sessions.Commit(w, r, r.PathValue("id"))
	})

	// Buckets endpoints
	mux.HandleFunc("GET /api/buckets", buckets.ListBuckets)

	// Import endpoints
	mux.HandleFunc("POST /api/imports", imports.EnqueueImport)
	mux.HandleFunc("POST /api/imports/upload", imports.UploadImport)
	mux.HandleFunc("GET /api/jobs", imports.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		imports.GetJob(w, r, r.PathValue("id"))
	})

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(d.Log)(
		middleware.RequestID(
			middleware.Logger(d.Log)(
				middleware.CORS(
					middleware.Operator(mux),
				),
			),
		),
	)
}
