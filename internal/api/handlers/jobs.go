package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/settlement-reconciler/internal/api/middleware"
	"github.com/dvloznov/settlement-reconciler/internal/gcs"
	"github.com/dvloznov/settlement-reconciler/internal/jobs"
)

// maxUploadBytes caps a direct upload.
const maxUploadBytes = 32 << 20

// Uploader stores an uploaded file and returns its gs:// URI.
type Uploader interface {
	Upload(ctx context.Context, bucketName, objectName string, r io.Reader) (string, error)
}

// JobsHandler handles import job endpoints.
type JobsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	uploader  Uploader
	bucket    string
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler. uploader may be nil, which
// disables direct uploads.
func NewJobsHandler(publisher jobs.Publisher, store jobs.JobStore, uploader Uploader, bucket string, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		publisher: publisher,
		store:     store,
		uploader:  uploader,
		bucket:    bucket,
		log:       log,
	}
}

// EnqueueImport handles POST /api/imports for files already in GCS.
func (h *JobsHandler) EnqueueImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    string `json:"kind"`
		GCSURI  string `json:"gcs_uri"`
		Format  string `json:"format"`
		Source  string `json:"source"`
		Account string `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, _, err := gcs.ParseURI(req.GCSURI); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.enqueue(w, r, &jobs.ImportJob{
		Kind:    jobs.JobKind(req.Kind),
		GCSURI:  req.GCSURI,
		Format:  req.Format,
		Source:  req.Source,
		Account: req.Account,
	})
}

// UploadImport handles POST /api/imports/upload?kind=&format=&filename=&source=&account=
// The request body is the file. It is stored in the import bucket and
// enqueued.
func (h *JobsHandler) UploadImport(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil || h.bucket == "" {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Uploads are disabled: no GCS bucket configured")
		return
	}

	query := r.URL.Query()
	job := &jobs.ImportJob{
		Kind:    jobs.JobKind(query.Get("kind")),
		Format:  query.Get("format"),
		Source:  query.Get("source"),
		Account: query.Get("account"),
		GCSURI:  "gs://" + h.bucket + "/pending",
	}
	if err := job.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	filename := query.Get("filename")
	if filename == "" {
		filename = "upload." + job.Format
		if job.Kind == jobs.KindStatementPDF {
			filename = "statement.pdf"
		}
	}

	ctx := r.Context()
	object := gcs.ObjectName(string(job.Kind), filename, time.Now())
	uri, err := h.uploader.Upload(ctx, h.bucket, object, http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		h.log.Error().Err(err).Str("object", object).Msg("Failed to upload import file")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}
	job.GCSURI = uri

	h.enqueue(w, r, job)
}

func (h *JobsHandler) enqueue(w http.ResponseWriter, r *http.Request, job *jobs.ImportJob) {
	if err := job.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.publisher.PublishImport(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("kind", string(job.Kind)).Str("gcs_uri", job.GCSURI).Msg("Import job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  job.JobID,
		"gcs_uri": job.GCSURI,
		"status":  string(job.Status),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, StatusFor(err), "Job not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Kind:   jobs.JobKind(query.Get("kind")),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
