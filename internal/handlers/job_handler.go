// -----------------------------------------------------------------------
// Job Handler - HTTP surface for job submission, query, and cancellation
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// JobHandler exposes the job-control surface over HTTP
type JobHandler struct {
	jobService interfaces.JobService
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService interfaces.JobService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// SubmitHandler handles POST /api/ingest
func (h *JobHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req interfaces.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := h.jobService.Submit(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// ListHandler handles GET /api/jobs
func (h *JobHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	opts := &models.JobListOptions{
		Status:     models.JobStatus(r.URL.Query().Get("status")),
		RepoPrefix: r.URL.Query().Get("repo_prefix"),
		Limit:      QueryInt(r, "limit", 50),
		Offset:     QueryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			opts.Since = &ts
		}
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			opts.Until = &ts
		}
	}

	jobs, err := h.jobService.ListJobs(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := pathSegment(r.URL.Path, "/api/jobs/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	job, err := h.jobService.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// CancelHandler handles POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	jobID := strings.TrimSuffix(pathSegment(r.URL.Path, "/api/jobs/"), "/cancel")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	if err := h.jobService.Cancel(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteSuccess(w, "cancellation requested")
}

// EventsHandler handles GET /api/jobs/{id}/events?since_sequence=k
func (h *JobHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := strings.TrimSuffix(pathSegment(r.URL.Path, "/api/jobs/"), "/events")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}
	sinceSequence := QueryUint64(r, "since_sequence", 0)

	events, err := h.jobService.Events(r.Context(), jobID, sinceSequence)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"events": events,
		"count":  len(events),
	})
}

// writeServiceError maps the error taxonomy onto HTTP status codes
func (h *JobHandler) writeServiceError(w http.ResponseWriter, err error) {
	var record *models.ErrorRecord
	if errors.As(err, &record) {
		switch record.Kind {
		case models.ErrNotFound:
			WriteError(w, http.StatusNotFound, record.Message)
			return
		case models.ErrInvalidPipeline, models.ErrRepoNotAccessible:
			WriteJSON(w, http.StatusBadRequest, map[string]any{
				"status": "error",
				"kind":   record.Kind,
				"error":  record.Message,
			})
			return
		}
	}

	h.logger.Error().Err(err).Msg("Job service request failed")
	WriteError(w, http.StatusInternalServerError, err.Error())
}

// pathSegment extracts the remainder of the path after a prefix.
// Trailing sub-segments are kept for the caller to strip.
func pathSegment(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.Trim(path[len(prefix):], "/")
}
