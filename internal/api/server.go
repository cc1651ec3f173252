// Package api binds the job service façade to HTTP (spec §6 binding table).
// Routing, decoding, and status-code mapping live here and nowhere else;
// internal/service holds all the decision logic this package used to
// inline directly against store/queue in the teacher's api/server.go.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"distributed-download-service/internal/job"
	"distributed-download-service/internal/service"
	"distributed-download-service/internal/telemetry"
)

// Storage is the subset of artifact.Storage the health endpoint needs; kept
// narrow here so this package doesn't import artifact just for one method.
type Storage interface {
	HealthCheck(ctx context.Context) error
}

// Server wires HTTP handlers for the download job API.
type Server struct {
	facade  *service.Facade
	storage Storage
}

// New constructs the API server.
func New(facade *service.Facade, storage Storage) *Server {
	return &Server{facade: facade, storage: storage}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/v1/download/initiate", s.handleInitiate)
	r.Get("/v1/download/status/{jobId}", s.handleStatus)
	r.Get("/v1/download/{jobId}", s.handleResolve)

	return r
}

type initiateRequest struct {
	FileIDs         []int64 `json:"file_ids"`
	ClientRequestID string  `json:"clientRequestId"`
	UserID          string  `json:"userId"`
	Priority        string  `json:"priority"`
}

type initiateResponse struct {
	JobID        string     `json:"jobId"`
	Status       job.Status `json:"status"`
	NextPollInMs int64      `json:"nextPollInMs"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	TotalFileIDs int        `json:"totalFileIds"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	res, err := s.facade.Initiate(service.InitiateRequest{
		FileIDs:         req.FileIDs,
		ClientRequestID: req.ClientRequestID,
		UserID:          req.UserID,
		Priority:        job.Priority(req.Priority),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, initiateResponse{
		JobID:        res.JobID,
		Status:       res.Status,
		NextPollInMs: res.NextPollInMs,
		ExpiresAt:    res.ExpiresAt,
		TotalFileIDs: res.TotalFileIDs,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	snap, err := s.facade.Status(jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(snap))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	asJSON := r.URL.Query().Get("format") == "json"

	outcome := s.facade.Resolve(jobID)
	switch outcome.Outcome {
	case service.ResolveRedirect:
		if asJSON {
			writeJSON(w, http.StatusOK, snapshotResponse(outcome.Job))
			return
		}
		http.Redirect(w, r, outcome.Job.Result.URL, http.StatusFound)
	case service.ResolveNotReady:
		writeJSON(w, http.StatusConflict, snapshotResponse(outcome.Job))
	case service.ResolveGone:
		writeJSON(w, http.StatusGone, snapshotResponse(outcome.Job))
	default:
		writeError(w, http.StatusNotFound, "job not found")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storageStatus := "ok"
	code := http.StatusOK
	if s.storage != nil {
		if err := s.storage.HealthCheck(r.Context()); err != nil {
			storageStatus = "error"
			code = http.StatusServiceUnavailable
		}
	}
	status := "healthy"
	if code != http.StatusOK {
		status = "unhealthy"
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": map[string]string{"storage": storageStatus},
	})
}

type resultResponse struct {
	URL          string    `json:"url,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
	Size         int64     `json:"size,omitempty"`
	URLExpiresAt time.Time `json:"urlExpiresAt,omitempty"`
}

type errorDetailResponse struct {
	Code          string    `json:"code,omitempty"`
	Message       string    `json:"message,omitempty"`
	LastAttemptAt time.Time `json:"lastAttemptAt,omitempty"`
}

type jobResponse struct {
	JobID           string              `json:"jobId"`
	FileIDs         []int64             `json:"fileIds"`
	ClientRequestID string              `json:"clientRequestId,omitempty"`
	UserID          string              `json:"userId,omitempty"`
	Priority        job.Priority        `json:"priority"`
	Status          job.Status          `json:"status"`
	ProgressPercent int                 `json:"progressPercent"`
	Message         string              `json:"message,omitempty"`
	Attempts        int                 `json:"attempts"`
	MaxAttempts     int                 `json:"maxAttempts"`
	Result          resultResponse      `json:"result,omitempty"`
	Error           errorDetailResponse `json:"error,omitempty"`
	RetryAfterMs    int64               `json:"retryAfterMs,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	StartedAt       time.Time           `json:"startedAt,omitempty"`
	CompletedAt     time.Time           `json:"completedAt,omitempty"`
	ExpiresAt       time.Time           `json:"expiresAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

func snapshotResponse(j job.Job) jobResponse {
	return jobResponse{
		JobID:           j.JobID,
		FileIDs:         j.FileIDs,
		ClientRequestID: j.ClientRequestID,
		UserID:          j.UserID,
		Priority:        j.Priority,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		Message:         j.Message,
		Attempts:        j.Attempts,
		MaxAttempts:     j.MaxAttempts,
		Result: resultResponse{
			URL:          j.Result.URL,
			Checksum:     j.Result.Checksum,
			Size:         j.Result.Size,
			URLExpiresAt: j.Result.URLExpiresAt,
		},
		Error: errorDetailResponse{
			Code:          j.Error.Code,
			Message:       j.Error.Message,
			LastAttemptAt: j.Error.LastAttemptAt,
		},
		RetryAfterMs: j.RetryAfterMs,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		ExpiresAt:    j.ExpiresAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	svcErr, ok := err.(*service.Error)
	if !ok {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch svcErr.Kind {
	case service.KindValidation:
		writeError(w, http.StatusBadRequest, svcErr.Message)
	case service.KindServiceBusy:
		writeError(w, http.StatusServiceUnavailable, svcErr.Message)
	case service.KindNotFound:
		writeError(w, http.StatusNotFound, svcErr.Message)
	case service.KindGone:
		writeError(w, http.StatusGone, svcErr.Message)
	default:
		writeError(w, http.StatusInternalServerError, svcErr.Message)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
