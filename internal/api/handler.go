// Package api exposes job submission, job status polling, cancellation and
// on-demand reminder passes over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-remind/internal/dispatcher"
	"github.com/djlord-it/easy-remind/internal/domain"
)

// Jobs is implemented by *dispatcher.Dispatcher.
type Jobs interface {
	Enqueue(ctx context.Context, jobType string, payload map[string]any, opts dispatcher.EnqueueOptions) (dispatcher.EnqueueResult, error)
	GetJobStatus(ctx context.Context, id int64) (*dispatcher.JobStatus, error)
	GetJobStatusByCorrelationID(ctx context.Context, correlationID string) (*dispatcher.JobStatus, error)
}

// Canceller moves a queued job to cancelled. Jobs in any other state are
// rejected with domain.ErrStatusTransitionDenied.
type Canceller interface {
	CancelJob(ctx context.Context, id int64) error
}

type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	jobs        Jobs
	canceller   Canceller
	db          HealthChecker // optional, nil = not reported
	corsOrigins []string
	logger      *zap.Logger
}

func NewHandler(jobs Jobs, canceller Canceller) *Handler {
	return &Handler{
		jobs:      jobs,
		canceller: canceller,
		logger:    zap.NewNop(),
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) WithCORS(origins []string) *Handler {
	h.corsOrigins = origins
	return h
}

func (h *Handler) WithLogger(logger *zap.Logger) *Handler {
	h.logger = logger.Named("api")
	return h
}

// Router builds the HTTP routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(h.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.corsOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.health)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.enqueueJob)
		r.Get("/correlation/{correlationID}", h.getJobByCorrelationID)
		r.Get("/{id}", h.getJob)
		r.Post("/{id}/cancel", h.cancelJob)
	})

	r.Post("/organizations/{orgID}/reminders/process", h.processReminders)

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) enqueueJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req EnqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateEnqueueJob(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.jobs.Enqueue(r.Context(), req.Type, req.Payload, dispatcher.EnqueueOptions{
		Priority:       domain.Priority(req.Priority),
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		CorrelationID:  req.CorrelationID,
		ScheduledFor:   req.ScheduledFor,
		MaxAttempts:    req.MaxAttempts,
	})
	h.writeEnqueueResult(w, res, err)
}

func (h *Handler) processReminders(w http.ResponseWriter, r *http.Request) {
	orgID, err := strconv.ParseInt(chi.URLParam(r, "orgID"), 10, 64)
	if err != nil || orgID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	res, err := h.jobs.Enqueue(r.Context(), domain.JobTypeReminderProcessing,
		map[string]any{"organization_id": orgID},
		dispatcher.EnqueueOptions{OrganizationID: &orgID},
	)
	h.writeEnqueueResult(w, res, err)
}

func (h *Handler) writeEnqueueResult(w http.ResponseWriter, res dispatcher.EnqueueResult, err error) {
	switch {
	case errors.Is(err, domain.ErrDuplicateCorrelationID):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "correlation_id already exists", CorrelationID: res.CorrelationID})
	case err != nil:
		h.logger.Error("enqueue failed", zap.String("correlation_id", res.CorrelationID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to enqueue job", CorrelationID: res.CorrelationID})
	default:
		writeJSON(w, http.StatusAccepted, EnqueueJobResponse{JobID: *res.JobID, CorrelationID: res.CorrelationID})
	}
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	status, err := h.jobs.GetJobStatus(r.Context(), id)
	h.writeStatus(w, status, err)
}

func (h *Handler) getJobByCorrelationID(w http.ResponseWriter, r *http.Request) {
	status, err := h.jobs.GetJobStatusByCorrelationID(r.Context(), chi.URLParam(r, "correlationID"))
	h.writeStatus(w, status, err)
}

func (h *Handler) writeStatus(w http.ResponseWriter, status *dispatcher.JobStatus, err error) {
	if err != nil {
		h.logger.Error("get job status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}

	err := h.canceller.CancelJob(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrStatusTransitionDenied):
		writeError(w, http.StatusConflict, "only queued jobs can be cancelled")
	default:
		h.logger.Error("cancel job failed", zap.Int64("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
