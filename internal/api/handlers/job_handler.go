package handlers

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/replywatch/replywatch-backend/internal/api/response"
	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/replywatch/replywatch-backend/internal/repository"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// JobHandler exposes the queue for inspection and manual requeue of
// dead-lettered jobs
type JobHandler struct {
	jobs repository.JobRepository
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobs repository.JobRepository) *JobHandler {
	return &JobHandler{jobs: jobs}
}

var validJobStatuses = map[models.JobStatus]bool{
	models.JobPending:    true,
	models.JobProcessing: true,
	models.JobCompleted:  true,
	models.JobFailed:     true,
	models.JobDeadLetter: true,
}

// List handles GET /api/jobs?status=&limit=&offset=
func (h *JobHandler) List(c echo.Context) error {
	status := models.JobStatus(c.QueryParam("status"))
	if status == "" {
		status = models.JobDeadLetter
	}
	if !validJobStatuses[status] {
		return response.BadRequest(c, "invalid job status")
	}

	limit, offset := parsePagination(c)

	jobs, total, err := h.jobs.ListByStatus(c.Request().Context(), status, limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list jobs")
	}

	return response.Paginated(c, jobs, total, limit, offset)
}

// Stats handles GET /api/jobs/stats
func (h *JobHandler) Stats(c echo.Context) error {
	counts, err := h.jobs.CountByStatus(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "failed to count jobs")
	}
	return response.Success(c, counts)
}

// Requeue handles POST /api/jobs/:id/requeue. The job returns to pending
// with a fresh retry budget and is picked up on the next worker tick.
func (h *JobHandler) Requeue(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid job ID")
	}

	ctx := c.Request().Context()
	if err := h.jobs.Requeue(ctx, uint(id)); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrJobNotFound) {
			return response.NotFound(c, "job not found or not in a terminal state")
		}
		return response.InternalError(c, "failed to requeue job")
	}

	job, err := h.jobs.GetByID(ctx, uint(id))
	if err != nil {
		return response.InternalError(c, "failed to load requeued job")
	}
	return response.Success(c, job)
}
