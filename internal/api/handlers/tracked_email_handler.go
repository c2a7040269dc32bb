package handlers

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/replywatch/replywatch-backend/internal/api/response"
	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/replywatch/replywatch-backend/internal/repository"
	"github.com/replywatch/replywatch-backend/internal/validator"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// TrackedEmailHandler handles tracked-email HTTP requests
type TrackedEmailHandler struct {
	trackedEmails repository.TrackedEmailRepository
	responses     repository.ResponseRepository
}

// NewTrackedEmailHandler creates a new TrackedEmailHandler
func NewTrackedEmailHandler(trackedEmails repository.TrackedEmailRepository, responses repository.ResponseRepository) *TrackedEmailHandler {
	return &TrackedEmailHandler{trackedEmails: trackedEmails, responses: responses}
}

// TrackedEmailDetail is a tracked email with its recorded responses
type TrackedEmailDetail struct {
	models.TrackedEmail
	Responses []models.EmailResponse `json:"responses"`
}

func parsePagination(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	return validator.ValidatePagination(limit, offset)
}

// List handles GET /api/tracked-emails?account_id=&limit=&offset=
func (h *TrackedEmailHandler) List(c echo.Context) error {
	accountID, err := strconv.ParseUint(c.QueryParam("account_id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "account_id is required")
	}

	limit, offset := parsePagination(c)

	emails, total, err := h.trackedEmails.List(c.Request().Context(), uint(accountID), limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list tracked emails")
	}

	return response.Paginated(c, emails, total, limit, offset)
}

// Get handles GET /api/tracked-emails/:id
func (h *TrackedEmailHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid tracked email ID")
	}

	ctx := c.Request().Context()
	email, err := h.trackedEmails.GetByID(ctx, uint(id))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrTrackedEmailNotFound) {
			return response.NotFound(c, "tracked email not found")
		}
		return response.InternalError(c, "failed to get tracked email")
	}

	responses, err := h.responses.ListByTrackedEmail(ctx, email.ID)
	if err != nil {
		return response.InternalError(c, "failed to list responses")
	}

	return response.Success(c, TrackedEmailDetail{
		TrackedEmail: *email,
		Responses:    responses,
	})
}

// Summary handles GET /api/analytics/summary?account_id=
func (h *TrackedEmailHandler) Summary(c echo.Context) error {
	accountID, err := strconv.ParseUint(c.QueryParam("account_id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "account_id is required")
	}

	summary, err := h.trackedEmails.Summary(c.Request().Context(), uint(accountID))
	if err != nil {
		return response.InternalError(c, "failed to build summary")
	}

	return response.Success(c, summary)
}
