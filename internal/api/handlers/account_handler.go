package handlers

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/replywatch/replywatch-backend/internal/api/response"
	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/replywatch/replywatch-backend/internal/repository"
	"github.com/replywatch/replywatch-backend/internal/subscriptions"
	"github.com/replywatch/replywatch-backend/internal/validator"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// AccountHandler manages accounts and their live-tracking subscriptions
type AccountHandler struct {
	accounts repository.AccountRepository
	subs     repository.SubscriptionRepository
	manager  *subscriptions.Manager
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accounts repository.AccountRepository, subs repository.SubscriptionRepository, manager *subscriptions.Manager) *AccountHandler {
	return &AccountHandler{accounts: accounts, subs: subs, manager: manager}
}

// CreateAccountRequest is the payload for registering an account
type CreateAccountRequest struct {
	Email          string `json:"email"`
	ProviderUserID string `json:"provider_user_id"`
	RefreshToken   string `json:"refresh_token"`
}

// Create handles POST /api/accounts
func (h *AccountHandler) Create(c echo.Context) error {
	var req CreateAccountRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	req.Email = validator.NormalizeEmail(req.Email)
	if err := validator.ValidateEmail(req.Email); err != nil {
		return response.BadRequest(c, "a valid email is required")
	}
	if req.ProviderUserID == "" {
		return response.BadRequest(c, "provider_user_id is required")
	}

	account := &models.Account{
		Email:          req.Email,
		ProviderUserID: req.ProviderUserID,
		RefreshToken:   req.RefreshToken,
		Status:         models.AccountConnected,
	}
	if err := h.accounts.Create(c.Request().Context(), account); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateEntry) {
			return response.Conflict(c, "account already exists")
		}
		return response.InternalError(c, "failed to create account")
	}

	return response.Created(c, account)
}

// List handles GET /api/accounts
func (h *AccountHandler) List(c echo.Context) error {
	limit, offset := parsePagination(c)

	accounts, total, err := h.accounts.List(c.Request().Context(), limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list accounts")
	}

	return response.Paginated(c, accounts, total, limit, offset)
}

// Get handles GET /api/accounts/:id
func (h *AccountHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid account ID")
	}

	account, err := h.accounts.GetByID(c.Request().Context(), uint(id))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return response.NotFound(c, "account not found")
		}
		return response.InternalError(c, "failed to get account")
	}

	return response.Success(c, account)
}

// Connect handles POST /api/accounts/:id/subscriptions. It turns live
// tracking on for the account by creating a provider push subscription.
func (h *AccountHandler) Connect(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid account ID")
	}

	sub, err := h.manager.Create(c.Request().Context(), uint(id), models.ResourceMessages)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrSubscriptionExists):
			return response.Conflict(c, "an active subscription already exists")
		case apperrors.IsNotFound(err):
			return response.NotFound(c, "account not found")
		default:
			return response.Error(c, err)
		}
	}

	return response.Created(c, sub)
}

// ListSubscriptions handles GET /api/accounts/:id/subscriptions
func (h *AccountHandler) ListSubscriptions(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid account ID")
	}

	subs, err := h.subs.ListByAccount(c.Request().Context(), uint(id))
	if err != nil {
		return response.InternalError(c, "failed to list subscriptions")
	}

	return response.Success(c, subs)
}

// Disconnect handles DELETE /api/accounts/:id/subscriptions/:sid. Deleting
// a subscription that is already gone succeeds.
func (h *AccountHandler) Disconnect(c echo.Context) error {
	sid, err := strconv.ParseUint(c.Param("sid"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid subscription ID")
	}

	if err := h.manager.Delete(c.Request().Context(), uint(sid)); err != nil {
		return response.Error(c, err)
	}

	return response.NoContent(c)
}
