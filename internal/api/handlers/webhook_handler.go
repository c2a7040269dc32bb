package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/replywatch/replywatch-backend/internal/provider"
	"github.com/replywatch/replywatch-backend/internal/queue"
	"github.com/replywatch/replywatch-backend/internal/repository"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// WebhookHandler receives provider push notifications and turns the valid
// ones into queue jobs. It always answers quickly; the provider retries and
// eventually disables subscriptions whose endpoint keeps failing.
type WebhookHandler struct {
	subs   repository.SubscriptionRepository
	queue  *queue.Queue
	logger *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(subs repository.SubscriptionRepository, q *queue.Queue, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{subs: subs, queue: q, logger: logger}
}

// Notifications handles POST /webhooks/notifications.
//
// The provider validates a new subscription endpoint by calling it with a
// validationToken query parameter; the token must be echoed back verbatim as
// text/plain. Actual notification batches carry no token and are
// authenticated by their clientState, which must match the stored
// subscription. Notifications that fail validation are dropped, never
// enqueued, and the endpoint still answers 202 so the provider does not
// disable the subscription over a transient mismatch.
func (h *WebhookHandler) Notifications(c echo.Context) error {
	if token := c.QueryParam("validationToken"); token != "" {
		return c.String(http.StatusOK, token)
	}

	var batch provider.NotificationBatch
	if err := c.Bind(&batch); err != nil {
		h.logger.Warn("malformed notification payload",
			slog.String("remote_ip", c.RealIP()),
			slog.Any("error", err))
		return c.NoContent(http.StatusAccepted)
	}

	ctx := c.Request().Context()
	accepted := 0
	for _, notification := range batch.Value {
		sub, err := h.subs.GetByProviderID(ctx, notification.SubscriptionID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				h.logger.Warn("notification for unknown subscription",
					slog.String("subscription_id", notification.SubscriptionID))
				continue
			}
			h.logger.Error("failed to resolve subscription",
				slog.String("subscription_id", notification.SubscriptionID),
				slog.Any("error", err))
			continue
		}

		if sub.ClientState != notification.ClientState {
			h.logger.Warn("notification with mismatched client state, dropping",
				slog.String("subscription_id", notification.SubscriptionID),
				slog.Uint64("account_id", uint64(sub.AccountID)))
			continue
		}

		if !sub.IsUsable() {
			h.logger.Warn("notification for inactive or expired subscription, dropping",
				slog.String("subscription_id", notification.SubscriptionID),
				slog.Uint64("account_id", uint64(sub.AccountID)))
			continue
		}

		if _, err := h.queue.AddJob(ctx, sub.AccountID, notification); err != nil {
			h.logger.Error("failed to enqueue notification",
				slog.String("subscription_id", notification.SubscriptionID),
				slog.Any("error", err))
			continue
		}
		accepted++
	}

	h.logger.Debug("notification batch processed",
		slog.Int("received", len(batch.Value)),
		slog.Int("accepted", accepted))
	return c.NoContent(http.StatusAccepted)
}
