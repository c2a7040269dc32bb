package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/replywatch/replywatch-backend/internal/events"
	"github.com/replywatch/replywatch-backend/internal/metrics"
	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/replywatch/replywatch-backend/internal/provider"
	"github.com/replywatch/replywatch-backend/internal/quota"
	"github.com/replywatch/replywatch-backend/internal/repository"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// SubscriptionAPI is the provider surface the manager drives
type SubscriptionAPI interface {
	CreateSubscription(ctx context.Context, account *models.Account, req provider.SubscriptionRequest) (*provider.SubscriptionResponse, error)
	RenewSubscription(ctx context.Context, account *models.Account, providerSubID string, expiresAt time.Time) (*provider.SubscriptionResponse, error)
	DeleteSubscription(ctx context.Context, account *models.Account, providerSubID string) error
}

// QuotaChecker gates subscription operations against the account's budget
type QuotaChecker interface {
	CheckAndRecord(ctx context.Context, accountID uint, class quota.Class) (quota.Decision, error)
}

// Config tunes subscription lifecycle behavior
type Config struct {
	// Lifetime is how long a new or renewed subscription lasts
	Lifetime time.Duration
	// NotificationURL is the absolute webhook callback the provider posts to
	NotificationURL string
	// ErrorCeiling is how many consecutive renewal failures a subscription
	// survives before it is deleted
	ErrorCeiling int
}

// Manager owns the lifecycle of provider push subscriptions: create with an
// idempotency guard, renew with error accounting, delete idempotently.
type Manager struct {
	subs     repository.SubscriptionRepository
	accounts repository.AccountRepository
	api      SubscriptionAPI
	quota    QuotaChecker
	sink     events.Sink
	metrics  *metrics.Metrics
	cfg      Config
	logger   *slog.Logger
}

func NewManager(
	subs repository.SubscriptionRepository,
	accounts repository.AccountRepository,
	api SubscriptionAPI,
	quotaChecker QuotaChecker,
	sink events.Sink,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		subs:     subs,
		accounts: accounts,
		api:      api,
		quota:    quotaChecker,
		sink:     sink,
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
	}
}

// resourcePath builds the provider resource locator watched for the account
func resourcePath(account *models.Account, kind models.ResourceKind) string {
	return fmt.Sprintf("users/%s/%s", account.ProviderUserID, kind)
}

// Create registers a push subscription for the account and resource kind.
// At most one active subscription may exist per (account, resource); a
// second Create returns ErrSubscriptionExists. If persisting the local
// record fails after the remote subscription was created, the remote side is
// deleted best-effort so it does not orphan.
func (m *Manager) Create(ctx context.Context, accountID uint, kind models.ResourceKind) (*models.Subscription, error) {
	account, err := m.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	resource := resourcePath(account, kind)
	if existing, err := m.subs.FindActive(ctx, accountID, resource); err == nil {
		m.logger.Debug("active subscription already exists",
			slog.Uint64("account_id", uint64(accountID)),
			slog.Uint64("subscription_id", uint64(existing.ID)))
		return nil, apperrors.ErrSubscriptionExists
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	if _, err := m.quota.CheckAndRecord(ctx, accountID, quota.ClassSubscription); err != nil {
		return nil, err
	}

	clientState := uuid.NewString()
	expiresAt := time.Now().Add(m.cfg.Lifetime).UTC()

	remote, err := m.api.CreateSubscription(ctx, account, provider.SubscriptionRequest{
		ChangeType:         "created,updated,deleted",
		NotificationURL:    m.cfg.NotificationURL,
		Resource:           resource,
		ExpirationDateTime: expiresAt,
		ClientState:        clientState,
	})
	if err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		AccountID:              accountID,
		ProviderSubscriptionID: remote.ID,
		Resource:               resource,
		ChangeTypes:            remote.ChangeType,
		NotificationURL:        m.cfg.NotificationURL,
		ClientState:            clientState,
		ExpiresAt:              remote.ExpirationDateTime,
		IsActive:               true,
	}
	if err := m.subs.Create(ctx, sub); err != nil {
		// compensating action: the remote subscription must not outlive a
		// failed local persist
		if delErr := m.api.DeleteSubscription(ctx, account, remote.ID); delErr != nil {
			m.logger.Error("failed to delete orphaned remote subscription",
				slog.String("provider_subscription_id", remote.ID),
				slog.Any("error", delErr))
		}
		return nil, fmt.Errorf("persisting subscription: %w", err)
	}

	m.sink.Publish(events.Event{
		Type:      events.TypeSubscriptionCreated,
		AccountID: accountID,
		Payload:   map[string]any{"subscription_id": sub.ID, "resource": resource, "expires_at": sub.ExpiresAt},
	})
	m.logger.Info("subscription created",
		slog.Uint64("account_id", uint64(accountID)),
		slog.String("provider_subscription_id", remote.ID),
		slog.Time("expires_at", sub.ExpiresAt))
	return sub, nil
}

// Renew extends the subscription's expiry by the configured lifetime. A
// successful renewal resets the error counter; a failure increments it and,
// past the ceiling, deletes the subscription. A subscription the provider no
// longer knows is deleted locally right away.
func (m *Manager) Renew(ctx context.Context, subscriptionID uint) (*models.Subscription, error) {
	sub, err := m.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	account, err := m.accounts.GetByID(ctx, sub.AccountID)
	if err != nil {
		return nil, err
	}

	if _, err := m.quota.CheckAndRecord(ctx, sub.AccountID, quota.ClassSubscription); err != nil {
		m.metrics.Renewals.WithLabelValues("quota_denied").Inc()
		return nil, err
	}

	newExpiry := time.Now().Add(m.cfg.Lifetime).UTC()
	remote, err := m.api.RenewSubscription(ctx, account, sub.ProviderSubscriptionID, newExpiry)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// the provider already dropped it; clean up our side
			m.metrics.Renewals.WithLabelValues("gone").Inc()
			if delErr := m.subs.Delete(ctx, sub.ID); delErr != nil {
				return nil, delErr
			}
			return nil, apperrors.ErrSubscriptionNotFound
		}
		return nil, m.recordRenewalFailure(ctx, account, sub, err)
	}

	now := time.Now().UTC()
	sub.ExpiresAt = remote.ExpirationDateTime
	sub.ErrorCount = 0
	sub.LastError = ""
	sub.LastRenewedAt = &now
	if err := m.subs.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("persisting renewed subscription: %w", err)
	}

	m.metrics.Renewals.WithLabelValues("renewed").Inc()
	m.sink.Publish(events.Event{
		Type:      events.TypeSubscriptionRenewed,
		AccountID: sub.AccountID,
		Payload:   map[string]any{"subscription_id": sub.ID, "expires_at": sub.ExpiresAt},
	})
	m.logger.Info("subscription renewed",
		slog.Uint64("subscription_id", uint64(sub.ID)),
		slog.Time("expires_at", sub.ExpiresAt))
	return sub, nil
}

func (m *Manager) recordRenewalFailure(ctx context.Context, account *models.Account, sub *models.Subscription, renewErr error) error {
	sub.ErrorCount++
	sub.LastError = renewErr.Error()
	if err := m.subs.Update(ctx, sub); err != nil {
		m.logger.Error("failed to record renewal error",
			slog.Uint64("subscription_id", uint64(sub.ID)), slog.Any("error", err))
	}
	m.metrics.Renewals.WithLabelValues("failed").Inc()

	if m.cfg.ErrorCeiling > 0 && sub.ErrorCount >= m.cfg.ErrorCeiling {
		m.logger.Warn("subscription exceeded renewal error ceiling, deleting",
			slog.Uint64("subscription_id", uint64(sub.ID)),
			slog.Int("error_count", sub.ErrorCount))
		if err := m.deleteSubscription(ctx, account, sub); err != nil {
			m.logger.Error("failed to delete subscription past error ceiling",
				slog.Uint64("subscription_id", uint64(sub.ID)), slog.Any("error", err))
		}
	}
	return fmt.Errorf("renewing subscription %d: %w", sub.ID, renewErr)
}

// Delete removes the subscription remotely and locally. Deleting a
// subscription that is already gone is not an error.
func (m *Manager) Delete(ctx context.Context, subscriptionID uint) error {
	sub, err := m.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	account, err := m.accounts.GetByID(ctx, sub.AccountID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// no account to act as; drop the local record
			return m.subs.Delete(ctx, sub.ID)
		}
		return err
	}
	return m.deleteSubscription(ctx, account, sub)
}

func (m *Manager) deleteSubscription(ctx context.Context, account *models.Account, sub *models.Subscription) error {
	if err := m.api.DeleteSubscription(ctx, account, sub.ProviderSubscriptionID); err != nil {
		return fmt.Errorf("deleting remote subscription: %w", err)
	}
	if err := m.subs.Delete(ctx, sub.ID); err != nil {
		return err
	}
	m.sink.Publish(events.Event{
		Type:      events.TypeSubscriptionDeleted,
		AccountID: sub.AccountID,
		Payload:   map[string]any{"subscription_id": sub.ID},
	})
	m.logger.Info("subscription deleted",
		slog.Uint64("subscription_id", uint64(sub.ID)),
		slog.Uint64("account_id", uint64(sub.AccountID)))
	return nil
}
