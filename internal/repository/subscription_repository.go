package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/replywatch/replywatch-backend/internal/models"
	"gorm.io/gorm"
)

// SubscriptionRepository defines the interface for subscription data access
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id uint) (*models.Subscription, error)
	GetByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error)
	// FindActive returns the usable subscription for the (account, resource)
	// pair, or ErrNotFound. Rows past their expiry do not count even when the
	// active flag has not been flipped yet.
	FindActive(ctx context.Context, accountID uint, resource string) (*models.Subscription, error)
	// ListExpiringWithin returns active, not-yet-expired subscriptions whose
	// expiry falls inside the given window, oldest expiry first.
	ListExpiringWithin(ctx context.Context, window time.Duration) ([]models.Subscription, error)
	ListByAccount(ctx context.Context, accountID uint) ([]models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) error
	Deactivate(ctx context.Context, id uint) error
	Delete(ctx context.Context, id uint) error
}

// subscriptionRepository implements SubscriptionRepository using GORM
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new SubscriptionRepository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create creates a new subscription
func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	result := r.db.WithContext(ctx).Create(sub)
	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create subscription: %w", result.Error)
	}
	return nil
}

// GetByID retrieves a subscription by its local ID
func (r *subscriptionRepository) GetByID(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	result := r.db.WithContext(ctx).First(&sub, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription by ID: %w", result.Error)
	}
	return &sub, nil
}

// GetByProviderID retrieves a subscription by the provider-assigned ID
func (r *subscriptionRepository) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	result := r.db.WithContext(ctx).
		Where("provider_subscription_id = ?", providerSubscriptionID).
		First(&sub)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription by provider ID: %w", result.Error)
	}
	return &sub, nil
}

// FindActive returns the usable subscription for the (account, resource) pair
func (r *subscriptionRepository) FindActive(ctx context.Context, accountID uint, resource string) (*models.Subscription, error) {
	var sub models.Subscription
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND resource = ? AND is_active = ? AND expires_at > ?",
			accountID, resource, true, time.Now()).
		First(&sub)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find active subscription: %w", result.Error)
	}
	return &sub, nil
}

// ListExpiringWithin returns active subscriptions expiring inside the window
func (r *subscriptionRepository) ListExpiringWithin(ctx context.Context, window time.Duration) ([]models.Subscription, error) {
	now := time.Now()
	var subs []models.Subscription
	result := r.db.WithContext(ctx).
		Where("is_active = ? AND expires_at > ? AND expires_at <= ?", true, now, now.Add(window)).
		Order("expires_at").
		Find(&subs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list expiring subscriptions: %w", result.Error)
	}
	return subs, nil
}

// ListByAccount returns all subscriptions for the account, newest first
func (r *subscriptionRepository) ListByAccount(ctx context.Context, accountID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&subs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", result.Error)
	}
	return subs, nil
}

// Update persists the full subscription row
func (r *subscriptionRepository) Update(ctx context.Context, sub *models.Subscription) error {
	result := r.db.WithContext(ctx).Save(sub)
	if result.Error != nil {
		return fmt.Errorf("failed to update subscription: %w", result.Error)
	}
	return nil
}

// Deactivate flips the active flag without removing the row
func (r *subscriptionRepository) Deactivate(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the subscription row. Deleting an already-gone row is not an error.
func (r *subscriptionRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Subscription{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete subscription: %w", result.Error)
	}
	return nil
}
