package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/replywatch/replywatch-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrackedEmailRepository defines the interface for tracked email data access
type TrackedEmailRepository interface {
	// Upsert creates the tracked email, or leaves the existing row untouched
	// when the (account, provider message) pair is already tracked. Duplicate
	// notifications for the same outbound message are therefore idempotent.
	Upsert(ctx context.Context, email *models.TrackedEmail) error
	GetByID(ctx context.Context, id uint) (*models.TrackedEmail, error)
	GetByProviderMessageID(ctx context.Context, accountID uint, providerMessageID string) (*models.TrackedEmail, error)
	// FindCandidates returns active tracked emails for the account sent within
	// the response window whose recipient list contains the sender address,
	// most recent first.
	FindCandidates(ctx context.Context, accountID uint, senderEmail string, window time.Duration) ([]models.TrackedEmail, error)
	UpdateStatus(ctx context.Context, id uint, status models.TrackedEmailStatus) error
	// RecordResponse performs the single atomic increment of the response
	// counters. It is a conditional UPDATE, not read-modify-write, so
	// concurrent notifications for the same tracked email cannot lose updates.
	RecordResponse(ctx context.Context, id uint, receivedAt time.Time) error
	List(ctx context.Context, accountID uint, limit, offset int) ([]models.TrackedEmail, int64, error)
	Summary(ctx context.Context, accountID uint) (*TrackingSummary, error)
}

// TrackingSummary aggregates tracking counters for the analytics endpoint
type TrackingSummary struct {
	TotalTracked  int64   `json:"total_tracked"`
	Active        int64   `json:"active"`
	WithResponses int64   `json:"with_responses"`
	ResponseRate  float64 `json:"response_rate"`
}

// trackedEmailRepository implements TrackedEmailRepository using GORM
type trackedEmailRepository struct {
	db *gorm.DB
}

// NewTrackedEmailRepository creates a new TrackedEmailRepository instance
func NewTrackedEmailRepository(db *gorm.DB) TrackedEmailRepository {
	return &trackedEmailRepository{db: db}
}

// Upsert inserts the tracked email unless the message is already tracked
func (r *trackedEmailRepository) Upsert(ctx context.Context, email *models.TrackedEmail) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "provider_message_id"}},
			DoNothing: true,
		}).
		Create(email)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert tracked email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Already tracked; load the existing row so callers see the real ID
		existing, err := r.GetByProviderMessageID(ctx, email.AccountID, email.ProviderMessageID)
		if err != nil {
			return err
		}
		*email = *existing
	}
	return nil
}

// GetByID retrieves a tracked email by its ID
func (r *trackedEmailRepository) GetByID(ctx context.Context, id uint) (*models.TrackedEmail, error) {
	var email models.TrackedEmail
	result := r.db.WithContext(ctx).First(&email, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tracked email: %w", result.Error)
	}
	return &email, nil
}

// GetByProviderMessageID retrieves a tracked email by provider message ID
func (r *trackedEmailRepository) GetByProviderMessageID(ctx context.Context, accountID uint, providerMessageID string) (*models.TrackedEmail, error) {
	var email models.TrackedEmail
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND provider_message_id = ?", accountID, providerMessageID).
		First(&email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tracked email by message ID: %w", result.Error)
	}
	return &email, nil
}

// FindCandidates bounds the matcher's search to active tracked emails the
// sender could plausibly be replying to
func (r *trackedEmailRepository) FindCandidates(ctx context.Context, accountID uint, senderEmail string, window time.Duration) ([]models.TrackedEmail, error) {
	sender := strings.ToLower(strings.TrimSpace(senderEmail))
	if sender == "" {
		return nil, nil
	}

	var rows []models.TrackedEmail
	pattern := "%" + sender + "%"
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ? AND sent_at >= ?",
			accountID, models.TrackedActive, time.Now().Add(-window)).
		Where("recipients LIKE ? OR cc_recipients LIKE ?", pattern, pattern).
		Order("sent_at DESC").
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find candidate tracked emails: %w", result.Error)
	}

	// LIKE is only a coarse filter (alice@x.com also matches malice@x.com);
	// confirm exact membership here.
	candidates := rows[:0]
	for _, row := range rows {
		if row.WasSentTo(sender) {
			candidates = append(candidates, row)
		}
	}
	return candidates, nil
}

// UpdateStatus transitions a tracked email's lifecycle status
func (r *trackedEmailRepository) UpdateStatus(ctx context.Context, id uint, status models.TrackedEmailStatus) error {
	if !status.IsValid() {
		return ErrInvalidInput
	}
	result := r.db.WithContext(ctx).Model(&models.TrackedEmail{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update tracked email status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordResponse atomically bumps the response counters
func (r *trackedEmailRepository) RecordResponse(ctx context.Context, id uint, receivedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.TrackedEmail{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"response_count":   gorm.Expr("response_count + 1"),
			"has_response":     true,
			"last_response_at": receivedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record response: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List retrieves tracked emails for an account with pagination, newest first
func (r *trackedEmailRepository) List(ctx context.Context, accountID uint, limit, offset int) ([]models.TrackedEmail, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.TrackedEmail{}).
		Where("account_id = ?", accountID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tracked emails: %w", err)
	}

	var emails []models.TrackedEmail
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("sent_at DESC").
		Limit(limit).Offset(offset).
		Find(&emails)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list tracked emails: %w", result.Error)
	}
	return emails, total, nil
}

// Summary aggregates tracking counters for one account
func (r *trackedEmailRepository) Summary(ctx context.Context, accountID uint) (*TrackingSummary, error) {
	var s TrackingSummary
	base := r.db.WithContext(ctx).Model(&models.TrackedEmail{}).Where("account_id = ?", accountID)

	if err := base.Session(&gorm.Session{}).Count(&s.TotalTracked).Error; err != nil {
		return nil, fmt.Errorf("failed to count tracked emails: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Where("status = ?", models.TrackedActive).Count(&s.Active).Error; err != nil {
		return nil, fmt.Errorf("failed to count active tracked emails: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Where("has_response = ?", true).Count(&s.WithResponses).Error; err != nil {
		return nil, fmt.Errorf("failed to count responded tracked emails: %w", err)
	}
	if s.TotalTracked > 0 {
		s.ResponseRate = float64(s.WithResponses) / float64(s.TotalTracked)
	}
	return &s, nil
}
