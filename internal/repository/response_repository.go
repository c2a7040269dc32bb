package repository

import (
	"context"
	"fmt"

	"github.com/replywatch/replywatch-backend/internal/models"
	"gorm.io/gorm"
)

// ResponseRepository defines the interface for email response data access.
// Responses are append-only; there is deliberately no update or delete.
type ResponseRepository interface {
	Create(ctx context.Context, response *models.EmailResponse) error
	ListByTrackedEmail(ctx context.Context, trackedEmailID uint) ([]models.EmailResponse, error)
	CountByTrackedEmail(ctx context.Context, trackedEmailID uint) (int64, error)
}

// responseRepository implements ResponseRepository using GORM
type responseRepository struct {
	db *gorm.DB
}

// NewResponseRepository creates a new ResponseRepository instance
func NewResponseRepository(db *gorm.DB) ResponseRepository {
	return &responseRepository{db: db}
}

// Create appends an email response row
func (r *responseRepository) Create(ctx context.Context, response *models.EmailResponse) error {
	result := r.db.WithContext(ctx).Create(response)
	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create email response: %w", result.Error)
	}
	return nil
}

// ListByTrackedEmail retrieves responses for a tracked email, oldest first
func (r *responseRepository) ListByTrackedEmail(ctx context.Context, trackedEmailID uint) ([]models.EmailResponse, error) {
	var responses []models.EmailResponse
	result := r.db.WithContext(ctx).
		Where("tracked_email_id = ?", trackedEmailID).
		Order("received_at").
		Find(&responses)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list responses: %w", result.Error)
	}
	return responses, nil
}

// CountByTrackedEmail counts recorded responses for a tracked email
func (r *responseRepository) CountByTrackedEmail(ctx context.Context, trackedEmailID uint) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.EmailResponse{}).
		Where("tracked_email_id = ?", trackedEmailID).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count responses: %w", result.Error)
	}
	return count, nil
}
