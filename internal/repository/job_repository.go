package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/replywatch/replywatch-backend/internal/models"
	"gorm.io/gorm"
)

// JobRepository defines the interface for queue job data access
type JobRepository interface {
	Create(ctx context.Context, job *models.QueueJob) error
	GetByID(ctx context.Context, id uint) (*models.QueueJob, error)
	// ClaimDue atomically claims up to limit due jobs for processing, oldest
	// first, stamping each with a lease deadline. A claimed job is invisible
	// to concurrent ticks until it finishes or its lease expires.
	ClaimDue(ctx context.Context, limit int, leaseTimeout time.Duration) ([]models.QueueJob, error)
	MarkCompleted(ctx context.Context, id uint) error
	// MarkForRetry returns a job to pending with an updated retry count and
	// backoff schedule.
	MarkForRetry(ctx context.Context, id uint, retryCount int, scheduledFor time.Time, lastError string) error
	// MarkTerminal parks a job in failed or dead_letter; it will not be
	// claimed again without an explicit Requeue.
	MarkTerminal(ctx context.Context, id uint, status models.JobStatus, lastError string) error
	// ResetExpiredLeases returns processing jobs whose lease has lapsed back
	// to pending so a crashed worker cannot strand them.
	ResetExpiredLeases(ctx context.Context) (int64, error)
	// Requeue manually resets a terminal job to pending with a fresh retry budget
	Requeue(ctx context.Context, id uint) error
	ListByStatus(ctx context.Context, status models.JobStatus, limit, offset int) ([]models.QueueJob, int64, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
}

// jobRepository implements JobRepository using GORM
type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository instance
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

// Create creates a new queue job
func (r *jobRepository) Create(ctx context.Context, job *models.QueueJob) error {
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = time.Now()
	}
	result := r.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		return fmt.Errorf("failed to create queue job: %w", result.Error)
	}
	return nil
}

// GetByID retrieves a queue job by its ID
func (r *jobRepository) GetByID(ctx context.Context, id uint) (*models.QueueJob, error) {
	var job models.QueueJob
	result := r.db.WithContext(ctx).First(&job, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get queue job: %w", result.Error)
	}
	return &job, nil
}

// ClaimDue claims up to limit due jobs using a per-row compare-and-set, which
// works the same on Postgres and the SQLite used in tests. Only pending jobs
// are eligible: a job awaiting retry is returned to pending by MarkForRetry,
// and failed/dead_letter are terminal until an explicit Requeue.
func (r *jobRepository) ClaimDue(ctx context.Context, limit int, leaseTimeout time.Duration) ([]models.QueueJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now()

	var candidates []models.QueueJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", models.JobPending, now).
		Order("created_at").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due jobs: %w", err)
	}

	lease := now.Add(leaseTimeout)
	claimed := make([]models.QueueJob, 0, len(candidates))
	for _, job := range candidates {
		result := r.db.WithContext(ctx).Model(&models.QueueJob{}).
			Where("id = ? AND status = ?", job.ID, models.JobPending).
			Updates(map[string]interface{}{
				"status":           models.JobProcessing,
				"lease_expires_at": lease,
			})
		if result.Error != nil {
			return claimed, fmt.Errorf("failed to claim job %d: %w", job.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			// Lost the race to a concurrent tick
			continue
		}
		job.Status = models.JobProcessing
		job.LeaseExpiresAt = &lease
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// MarkCompleted transitions a job to the completed terminal state
func (r *jobRepository) MarkCompleted(ctx context.Context, id uint) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           models.JobCompleted,
			"completed_at":     now,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job completed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkForRetry returns a job to pending with its next attempt scheduled
func (r *jobRepository) MarkForRetry(ctx context.Context, id uint, retryCount int, scheduledFor time.Time, lastError string) error {
	result := r.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ? AND retry_count < max_retries", id).
		Updates(map[string]interface{}{
			"status":           models.JobPending,
			"retry_count":      retryCount,
			"scheduled_for":    scheduledFor,
			"last_error":       lastError,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job for retry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTerminal parks a job in a terminal failure state
func (r *jobRepository) MarkTerminal(ctx context.Context, id uint, status models.JobStatus, lastError string) error {
	if !status.IsTerminal() {
		return ErrInvalidInput
	}
	result := r.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           status,
			"last_error":       lastError,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job terminal: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetExpiredLeases reclaims processing jobs whose lease has lapsed
func (r *jobRepository) ResetExpiredLeases(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?",
			models.JobProcessing, time.Now()).
		Updates(map[string]interface{}{
			"status":           models.JobPending,
			"lease_expires_at": nil,
			"last_error":       "lease expired; reclaimed by janitor",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset expired leases: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Requeue resets a terminal job to pending with a fresh retry budget
func (r *jobRepository) Requeue(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ? AND status IN ?", id,
			[]models.JobStatus{models.JobFailed, models.JobDeadLetter, models.JobCompleted}).
		Updates(map[string]interface{}{
			"status":           models.JobPending,
			"retry_count":      0,
			"scheduled_for":    time.Now(),
			"lease_expires_at": nil,
			"last_error":       "",
			"completed_at":     nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to requeue job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatus retrieves jobs in the given status with pagination, newest first
func (r *jobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit, offset int) ([]models.QueueJob, int64, error) {
	var total int64
	base := r.db.WithContext(ctx).Model(&models.QueueJob{}).Where("status = ?", status)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	var jobs []models.QueueJob
	result := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&jobs)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", result.Error)
	}
	return jobs, total, nil
}

// CountByStatus returns job counts grouped by status
func (r *jobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	type row struct {
		Status models.JobStatus
		N      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.QueueJob{}).
		Select("status, COUNT(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}

	counts := make(map[models.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
