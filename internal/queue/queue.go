package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/replywatch/replywatch-backend/internal/metrics"
	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/replywatch/replywatch-backend/internal/repository"
)

// Queue is the enqueue side of the notification pipeline. AddJob returns
// once the job is persisted; processing happens asynchronously in the Worker.
type Queue struct {
	jobs       repository.JobRepository
	maxRetries int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewQueue(jobs repository.JobRepository, maxRetries int, m *metrics.Metrics, logger *slog.Logger) *Queue {
	return &Queue{jobs: jobs, maxRetries: maxRetries, metrics: m, logger: logger}
}

// AddJob durably enqueues one notification payload for the account
func (q *Queue) AddJob(ctx context.Context, accountID uint, payload any) (*models.QueueJob, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding job payload: %w", err)
	}

	job := &models.QueueJob{
		AccountID:    accountID,
		Payload:      raw,
		Status:       models.JobPending,
		MaxRetries:   q.maxRetries,
		ScheduledFor: time.Now(),
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	q.metrics.JobsEnqueued.Inc()
	q.logger.Debug("job enqueued",
		slog.Uint64("job_id", uint64(job.ID)),
		slog.Uint64("account_id", uint64(accountID)))
	return job, nil
}
