package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/replywatch/replywatch-backend/internal/classifier"
	"github.com/replywatch/replywatch-backend/internal/events"
	"github.com/replywatch/replywatch-backend/internal/metrics"
	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/replywatch/replywatch-backend/internal/provider"
	"github.com/replywatch/replywatch-backend/internal/repository"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// Processor turns one notification into its consequence. The worker owns
// the retry decision; the processor only reports success or failure.
type Processor interface {
	ProcessNotification(ctx context.Context, n provider.Notification) (*classifier.Result, error)
}

// Config tunes the worker loop
type Config struct {
	Tick            time.Duration
	MaxConcurrent   int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	LeaseTimeout    time.Duration
	JanitorInterval time.Duration
	// DeadLetter selects the terminal state for exhausted jobs: dead_letter
	// when true, failed when false
	DeadLetter bool
}

// Worker drives queue jobs through the processor on a fixed tick, with
// exponential backoff on retryable failures and a janitor that reclaims
// jobs whose lease lapsed.
type Worker struct {
	jobs      repository.JobRepository
	processor Processor
	cfg       Config
	sink      events.Sink
	metrics   *metrics.Metrics
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	// jitter is swapped out in tests for determinism
	jitter func() float64
}

func NewWorker(jobs repository.JobRepository, processor Processor, cfg Config, sink events.Sink, m *metrics.Metrics, logger *slog.Logger) *Worker {
	return &Worker{
		jobs:      jobs,
		processor: processor,
		cfg:       cfg,
		sink:      sink,
		metrics:   m,
		logger:    logger,
		stopCh:    make(chan struct{}),
		jitter:    rand.Float64,
	}
}

// Start launches the worker and janitor loops
func (w *Worker) Start() {
	w.wg.Add(2)
	go w.run()
	go w.runJanitor()
	w.logger.Info("queue worker started",
		slog.Duration("tick", w.cfg.Tick),
		slog.Int("max_concurrent", w.cfg.MaxConcurrent))
}

// Stop signals both loops to exit and waits for in-flight jobs to finish
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("queue worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick(context.Background())
		}
	}
}

func (w *Worker) runJanitor() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			reclaimed, err := w.jobs.ResetExpiredLeases(context.Background())
			if err != nil {
				w.logger.Error("janitor failed to reset expired leases", slog.Any("error", err))
				continue
			}
			if reclaimed > 0 {
				w.logger.Warn("janitor reclaimed stuck jobs", slog.Int64("count", reclaimed))
			}
		}
	}
}

// tick claims due jobs up to the free concurrency slots and processes them
// in parallel. Claimed jobs carry a lease so a concurrent tick or another
// replica cannot double-pick them.
func (w *Worker) tick(ctx context.Context) {
	counts, err := w.jobs.CountByStatus(ctx)
	if err != nil {
		w.logger.Error("failed to count queue jobs", slog.Any("error", err))
		return
	}
	processing := counts[models.JobProcessing]
	w.metrics.JobsInFlight.Set(float64(processing))
	w.metrics.QueueBacklog.Set(float64(counts[models.JobPending]))

	slots := w.cfg.MaxConcurrent - int(processing)
	if slots <= 0 {
		return
	}

	claimed, err := w.jobs.ClaimDue(ctx, slots, w.cfg.LeaseTimeout)
	if err != nil {
		w.logger.Error("failed to claim due jobs", slog.Any("error", err))
		return
	}

	for i := range claimed {
		job := claimed[i]
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.process(ctx, &job)
		}()
	}
}

func (w *Worker) process(ctx context.Context, job *models.QueueJob) {
	start := time.Now()
	defer func() {
		w.metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	var notification provider.Notification
	if err := json.Unmarshal(job.Payload, &notification); err != nil {
		// a payload that never parsed will never parse; no retry
		w.finalize(ctx, job, "malformed payload: "+err.Error())
		return
	}

	result, err := w.processor.ProcessNotification(ctx, notification)
	if err != nil {
		w.handleFailure(ctx, job, err)
		return
	}

	if err := w.jobs.MarkCompleted(ctx, job.ID); err != nil {
		w.logger.Error("failed to mark job completed",
			slog.Uint64("job_id", uint64(job.ID)), slog.Any("error", err))
		return
	}
	w.metrics.JobsProcessed.WithLabelValues("completed").Inc()
	w.metrics.Notifications.WithLabelValues(string(result.Type)).Inc()
	w.logger.Info("job completed",
		slog.Uint64("job_id", uint64(job.ID)),
		slog.String("result", string(result.Type)),
		slog.Duration("took", time.Since(start)))
}

// handleFailure is the single retry-vs-terminal decision point. Retryable
// failures re-enter pending with backoff while budget remains; everything
// else parks the job terminally.
func (w *Worker) handleFailure(ctx context.Context, job *models.QueueJob, procErr error) {
	w.logger.Warn("job failed",
		slog.Uint64("job_id", uint64(job.ID)),
		slog.Int("retry_count", job.RetryCount),
		slog.Any("error", procErr))

	if !apperrors.Retryable(procErr) {
		w.finalize(ctx, job, procErr.Error())
		return
	}

	nextRetry := job.RetryCount + 1
	if nextRetry >= job.MaxRetries {
		w.finalize(ctx, job, procErr.Error())
		return
	}

	delay := w.backoffDelay(nextRetry)
	if err := w.jobs.MarkForRetry(ctx, job.ID, nextRetry, time.Now().Add(delay), procErr.Error()); err != nil {
		w.logger.Error("failed to schedule retry",
			slog.Uint64("job_id", uint64(job.ID)), slog.Any("error", err))
		return
	}
	w.metrics.JobsProcessed.WithLabelValues("retried").Inc()
}

// finalize parks a job in its terminal failure state
func (w *Worker) finalize(ctx context.Context, job *models.QueueJob, lastError string) {
	status := models.JobFailed
	if w.cfg.DeadLetter {
		status = models.JobDeadLetter
	}
	if err := w.jobs.MarkTerminal(ctx, job.ID, status, lastError); err != nil {
		w.logger.Error("failed to mark job terminal",
			slog.Uint64("job_id", uint64(job.ID)), slog.Any("error", err))
		return
	}
	w.metrics.JobsProcessed.WithLabelValues(string(status)).Inc()
	if status == models.JobDeadLetter {
		w.sink.Publish(events.Event{
			Type:      events.TypeJobDeadLettered,
			AccountID: job.AccountID,
			Payload:   map[string]any{"job_id": job.ID, "last_error": lastError},
		})
	}
	w.logger.Error("job parked in terminal state",
		slog.Uint64("job_id", uint64(job.ID)),
		slog.String("status", string(status)),
		slog.String("last_error", lastError))
}

// backoffDelay computes min(base * 2^retry * jitter, max). The jitter factor
// in [0.5, 1.0) desynchronizes jobs that failed at the same instant, so a
// batch stuck behind one transient outage does not retry in lockstep.
func (w *Worker) backoffDelay(retryCount int) time.Duration {
	backoff := float64(w.cfg.BaseDelay) * math.Pow(2, float64(retryCount))
	factor := 0.5 + w.jitter()/2
	delay := time.Duration(backoff * factor)
	if delay > w.cfg.MaxDelay {
		return w.cfg.MaxDelay
	}
	return delay
}
