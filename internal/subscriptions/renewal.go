package subscriptions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/replywatch/replywatch-backend/internal/repository"
)

// RenewalConfig holds configuration for the renewal sweep
type RenewalConfig struct {
	// Interval is how often the sweep runs
	Interval time.Duration
	// Threshold is how close to expiry a subscription must be to get renewed
	Threshold time.Duration
	// Concurrency bounds how many renewals run at once, so one sweep cannot
	// stampede the provider quota
	Concurrency int
}

// RenewalService periodically renews subscriptions nearing expiry so the
// provider keeps delivering notifications. Renewal failures are retried on
// the next sweep; they never escalate into queue retries.
type RenewalService struct {
	manager *Manager
	subs    repository.SubscriptionRepository
	config  RenewalConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewRenewalService creates a new renewal sweep service
func NewRenewalService(
	manager *Manager,
	subs repository.SubscriptionRepository,
	config RenewalConfig,
	logger *slog.Logger,
) *RenewalService {
	// Set defaults
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Threshold <= 0 {
		config.Threshold = 48 * time.Hour
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 10
	}

	return &RenewalService{
		manager: manager,
		subs:    subs,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the renewal background job
func (s *RenewalService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.renewalLoop()

	s.logger.Info("subscription renewal service started",
		slog.Duration("interval", s.config.Interval),
		slog.Duration("threshold", s.config.Threshold))
}

// Stop gracefully stops the renewal job, letting in-flight renewals finish
func (s *RenewalService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("subscription renewal service stopped")
}

// IsRunning returns whether the renewal service is currently running
func (s *RenewalService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// renewalLoop is the main loop that periodically sweeps expiring subscriptions
func (s *RenewalService) renewalLoop() {
	defer s.wg.Done()

	// Run immediately on start
	s.Sweep(context.Background())

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep renews every active subscription expiring within the threshold,
// bounded to the configured concurrency
func (s *RenewalService) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	expiring, err := s.subs.ListExpiringWithin(ctx, s.config.Threshold)
	if err != nil {
		s.logger.Error("failed to list expiring subscriptions", slog.Any("error", err))
		return
	}
	if len(expiring) == 0 {
		s.logger.Debug("no subscriptions need renewal")
		return
	}

	s.logger.Info("renewing expiring subscriptions", slog.Int("count", len(expiring)))

	sem := make(chan struct{}, s.config.Concurrency)
	var wg sync.WaitGroup
	for _, sub := range expiring {
		select {
		case <-s.stopCh:
			// shutdown requested; let in-flight renewals finish
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := s.manager.Renew(ctx, id); err != nil {
				// logged and retried on the next sweep
				s.logger.Warn("subscription renewal failed",
					slog.Uint64("subscription_id", uint64(id)),
					slog.Any("error", err))
			}
		}(sub.ID)
	}
	wg.Wait()
}
