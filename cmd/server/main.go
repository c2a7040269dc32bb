package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/replywatch/replywatch-backend/internal/api"
	"github.com/replywatch/replywatch-backend/internal/classifier"
	"github.com/replywatch/replywatch-backend/internal/config"
	"github.com/replywatch/replywatch-backend/internal/credentials"
	"github.com/replywatch/replywatch-backend/internal/database"
	"github.com/replywatch/replywatch-backend/internal/events"
	"github.com/replywatch/replywatch-backend/internal/logger"
	"github.com/replywatch/replywatch-backend/internal/matcher"
	"github.com/replywatch/replywatch-backend/internal/metrics"
	"github.com/replywatch/replywatch-backend/internal/provider"
	"github.com/replywatch/replywatch-backend/internal/queue"
	"github.com/replywatch/replywatch-backend/internal/quota"
	"github.com/replywatch/replywatch-backend/internal/repository"
	"github.com/replywatch/replywatch-backend/internal/subscriptions"
)

const providerTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	// Storage
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			if !cfg.QuotaDegradeOnError {
				return fmt.Errorf("redis unreachable: %w", err)
			}
			log.Warn("redis unreachable, quota governor degrades open", slog.Any("error", err))
		}
	}

	// Repositories
	accountRepo := repository.NewAccountRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	jobRepo := repository.NewJobRepository(db)
	trackedEmailRepo := repository.NewTrackedEmailRepository(db)
	responseRepo := repository.NewResponseRepository(db)

	// Observability
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	hub := events.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	// Provider access
	var tokens credentials.TokenProvider
	if cfg.ProviderTokenURL != "" {
		tokens = credentials.NewOAuthTokenProvider(
			cfg.ProviderTokenURL, cfg.ProviderClientID, cfg.ProviderClientSecret, providerTimeout)
	} else {
		// development fallback; provider stubs do not check tokens
		log.Warn("PROVIDER_TOKEN_URL not set, using static token provider")
		tokens = credentials.StaticTokenProvider{Token: "dev"}
	}
	providerClient := provider.NewClient(cfg.ProviderBaseURL, providerTimeout, tokens)

	// Quota governor
	governor := quota.NewGovernor(rdb, map[quota.Class]quota.Limit{
		quota.ClassRead:         {Max: cfg.QuotaReadLimit, Window: cfg.QuotaReadWindow},
		quota.ClassSubscription: {Max: cfg.QuotaSubscriptionLimit, Window: cfg.QuotaSubscriptionWindow},
		quota.ClassBulk:         {Max: cfg.QuotaBulkLimit, Window: cfg.QuotaBulkWindow},
	}, cfg.QuotaDegradeOnError, cfg.QuotaRetention, log)

	// Notification pipeline
	responseMatcher := matcher.New(trackedEmailRepo, responseRepo, matcher.Config{
		Threshold:          cfg.MatchThreshold,
		ResponseWindow:     cfg.ResponseWindow,
		AutoReplyFiltering: cfg.AutoReplyFiltering,
	}, log)

	notificationClassifier := classifier.New(
		accountRepo, subRepo, trackedEmailRepo,
		providerClient, governor, responseMatcher,
		hub, m, log)

	jobQueue := queue.NewQueue(jobRepo, cfg.QueueMaxRetries, m, log)
	worker := queue.NewWorker(jobRepo, notificationClassifier, queue.Config{
		Tick:            cfg.QueueTick,
		MaxConcurrent:   cfg.QueueMaxConcurrent,
		BaseDelay:       cfg.QueueBaseDelay,
		MaxDelay:        cfg.QueueMaxDelay,
		LeaseTimeout:    cfg.QueueLeaseTimeout,
		JanitorInterval: cfg.QueueJanitorInterval,
		DeadLetter:      cfg.QueueDeadLetter,
	}, hub, m, log)
	worker.Start()
	defer worker.Stop()

	// Subscription lifecycle
	manager := subscriptions.NewManager(subRepo, accountRepo, providerClient, governor, hub, m,
		subscriptions.Config{
			Lifetime:        cfg.SubscriptionLifetime,
			NotificationURL: cfg.WebhookBaseURL + "/webhooks/notifications",
			ErrorCeiling:    cfg.SubscriptionErrorCeiling,
		}, log)

	renewal := subscriptions.NewRenewalService(manager, subRepo, subscriptions.RenewalConfig{
		Interval:    cfg.RenewalInterval,
		Threshold:   cfg.RenewalThreshold,
		Concurrency: cfg.RenewalConcurrency,
	}, log)
	renewal.Start()
	defer renewal.Stop()

	// HTTP
	e := api.NewRouter(&api.RouterConfig{
		DB:             db,
		Redis:          rdb,
		Queue:          jobQueue,
		Manager:        manager,
		Hub:            hub,
		Registry:       registry,
		Logger:         log,
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimitRequests,
		RateBurst:      cfg.RateLimitBurst,
		Production:     cfg.AppEnv == "production",
	})

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		log.Info("http server listening", slog.String("addr", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", slog.Any("error", err))
	}

	// deferred stops drain the worker, renewal sweeps, and the event hub
	return nil
}
