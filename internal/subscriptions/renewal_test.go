package subscriptions

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/replywatch/replywatch-backend/internal/events"
	"github.com/replywatch/replywatch-backend/internal/metrics"
	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/replywatch/replywatch-backend/internal/repository"
)

type RenewalServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	subs    repository.SubscriptionRepository
	api     *fakeAPI
	service *RenewalService
	account *models.Account
}

func (s *RenewalServiceTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
	s.Require().NoError(db.AutoMigrate(&models.Account{}, &models.Subscription{}))
	s.db = db

	s.account = &models.Account{Email: "owner@example.com", ProviderUserID: "user-1", Status: models.AccountConnected}
	s.Require().NoError(db.Create(s.account).Error)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.subs = repository.NewSubscriptionRepository(db)
	accounts := repository.NewAccountRepository(db)
	s.api = &fakeAPI{}
	manager := NewManager(s.subs, accounts, s.api, &fakeQuota{}, events.NoopSink{},
		metrics.New(prometheus.NewRegistry()), Config{
			Lifetime:        72 * time.Hour,
			NotificationURL: "https://api.example.com/webhooks/notifications",
			ErrorCeiling:    3,
		}, logger)
	s.service = NewRenewalService(manager, s.subs, RenewalConfig{
		Interval:    time.Hour,
		Threshold:   48 * time.Hour,
		Concurrency: 2,
	}, logger)
}

func (s *RenewalServiceTestSuite) TearDownTest() {
	if s.service.IsRunning() {
		s.service.Stop()
	}
	sqlDB, err := s.db.DB()
	s.Require().NoError(err)
	sqlDB.Close()
}

func (s *RenewalServiceTestSuite) seedSubscription(providerID string, expiresIn time.Duration, active bool) *models.Subscription {
	sub := &models.Subscription{
		AccountID:              s.account.ID,
		ProviderSubscriptionID: providerID,
		Resource:               "users/user-1/messages",
		ChangeTypes:            "created,updated,deleted",
		NotificationURL:        "https://api.example.com/webhooks/notifications",
		ClientState:            "state-" + providerID,
		ExpiresAt:              time.Now().Add(expiresIn),
		IsActive:               active,
	}
	s.Require().NoError(s.subs.Create(context.Background(), sub))
	return sub
}

func (s *RenewalServiceTestSuite) TestSweepRenewsExpiringSubscriptions() {
	nearExpiry := s.seedSubscription("remote-near", 24*time.Hour, true)
	s.seedSubscription("remote-far", 70*time.Hour, true)

	s.service.Sweep(context.Background())

	s.Equal([]string{"remote-near"}, s.api.renewed)

	stored, err := s.subs.GetByID(context.Background(), nearExpiry.ID)
	s.Require().NoError(err)
	s.NotNil(stored.LastRenewedAt)
	s.True(stored.ExpiresAt.After(time.Now().Add(71 * time.Hour)))
}

func (s *RenewalServiceTestSuite) TestSweepSkipsInactiveSubscriptions() {
	s.seedSubscription("remote-inactive", 24*time.Hour, false)

	s.service.Sweep(context.Background())

	s.Empty(s.api.renewed)
}

func (s *RenewalServiceTestSuite) TestSweepSkipsAlreadyExpiredSubscriptions() {
	s.seedSubscription("remote-expired", -time.Hour, true)

	s.service.Sweep(context.Background())

	s.Empty(s.api.renewed)
}

func (s *RenewalServiceTestSuite) TestSweepSurvivesRenewalFailures() {
	s.seedSubscription("remote-a", 10*time.Hour, true)
	s.seedSubscription("remote-b", 20*time.Hour, true)

	s.api.renewErr = context.DeadlineExceeded

	// failures increment error counts but the sweep itself does not abort
	s.service.Sweep(context.Background())

	subs, err := s.subs.ListExpiringWithin(context.Background(), 48*time.Hour)
	s.Require().NoError(err)
	s.Require().Len(subs, 2)
	for _, sub := range subs {
		s.Equal(1, sub.ErrorCount)
	}
}

func (s *RenewalServiceTestSuite) TestStartStop() {
	s.False(s.service.IsRunning())

	s.seedSubscription("remote-near", 24*time.Hour, true)

	s.service.Start()
	s.True(s.service.IsRunning())

	// the initial sweep fires on start
	s.Eventually(func() bool {
		s.api.mu.Lock()
		defer s.api.mu.Unlock()
		return len(s.api.renewed) == 1
	}, time.Second, 10*time.Millisecond)

	s.service.Stop()
	s.False(s.service.IsRunning())

	// double stop and double start are harmless
	s.service.Stop()
	s.service.Start()
	s.True(s.service.IsRunning())
	s.service.Stop()
}

func TestRenewalServiceTestSuite(t *testing.T) {
	suite.Run(t, new(RenewalServiceTestSuite))
}
