package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
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
	"github.com/replywatch/replywatch-backend/internal/provider"
	"github.com/replywatch/replywatch-backend/internal/quota"
	"github.com/replywatch/replywatch-backend/internal/repository"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// fakeAPI records provider subscription calls and serves canned results
type fakeAPI struct {
	mu        sync.Mutex
	nextID    int
	fixedID   string
	createErr error
	renewErr  error
	deleteErr error
	created   []provider.SubscriptionRequest
	renewed   []string
	deleted   []string
}

func (f *fakeAPI) CreateSubscription(_ context.Context, _ *models.Account, req provider.SubscriptionRequest) (*provider.SubscriptionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	id := f.fixedID
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("remote-%d", f.nextID)
	}
	return &provider.SubscriptionResponse{
		ID:                 id,
		Resource:           req.Resource,
		ChangeType:         req.ChangeType,
		ExpirationDateTime: req.ExpirationDateTime,
		ClientState:        req.ClientState,
	}, nil
}

func (f *fakeAPI) RenewSubscription(_ context.Context, _ *models.Account, providerSubID string, expiresAt time.Time) (*provider.SubscriptionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renewErr != nil {
		return nil, f.renewErr
	}
	f.renewed = append(f.renewed, providerSubID)
	return &provider.SubscriptionResponse{ID: providerSubID, ExpirationDateTime: expiresAt}, nil
}

func (f *fakeAPI) DeleteSubscription(_ context.Context, _ *models.Account, providerSubID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, providerSubID)
	return nil
}

// fakeQuota allows or denies every check
type fakeQuota struct {
	deny  bool
	calls int
}

func (q *fakeQuota) CheckAndRecord(_ context.Context, accountID uint, class quota.Class) (quota.Decision, error) {
	q.calls++
	if q.deny {
		return quota.Decision{}, &apperrors.QuotaError{AccountID: accountID, Class: string(class), Used: 1, Limit: 1, ResetAt: time.Now().Add(time.Minute)}
	}
	return quota.Decision{Allowed: true, Used: 1, Limit: 100}, nil
}

type ManagerTestSuite struct {
	suite.Suite
	db      *gorm.DB
	subs    repository.SubscriptionRepository
	manager *Manager
	api     *fakeAPI
	quota   *fakeQuota
	account *models.Account
}

func (s *ManagerTestSuite) SetupTest() {
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
	s.quota = &fakeQuota{}
	s.manager = NewManager(s.subs, accounts, s.api, s.quota, events.NoopSink{},
		metrics.New(prometheus.NewRegistry()), Config{
			Lifetime:        72 * time.Hour,
			NotificationURL: "https://api.example.com/webhooks/notifications",
			ErrorCeiling:    3,
		}, logger)
}

func (s *ManagerTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	s.Require().NoError(err)
	sqlDB.Close()
}

func (s *ManagerTestSuite) TestCreatePersistsSubscription() {
	sub, err := s.manager.Create(context.Background(), s.account.ID, models.ResourceMessages)
	s.Require().NoError(err)
	s.Equal("remote-1", sub.ProviderSubscriptionID)
	s.Equal("users/user-1/messages", sub.Resource)
	s.NotEmpty(sub.ClientState)
	s.True(sub.IsActive)
	s.True(sub.ExpiresAt.After(time.Now().Add(71 * time.Hour)))

	s.Require().Len(s.api.created, 1)
	s.Equal(sub.ClientState, s.api.created[0].ClientState)
	s.Equal(1, s.quota.calls)
}

func (s *ManagerTestSuite) TestCreateIsGuardedAgainstDuplicates() {
	_, err := s.manager.Create(context.Background(), s.account.ID, models.ResourceMessages)
	s.Require().NoError(err)

	_, err = s.manager.Create(context.Background(), s.account.ID, models.ResourceMessages)
	s.Require().ErrorIs(err, apperrors.ErrSubscriptionExists)
	s.Len(s.api.created, 1)
}

func (s *ManagerTestSuite) TestCreateQuotaDenied() {
	s.quota.deny = true

	_, err := s.manager.Create(context.Background(), s.account.ID, models.ResourceMessages)
	s.Require().Error(err)
	s.True(apperrors.IsQuotaError(err))
	s.True(apperrors.Retryable(err))
	s.Empty(s.api.created)
}

func (s *ManagerTestSuite) TestCreateCompensatesOnPersistFailure() {
	// occupy the provider subscription id the fake will hand out, under a
	// different account so the idempotency guard does not trip first
	other := &models.Account{Email: "other@example.com", ProviderUserID: "user-2", Status: models.AccountConnected}
	s.Require().NoError(s.db.Create(other).Error)
	s.Require().NoError(s.subs.Create(context.Background(), &models.Subscription{
		AccountID:              other.ID,
		ProviderSubscriptionID: "remote-dup",
		Resource:               "users/user-2/messages",
		ChangeTypes:            "created",
		NotificationURL:        "https://api.example.com/webhooks/notifications",
		ClientState:            "state",
		ExpiresAt:              time.Now().Add(time.Hour),
		IsActive:               true,
	}))
	s.api.fixedID = "remote-dup"

	_, err := s.manager.Create(context.Background(), s.account.ID, models.ResourceMessages)
	s.Require().Error(err)
	// the orphaned remote subscription was cleaned up
	s.Equal([]string{"remote-dup"}, s.api.deleted)
}

func (s *ManagerTestSuite) TestRenewExtendsExpiryAndResetsErrors() {
	sub, err := s.manager.Create(context.Background(), s.account.ID, models.ResourceMessages)
	s.Require().NoError(err)

	sub.ErrorCount = 2
	sub.LastError = "previous flake"
	s.Require().NoError(s.subs.Update(context.Background(), sub))

	renewed, err := s.manager.Renew(context.Background(), sub.ID)
	s.Require().NoError(err)
	s.Zero(renewed.ErrorCount)
	s.Empty(renewed.LastError)
	s.NotNil(renewed.LastRenewedAt)
	s.True(renewed.ExpiresAt.After(time.Now().Add(71 * time.Hour)))
	s.Equal([]string{"remote-1"}, s.api.renewed)
}

func (s *ManagerTestSuite) TestRenewFailureCountsErrors() {
	sub, err := s.manager.Create(context.Background(), s.account.ID, models.ResourceMessages)
	s.Require().NoError(err)

	s.api.renewErr = &apperrors.TransientProviderError{StatusCode: 503, Err: errors.New("upstream down")}

	_, err = s.manager.Renew(context.Background(), sub.ID)
	s.Require().Error(err)

	stored, err := s.subs.GetByID(context.Background(), sub.ID)
	s.Require().NoError(err)
	s.Equal(1, stored.ErrorCount)
	s.Contains(stored.LastError, "upstream down")
}

func (s *ManagerTestSuite) TestRenewPastErrorCeilingDeletes() {
	sub, err := s.manager.Create(context.Background(), s.account.ID, models.ResourceMessages)
	s.Require().NoError(err)

	s.api.renewErr = &apperrors.TransientProviderError{StatusCode: 503, Err: errors.New("upstream down")}
	for i := 0; i < 3; i++ {
		_, err = s.manager.Renew(context.Background(), sub.ID)
		s.Require().Error(err)
	}

	_, err = s.subs.GetByID(context.Background(), sub.ID)
	s.Require().ErrorIs(err, apperrors.ErrNotFound)
	s.Equal([]string{"remote-1"}, s.api.deleted)
}

func (s *ManagerTestSuite) TestRenewGoneAtProviderDeletesLocally() {
	sub, err := s.manager.Create(context.Background(), s.account.ID, models.ResourceMessages)
	s.Require().NoError(err)

	s.api.renewErr = apperrors.ErrSubscriptionNotFound

	_, err = s.manager.Renew(context.Background(), sub.ID)
	s.Require().ErrorIs(err, apperrors.ErrSubscriptionNotFound)

	_, err = s.subs.GetByID(context.Background(), sub.ID)
	s.ErrorIs(err, apperrors.ErrNotFound)
}

func (s *ManagerTestSuite) TestDeleteRemovesRemoteAndLocal() {
	sub, err := s.manager.Create(context.Background(), s.account.ID, models.ResourceMessages)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.Delete(context.Background(), sub.ID))
	s.Equal([]string{"remote-1"}, s.api.deleted)

	_, err = s.subs.GetByID(context.Background(), sub.ID)
	s.ErrorIs(err, apperrors.ErrNotFound)
}

func (s *ManagerTestSuite) TestDeleteIsIdempotent() {
	s.NoError(s.manager.Delete(context.Background(), 9999))
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}
