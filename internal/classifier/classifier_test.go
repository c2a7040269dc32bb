package classifier

import (
	"context"
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
	"github.com/replywatch/replywatch-backend/internal/matcher"
	"github.com/replywatch/replywatch-backend/internal/metrics"
	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/replywatch/replywatch-backend/internal/provider"
	"github.com/replywatch/replywatch-backend/internal/quota"
	"github.com/replywatch/replywatch-backend/internal/repository"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// fakeFetcher serves canned messages by id
type fakeFetcher struct {
	messages map[string]*provider.Message
	err      error
}

func (f *fakeFetcher) GetMessage(_ context.Context, _ *models.Account, messageID string) (*provider.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, apperrors.ErrMessageNotFound
	}
	return msg, nil
}

// fakeQuota allows or denies every check
type fakeQuota struct {
	deny  bool
	calls int
}

func (q *fakeQuota) CheckAndRecord(_ context.Context, accountID uint, class quota.Class) (quota.Decision, error) {
	q.calls++
	if q.deny {
		return decision(false), &apperrors.QuotaError{AccountID: accountID, Class: string(class), Used: 1, Limit: 1, ResetAt: time.Now().Add(time.Minute)}
	}
	return decision(true), nil
}

func decision(allowed bool) quota.Decision {
	return quota.Decision{Allowed: allowed, Used: 1, Limit: 10, ResetAt: time.Now().Add(time.Minute)}
}

// captureSink records published events
type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Publish(event events.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *captureSink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Type, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type ClassifierTestSuite struct {
	suite.Suite
	db         *gorm.DB
	classifier *Classifier
	fetcher    *fakeFetcher
	quota      *fakeQuota
	sink       *captureSink
	accounts   repository.AccountRepository
	subs       repository.SubscriptionRepository
	tracked    repository.TrackedEmailRepository
	account    *models.Account
	sub        *models.Subscription
}

func (s *ClassifierTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
	s.Require().NoError(db.AutoMigrate(
		&models.Account{}, &models.Subscription{}, &models.QueueJob{},
		&models.TrackedEmail{}, &models.EmailResponse{},
	))
	s.db = db

	s.accounts = repository.NewAccountRepository(db)
	s.subs = repository.NewSubscriptionRepository(db)
	s.tracked = repository.NewTrackedEmailRepository(db)
	responses := repository.NewResponseRepository(db)

	s.account = &models.Account{Email: "owner@example.com", ProviderUserID: "user-1", Status: models.AccountConnected}
	s.Require().NoError(s.accounts.Create(context.Background(), s.account))

	s.sub = &models.Subscription{
		AccountID:              s.account.ID,
		ProviderSubscriptionID: "sub-1",
		Resource:               "users/user-1/messages",
		ChangeTypes:            "created,updated,deleted",
		NotificationURL:        "https://hooks.example.com/webhooks/notifications",
		ClientState:            "state-1",
		ExpiresAt:              time.Now().Add(72 * time.Hour),
		IsActive:               true,
	}
	s.Require().NoError(s.subs.Create(context.Background(), s.sub))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.fetcher = &fakeFetcher{messages: map[string]*provider.Message{}}
	s.quota = &fakeQuota{}
	s.sink = &captureSink{}

	m := matcher.New(s.tracked, responses, matcher.Config{
		Threshold:          0.8,
		ResponseWindow:     168 * time.Hour,
		AutoReplyFiltering: true,
	}, logger)

	s.classifier = New(s.accounts, s.subs, s.tracked, s.fetcher, s.quota, m,
		s.sink, metrics.New(prometheus.NewRegistry()), logger)
}

func (s *ClassifierTestSuite) notification(changeType, messageID string) provider.Notification {
	return provider.Notification{
		SubscriptionID: "sub-1",
		ChangeType:     changeType,
		Resource:       "users/user-1/messages/" + messageID,
		ClientState:    "state-1",
	}
}

func (s *ClassifierTestSuite) TestUnknownSubscriptionIsNoAction() {
	n := s.notification(provider.ChangeCreated, "msg-1")
	n.SubscriptionID = "sub-gone"

	result, err := s.classifier.ProcessNotification(context.Background(), n)
	s.Require().NoError(err)
	s.Equal(ResultNoAction, result.Type)
	s.Zero(s.quota.calls)
}

func (s *ClassifierTestSuite) TestDisconnectedAccountIsNoAction() {
	s.Require().NoError(s.accounts.UpdateStatus(context.Background(), s.account.ID, models.AccountDisconnected))

	result, err := s.classifier.ProcessNotification(context.Background(), s.notification(provider.ChangeCreated, "msg-1"))
	s.Require().NoError(err)
	s.Equal(ResultNoAction, result.Type)
}

func (s *ClassifierTestSuite) TestMalformedResourceIsNoAction() {
	n := s.notification(provider.ChangeCreated, "msg-1")
	n.Resource = "users/user-1/mailFolders"

	result, err := s.classifier.ProcessNotification(context.Background(), n)
	s.Require().NoError(err)
	s.Equal(ResultNoAction, result.Type)
}

func (s *ClassifierTestSuite) TestOutboundEmailStartsTracking() {
	s.fetcher.messages["msg-1"] = &provider.Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Subject:        "Project Update",
		From:           provider.EmailAddress{Address: "owner@example.com"},
		ToRecipients:   []provider.EmailAddress{{Address: "Alice@X.com"}},
		SentAt:         time.Now().UTC(),
	}

	result, err := s.classifier.ProcessNotification(context.Background(), s.notification(provider.ChangeCreated, "msg-1"))
	s.Require().NoError(err)
	s.Equal(ResultNewEmail, result.Type)

	tracked, err := s.tracked.GetByProviderMessageID(context.Background(), s.account.ID, "msg-1")
	s.Require().NoError(err)
	s.Equal("alice@x.com", tracked.Recipients)
	s.Equal(models.TrackedActive, tracked.Status)
	s.Equal([]events.Type{events.TypeEmailTracked}, s.sink.types())
}

func (s *ClassifierTestSuite) TestReplyIsRecordedAsResponse() {
	sentAt := time.Now().Add(-2 * time.Hour).UTC()
	s.Require().NoError(s.tracked.Upsert(context.Background(), &models.TrackedEmail{
		AccountID:         s.account.ID,
		ProviderMessageID: "msg-orig",
		ConversationID:    "conv-1",
		Subject:           "Project Update",
		SenderEmail:       "owner@example.com",
		Recipients:        "alice@x.com",
		SentAt:            sentAt,
		Status:            models.TrackedActive,
	}))

	s.fetcher.messages["msg-reply"] = &provider.Message{
		ID:             "msg-reply",
		ConversationID: "conv-1",
		Subject:        "RE: Project Update",
		From:           provider.EmailAddress{Address: "alice@x.com"},
		SentAt:         sentAt.Add(2 * time.Hour),
		ReceivedAt:     sentAt.Add(2 * time.Hour),
	}

	result, err := s.classifier.ProcessNotification(context.Background(), s.notification(provider.ChangeCreated, "msg-reply"))
	s.Require().NoError(err)
	s.Equal(ResultResponseDetected, result.Type)

	tracked, err := s.tracked.GetByProviderMessageID(context.Background(), s.account.ID, "msg-orig")
	s.Require().NoError(err)
	s.True(tracked.HasResponse)
	s.Equal(1, tracked.ResponseCount)
	s.Equal([]events.Type{events.TypeResponseDetected}, s.sink.types())
}

func (s *ClassifierTestSuite) TestInboundNonReplyIsNoAction() {
	s.fetcher.messages["msg-1"] = &provider.Message{
		ID:      "msg-1",
		Subject: "Newsletter",
		From:    provider.EmailAddress{Address: "news@example.org"},
		SentAt:  time.Now().UTC(),
	}

	result, err := s.classifier.ProcessNotification(context.Background(), s.notification(provider.ChangeCreated, "msg-1"))
	s.Require().NoError(err)
	s.Equal(ResultNoAction, result.Type)
	s.Empty(s.sink.types())
}

func (s *ClassifierTestSuite) TestDraftIsNotTracked() {
	s.fetcher.messages["msg-1"] = &provider.Message{
		ID:      "msg-1",
		Subject: "unfinished thought",
		From:    provider.EmailAddress{Address: "owner@example.com"},
		IsDraft: true,
		SentAt:  time.Now().UTC(),
	}

	result, err := s.classifier.ProcessNotification(context.Background(), s.notification(provider.ChangeCreated, "msg-1"))
	s.Require().NoError(err)
	s.Equal(ResultNoAction, result.Type)
}

func (s *ClassifierTestSuite) TestQuotaDenialIsRetryable() {
	s.quota.deny = true

	_, err := s.classifier.ProcessNotification(context.Background(), s.notification(provider.ChangeCreated, "msg-1"))
	s.Require().Error(err)
	s.True(apperrors.IsQuotaError(err))
	s.True(apperrors.Retryable(err))
}

func (s *ClassifierTestSuite) TestTransientFetchFailureIsRetryable() {
	s.fetcher.err = &apperrors.TransientProviderError{StatusCode: 503, Err: context.DeadlineExceeded}

	_, err := s.classifier.ProcessNotification(context.Background(), s.notification(provider.ChangeCreated, "msg-1"))
	s.Require().Error(err)
	s.True(apperrors.Retryable(err))
}

func (s *ClassifierTestSuite) TestMissingMessageIsNoAction() {
	result, err := s.classifier.ProcessNotification(context.Background(), s.notification(provider.ChangeCreated, "msg-ghost"))
	s.Require().NoError(err)
	s.Equal(ResultNoAction, result.Type)
}

func (s *ClassifierTestSuite) TestUpdatedTrackedEmail() {
	s.Require().NoError(s.tracked.Upsert(context.Background(), &models.TrackedEmail{
		AccountID:         s.account.ID,
		ProviderMessageID: "msg-1",
		Subject:           "Project Update",
		SenderEmail:       "owner@example.com",
		SentAt:            time.Now().UTC(),
		Status:            models.TrackedActive,
	}))

	result, err := s.classifier.ProcessNotification(context.Background(), s.notification(provider.ChangeUpdated, "msg-1"))
	s.Require().NoError(err)
	s.Equal(ResultEmailUpdated, result.Type)

	result, err = s.classifier.ProcessNotification(context.Background(), s.notification(provider.ChangeUpdated, "msg-unknown"))
	s.Require().NoError(err)
	s.Equal(ResultNoAction, result.Type)
}

func (s *ClassifierTestSuite) TestDeletedTrackedEmailMarkedFailed() {
	s.Require().NoError(s.tracked.Upsert(context.Background(), &models.TrackedEmail{
		AccountID:         s.account.ID,
		ProviderMessageID: "msg-1",
		Subject:           "Project Update",
		SenderEmail:       "owner@example.com",
		SentAt:            time.Now().UTC(),
		Status:            models.TrackedActive,
	}))

	result, err := s.classifier.ProcessNotification(context.Background(), s.notification(provider.ChangeDeleted, "msg-1"))
	s.Require().NoError(err)
	s.Equal(ResultEmailDeleted, result.Type)

	tracked, err := s.tracked.GetByProviderMessageID(context.Background(), s.account.ID, "msg-1")
	s.Require().NoError(err)
	s.Equal(models.TrackedFailed, tracked.Status)
	s.Equal([]events.Type{events.TypeEmailFailed}, s.sink.types())
}

func (s *ClassifierTestSuite) TestUnknownChangeTypeIsNoAction() {
	result, err := s.classifier.ProcessNotification(context.Background(), s.notification("archived", "msg-1"))
	s.Require().NoError(err)
	s.Equal(ResultNoAction, result.Type)
	s.Zero(s.quota.calls)
}

func TestClassifierTestSuite(t *testing.T) {
	suite.Run(t, new(ClassifierTestSuite))
}
