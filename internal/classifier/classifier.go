package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/replywatch/replywatch-backend/internal/events"
	"github.com/replywatch/replywatch-backend/internal/matcher"
	"github.com/replywatch/replywatch-backend/internal/metrics"
	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/replywatch/replywatch-backend/internal/provider"
	"github.com/replywatch/replywatch-backend/internal/quota"
	"github.com/replywatch/replywatch-backend/internal/repository"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// ResultType categorizes what one notification turned out to be
type ResultType string

const (
	ResultNewEmail         ResultType = "new_email"
	ResultResponseDetected ResultType = "response_detected"
	ResultEmailUpdated     ResultType = "email_updated"
	ResultEmailDeleted     ResultType = "email_deleted"
	ResultNoAction         ResultType = "no_action"
)

// Result is the outcome of classifying one notification
type Result struct {
	Type    ResultType
	Details string
}

// MessageFetcher fetches provider messages on behalf of an account
type MessageFetcher interface {
	GetMessage(ctx context.Context, account *models.Account, messageID string) (*provider.Message, error)
}

// QuotaChecker gates provider calls against the account's budget
type QuotaChecker interface {
	CheckAndRecord(ctx context.Context, accountID uint, class quota.Class) (quota.Decision, error)
}

// ResponseMatcher decides whether a message replies to a tracked email
type ResponseMatcher interface {
	Match(ctx context.Context, account *models.Account, msg *provider.Message) (*matcher.Match, error)
	RecordMatch(ctx context.Context, account *models.Account, msg *provider.Message, match *matcher.Match) error
}

// Classifier routes one change notification to its consequence: start
// tracking a new outbound email, record a detected response, mark a deleted
// tracked email, or do nothing.
type Classifier struct {
	accounts      repository.AccountRepository
	subscriptions repository.SubscriptionRepository
	trackedEmails repository.TrackedEmailRepository
	messages      MessageFetcher
	quota         QuotaChecker
	matcher       ResponseMatcher
	sink          events.Sink
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func New(
	accounts repository.AccountRepository,
	subscriptions repository.SubscriptionRepository,
	trackedEmails repository.TrackedEmailRepository,
	messages MessageFetcher,
	quotaChecker QuotaChecker,
	responseMatcher ResponseMatcher,
	sink events.Sink,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Classifier {
	return &Classifier{
		accounts:      accounts,
		subscriptions: subscriptions,
		trackedEmails: trackedEmails,
		messages:      messages,
		quota:         quotaChecker,
		matcher:       responseMatcher,
		sink:          sink,
		metrics:       m,
		logger:        logger,
	}
}

// ProcessNotification classifies one notification. Permanent conditions
// (unknown subscription, missing message, malformed resource) resolve to
// no_action without error so the queue completes the job; transient failures
// return a retryable error and leave the retry decision to the queue.
func (c *Classifier) ProcessNotification(ctx context.Context, n provider.Notification) (*Result, error) {
	sub, err := c.subscriptions.GetByProviderID(ctx, n.SubscriptionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// the provider kept firing after the subscription was deleted
			return c.noAction("subscription %s no longer exists", n.SubscriptionID), nil
		}
		return nil, apperrors.NewRetryable("resolve_subscription", err)
	}

	account, err := c.accounts.GetByID(ctx, sub.AccountID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return c.noAction("account %d no longer exists", sub.AccountID), nil
		}
		return nil, apperrors.NewRetryable("resolve_account", err)
	}
	if account.Status == models.AccountDisconnected {
		return c.noAction("account %d is disconnected", account.ID), nil
	}

	messageID := provider.MessageIDFromResource(n.Resource)
	if messageID == "" {
		return c.noAction("resource %q carries no message id", n.Resource), nil
	}

	switch n.ChangeType {
	case provider.ChangeCreated:
		return c.processCreated(ctx, account, messageID)
	case provider.ChangeUpdated:
		return c.processUpdated(ctx, account, messageID)
	case provider.ChangeDeleted:
		return c.processDeleted(ctx, account, messageID)
	default:
		return c.noAction("unknown change type %q", n.ChangeType), nil
	}
}

func (c *Classifier) processCreated(ctx context.Context, account *models.Account, messageID string) (*Result, error) {
	if _, err := c.quota.CheckAndRecord(ctx, account.ID, quota.ClassRead); err != nil {
		c.metrics.QuotaDecisions.WithLabelValues(string(quota.ClassRead), "denied").Inc()
		return nil, err
	}
	c.metrics.QuotaDecisions.WithLabelValues(string(quota.ClassRead), "allowed").Inc()

	msg, err := c.messages.GetMessage(ctx, account, messageID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return c.noAction("message %s is gone", messageID), nil
		}
		if apperrors.Retryable(err) {
			return nil, apperrors.NewRetryable("fetch_message", err)
		}
		return nil, err
	}

	match, err := c.matcher.Match(ctx, account, msg)
	if err != nil {
		return nil, apperrors.NewRetryable("match_response", err)
	}
	if match != nil {
		if err := c.matcher.RecordMatch(ctx, account, msg, match); err != nil {
			return nil, apperrors.NewRetryable("record_response", err)
		}
		c.metrics.Matches.WithLabelValues("matched").Inc()
		c.sink.Publish(events.Event{
			Type:      events.TypeResponseDetected,
			AccountID: account.ID,
			Payload: events.ResponseDetectedPayload{
				TrackedEmailID:  match.TrackedEmail.ID,
				Subject:         msg.Subject,
				SenderEmail:     strings.ToLower(msg.From.Address),
				ConfidenceScore: match.Score,
				IsAutoReply:     match.IsAutoReply,
			},
		})
		c.logger.Info("response detected",
			slog.Uint64("account_id", uint64(account.ID)),
			slog.Uint64("tracked_email_id", uint64(match.TrackedEmail.ID)),
			slog.Float64("score", match.Score))
		return &Result{Type: ResultResponseDetected, Details: fmt.Sprintf("matched tracked email %d with score %.2f", match.TrackedEmail.ID, match.Score)}, nil
	}
	c.metrics.Matches.WithLabelValues("no_match").Inc()

	if account.OwnsAddress(msg.From.Address) && !msg.IsDraft {
		return c.startTracking(ctx, account, msg)
	}

	return c.noAction("message %s is neither a reply nor an outbound email", messageID), nil
}

// startTracking records an outbound email so future replies can be matched
// against it. Upsert keeps duplicate notifications idempotent.
func (c *Classifier) startTracking(ctx context.Context, account *models.Account, msg *provider.Message) (*Result, error) {
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = msg.ReceivedAt
	}

	tracked := &models.TrackedEmail{
		AccountID:         account.ID,
		ProviderMessageID: msg.ID,
		ConversationID:    msg.ConversationID,
		Subject:           msg.Subject,
		SenderEmail:       strings.ToLower(msg.From.Address),
		Recipients:        models.JoinAddresses(provider.Addresses(msg.ToRecipients)),
		CCRecipients:      models.JoinAddresses(provider.Addresses(msg.CcRecipients)),
		SentAt:            sentAt,
		Status:            models.TrackedActive,
	}
	if err := c.trackedEmails.Upsert(ctx, tracked); err != nil {
		return nil, apperrors.NewRetryable("track_email", err)
	}

	c.sink.Publish(events.Event{
		Type:      events.TypeEmailTracked,
		AccountID: account.ID,
		Payload: events.EmailTrackedPayload{
			TrackedEmailID: tracked.ID,
			Subject:        tracked.Subject,
			Recipients:     tracked.Recipients,
		},
	})
	c.logger.Info("tracking new outbound email",
		slog.Uint64("account_id", uint64(account.ID)),
		slog.Uint64("tracked_email_id", uint64(tracked.ID)),
		slog.String("provider_message_id", msg.ID))
	return &Result{Type: ResultNewEmail, Details: fmt.Sprintf("tracking email %d", tracked.ID)}, nil
}

func (c *Classifier) processUpdated(ctx context.Context, account *models.Account, messageID string) (*Result, error) {
	tracked, err := c.trackedEmails.GetByProviderMessageID(ctx, account.ID, messageID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return c.noAction("updated message %s is not tracked", messageID), nil
		}
		return nil, apperrors.NewRetryable("lookup_tracked_email", err)
	}

	c.logger.Info("tracked email updated at provider",
		slog.Uint64("account_id", uint64(account.ID)),
		slog.Uint64("tracked_email_id", uint64(tracked.ID)))
	return &Result{Type: ResultEmailUpdated, Details: fmt.Sprintf("tracked email %d updated", tracked.ID)}, nil
}

// processDeleted marks a tracked email failed once the provider reports the
// underlying message gone; it can no longer be observed for replies.
func (c *Classifier) processDeleted(ctx context.Context, account *models.Account, messageID string) (*Result, error) {
	tracked, err := c.trackedEmails.GetByProviderMessageID(ctx, account.ID, messageID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return c.noAction("deleted message %s was not tracked", messageID), nil
		}
		return nil, apperrors.NewRetryable("lookup_tracked_email", err)
	}

	if err := c.trackedEmails.UpdateStatus(ctx, tracked.ID, models.TrackedFailed); err != nil {
		return nil, apperrors.NewRetryable("fail_tracked_email", err)
	}

	c.sink.Publish(events.Event{
		Type:      events.TypeEmailFailed,
		AccountID: account.ID,
		Payload:   map[string]any{"tracked_email_id": tracked.ID},
	})
	return &Result{Type: ResultEmailDeleted, Details: fmt.Sprintf("tracked email %d marked failed", tracked.ID)}, nil
}

func (c *Classifier) noAction(format string, args ...any) *Result {
	details := fmt.Sprintf(format, args...)
	c.logger.Debug("notification requires no action", slog.String("details", details))
	return &Result{Type: ResultNoAction, Details: details}
}
