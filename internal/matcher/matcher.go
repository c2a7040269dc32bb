package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/replywatch/replywatch-backend/internal/provider"
	"github.com/replywatch/replywatch-backend/internal/repository"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// Factor is one weighted scoring dimension. Each factor returns a value in
// [0,1]; the final confidence is the weight-normalized sum.
type Factor struct {
	Name   string
	Weight float64
	Score  func(msg *provider.Message, tracked *models.TrackedEmail, window time.Duration) float64
}

// DefaultFactors returns the standard scoring table
func DefaultFactors() []Factor {
	return []Factor{
		{Name: "subject", Weight: 0.35, Score: scoreSubject},
		{Name: "recipient", Weight: 0.25, Score: scoreRecipient},
		{Name: "conversation", Weight: 0.20, Score: scoreConversation},
		{Name: "time_proximity", Weight: 0.15, Score: scoreTimeProximity},
		{Name: "headers", Weight: 0.05, Score: scoreHeaders},
	}
}

// Match is the outcome of scoring one candidate message against the tracked
// emails of an account
type Match struct {
	TrackedEmail *models.TrackedEmail
	Score        float64
	Breakdown    map[string]float64
	IsAutoReply  bool
}

// Config tunes the matcher's acceptance behavior
type Config struct {
	// Threshold is the minimum confidence for a match, in [0,1]
	Threshold float64
	// ResponseWindow bounds how long after sending a reply is still expected
	ResponseWindow time.Duration
	// AutoReplyFiltering raises the bar for messages flagged as automatic
	AutoReplyFiltering bool
}

// Threshold adjustments applied on top of Config.Threshold
const (
	autoReplyPenalty    = 0.10
	bulkResponsePenalty = 0.15
	bulkResponseCount   = 3
)

// Matcher decides which tracked email, if any, an incoming message replies
// to. Scoring is pure; the only I/O is the candidate lookup and, via
// RecordMatch, the response write.
type Matcher struct {
	trackedEmails repository.TrackedEmailRepository
	responses     repository.ResponseRepository
	factors       []Factor
	cfg           Config
	logger        *slog.Logger
}

func New(trackedEmails repository.TrackedEmailRepository, responses repository.ResponseRepository, cfg Config, logger *slog.Logger) *Matcher {
	return &Matcher{
		trackedEmails: trackedEmails,
		responses:     responses,
		factors:       DefaultFactors(),
		cfg:           cfg,
		logger:        logger,
	}
}

// Match scores msg against the account's active tracked emails and returns
// the best candidate above threshold, or nil when nothing qualifies.
//
// Messages without a reply marker in the subject are rejected before any
// scoring; candidates are bounded to tracked emails sent to msg's sender
// within the response window. Equal scores go to the most recently sent
// tracked email.
func (m *Matcher) Match(ctx context.Context, account *models.Account, msg *provider.Message) (*Match, error) {
	if !HasReplyMarker(msg.Subject) {
		return nil, nil
	}

	sender := strings.ToLower(strings.TrimSpace(msg.From.Address))
	if sender == "" || account.OwnsAddress(sender) {
		return nil, nil
	}

	candidates, err := m.trackedEmails.FindCandidates(ctx, account.ID, sender, m.cfg.ResponseWindow)
	if err != nil {
		return nil, fmt.Errorf("loading match candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	isAutoReply := DetectAutoReply(msg)

	var best *Match
	for i := range candidates {
		tracked := &candidates[i]
		score, breakdown := m.scoreCandidate(msg, tracked)

		threshold := m.cfg.Threshold
		if isAutoReply && m.cfg.AutoReplyFiltering {
			threshold += autoReplyPenalty
			// a bulk auto-responder keeps replying to the same tracked email
			if tracked.ResponseCount >= bulkResponseCount {
				threshold += bulkResponsePenalty
			}
		}

		m.logger.Debug("scored match candidate",
			slog.Uint64("tracked_email_id", uint64(tracked.ID)),
			slog.Float64("score", score),
			slog.Float64("threshold", threshold),
			slog.Bool("auto_reply", isAutoReply))

		if score < threshold {
			continue
		}
		// candidates arrive most-recent first, so a strict comparison keeps
		// the most recently sent tracked email on ties
		if best == nil || score > best.Score {
			best = &Match{TrackedEmail: tracked, Score: score, Breakdown: breakdown, IsAutoReply: isAutoReply}
		}
	}
	return best, nil
}

// scoreCandidate computes the weighted confidence of msg being a reply to
// tracked, along with the per-factor breakdown
func (m *Matcher) scoreCandidate(msg *provider.Message, tracked *models.TrackedEmail) (float64, map[string]float64) {
	breakdown := make(map[string]float64, len(m.factors))
	var total, weightSum float64
	for _, f := range m.factors {
		v := f.Score(msg, tracked, m.cfg.ResponseWindow)
		breakdown[f.Name] = v
		total += v * f.Weight
		weightSum += f.Weight
	}
	if weightSum == 0 {
		return 0, breakdown
	}
	return total / weightSum, breakdown
}

// RecordMatch persists the match as an immutable response row and bumps the
// tracked email's response counters in one atomic update. A duplicate
// notification for the same reply is treated as already recorded.
func (m *Matcher) RecordMatch(ctx context.Context, account *models.Account, msg *provider.Message, match *Match) error {
	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = msg.SentAt
	}

	breakdown, err := json.Marshal(match.Breakdown)
	if err != nil {
		return fmt.Errorf("encoding factor breakdown: %w", err)
	}

	response := &models.EmailResponse{
		TrackedEmailID:    match.TrackedEmail.ID,
		AccountID:         account.ID,
		ProviderMessageID: msg.ID,
		SenderEmail:       strings.ToLower(msg.From.Address),
		Subject:           msg.Subject,
		ReceivedAt:        receivedAt,
		ConfidenceScore:   match.Score,
		FactorBreakdown:   string(breakdown),
		IsAutoReply:       match.IsAutoReply,
	}
	if err := m.responses.Create(ctx, response); err != nil {
		if apperrors.IsDuplicateEntry(err) {
			m.logger.Info("response already recorded, skipping",
				slog.Uint64("tracked_email_id", uint64(match.TrackedEmail.ID)),
				slog.String("provider_message_id", msg.ID))
			return nil
		}
		return fmt.Errorf("recording response: %w", err)
	}

	if err := m.trackedEmails.RecordResponse(ctx, match.TrackedEmail.ID, receivedAt); err != nil {
		return fmt.Errorf("updating response counters: %w", err)
	}
	return nil
}

func scoreSubject(msg *provider.Message, tracked *models.TrackedEmail, _ time.Duration) float64 {
	a := NormalizeSubject(msg.Subject)
	b := NormalizeSubject(tracked.Subject)
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	similarity := 1 - float64(dist)/float64(maxLen)
	if similarity < 0 {
		return 0
	}
	return similarity
}

func scoreRecipient(msg *provider.Message, tracked *models.TrackedEmail, _ time.Duration) float64 {
	if tracked.WasSentTo(msg.From.Address) {
		return 1
	}
	return 0
}

func scoreConversation(msg *provider.Message, tracked *models.TrackedEmail, _ time.Duration) float64 {
	if msg.ConversationID != "" && msg.ConversationID == tracked.ConversationID {
		return 1
	}
	return 0
}

// scoreTimeProximity rewards fast replies with exponential decay. A reply
// that predates the original or falls outside the window scores zero.
func scoreTimeProximity(msg *provider.Message, tracked *models.TrackedEmail, window time.Duration) float64 {
	replyAt := msg.SentAt
	if replyAt.IsZero() {
		replyAt = msg.ReceivedAt
	}
	delta := replyAt.Sub(tracked.SentAt)
	if delta <= 0 || delta > window {
		return 0
	}
	deltaHours := delta.Hours()
	scale := window.Hours() / 4
	return math.Exp(-deltaHours / scale)
}

func scoreHeaders(msg *provider.Message, _ *models.TrackedEmail, _ time.Duration) float64 {
	if headersOf(msg).inThread() {
		return 1
	}
	score := 0.0
	if HasReplyMarker(msg.Subject) {
		score = 0.5
	}
	if strings.Contains(strings.ToLower(msg.BodyPreview), "wrote:") && score < 0.5 {
		score = 0.5
	}
	return score
}
