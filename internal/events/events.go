package events

import "time"

// Type identifies a tracking event published to subscribers
type Type string

const (
	TypeEmailTracked        Type = "email_tracked"
	TypeResponseDetected    Type = "response_detected"
	TypeEmailFailed         Type = "email_failed"
	TypeSubscriptionCreated Type = "subscription_created"
	TypeSubscriptionRenewed Type = "subscription_renewed"
	TypeSubscriptionDeleted Type = "subscription_deleted"
	TypeJobDeadLettered     Type = "job_dead_lettered"
)

// Event is one fire-and-forget notification about tracking activity on an
// account
type Event struct {
	Type       Type      `json:"type"`
	AccountID  uint      `json:"account_id"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink accepts events without blocking the caller. Publishing never returns
// an error: event delivery is best-effort and must not fail pipeline work.
type Sink interface {
	Publish(event Event)
}

// NoopSink discards all events
type NoopSink struct{}

func (NoopSink) Publish(Event) {}

// ResponseDetectedPayload describes a matched reply
type ResponseDetectedPayload struct {
	TrackedEmailID  uint    `json:"tracked_email_id"`
	Subject         string  `json:"subject,omitempty"`
	SenderEmail     string  `json:"sender_email"`
	ConfidenceScore float64 `json:"confidence_score"`
	IsAutoReply     bool    `json:"is_auto_reply"`
}

// EmailTrackedPayload describes a newly tracked outbound email
type EmailTrackedPayload struct {
	TrackedEmailID uint   `json:"tracked_email_id"`
	Subject        string `json:"subject,omitempty"`
	Recipients     string `json:"recipients"`
}
