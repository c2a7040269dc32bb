package models

import (
	"time"
)

// EmailResponse represents one detected reply to a tracked email.
// Rows are append-only; a recorded response is never mutated.
type EmailResponse struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TrackedEmailID    uint      `gorm:"not null;uniqueIndex:idx_responses_tracked_message,priority:1;index" json:"tracked_email_id"`
	AccountID         uint      `gorm:"not null;index" json:"account_id"`
	ProviderMessageID string    `gorm:"not null;size:512;uniqueIndex:idx_responses_tracked_message,priority:2" json:"provider_message_id"`
	SenderEmail       string    `gorm:"not null;size:255" json:"sender_email"`
	Subject           string    `gorm:"size:1024" json:"subject"`
	ReceivedAt        time.Time `gorm:"not null" json:"received_at"`
	ConfidenceScore   float64   `gorm:"not null" json:"confidence_score"`
	FactorBreakdown   string    `gorm:"type:text" json:"factor_breakdown,omitempty"`
	IsAutoReply       bool      `gorm:"default:false" json:"is_auto_reply"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`

	// A tracked email records each provider message at most once, which keeps
	// duplicate notifications for the same reply idempotent.
	TrackedEmail *TrackedEmail `gorm:"foreignKey:TrackedEmailID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for EmailResponse
func (EmailResponse) TableName() string {
	return "email_responses"
}
