package models

import (
	"strings"
	"time"
)

// TrackedEmailStatus represents the tracking state of an outbound email
type TrackedEmailStatus string

const (
	TrackedActive    TrackedEmailStatus = "active"
	TrackedCompleted TrackedEmailStatus = "completed"
	TrackedFailed    TrackedEmailStatus = "failed"
)

// IsValid checks if the tracked email status is a known value
func (s TrackedEmailStatus) IsValid() bool {
	switch s {
	case TrackedActive, TrackedCompleted, TrackedFailed:
		return true
	}
	return false
}

// TrackedEmail represents an outbound message the system monitors for replies
type TrackedEmail struct {
	ID                uint               `gorm:"primaryKey" json:"id"`
	AccountID         uint               `gorm:"not null;uniqueIndex:idx_tracked_account_message;index" json:"account_id"`
	ProviderMessageID string             `gorm:"not null;size:512;uniqueIndex:idx_tracked_account_message" json:"provider_message_id"`
	ConversationID    string             `gorm:"size:512;index" json:"conversation_id,omitempty"`
	Subject           string             `gorm:"size:1024" json:"subject"`
	SenderEmail       string             `gorm:"not null;size:255" json:"sender_email"`
	Recipients        string             `gorm:"type:text" json:"recipients"`
	CCRecipients      string             `gorm:"type:text" json:"cc_recipients,omitempty"`
	SentAt            time.Time          `gorm:"not null;index" json:"sent_at"`
	HasResponse       bool               `gorm:"default:false" json:"has_response"`
	ResponseCount     int                `gorm:"default:0" json:"response_count"`
	LastResponseAt    *time.Time         `json:"last_response_at,omitempty"`
	Status            TrackedEmailStatus `gorm:"not null;default:active;size:32;index" json:"status"`
	CreatedAt         time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Account   *Account        `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"-"`
	Responses []EmailResponse `gorm:"foreignKey:TrackedEmailID;constraint:OnDelete:CASCADE" json:"responses,omitempty"`
}

// TableName returns the table name for TrackedEmail
func (TrackedEmail) TableName() string {
	return "tracked_emails"
}

// recipient lists are stored as a semicolon-joined, lower-cased string so
// the matcher can filter candidates with a plain LIKE and still get exact
// membership checks in Go.

// JoinAddresses normalizes and joins a recipient list for storage
func JoinAddresses(addrs []string) string {
	cleaned := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			cleaned = append(cleaned, a)
		}
	}
	return strings.Join(cleaned, ";")
}

// SplitAddresses splits a stored recipient list back into addresses
func SplitAddresses(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ";")
}

// RecipientList returns the To recipients as a slice
func (t *TrackedEmail) RecipientList() []string {
	return SplitAddresses(t.Recipients)
}

// WasSentTo reports whether the given address appears in the To or CC list
func (t *TrackedEmail) WasSentTo(address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return false
	}
	for _, r := range SplitAddresses(t.Recipients) {
		if r == address {
			return true
		}
	}
	for _, r := range SplitAddresses(t.CCRecipients) {
		if r == address {
			return true
		}
	}
	return false
}
