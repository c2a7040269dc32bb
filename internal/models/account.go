package models

import (
	"strings"
	"time"
)

// AccountStatus represents the connection state of a mailbox account
type AccountStatus string

const (
	AccountConnected    AccountStatus = "connected"
	AccountDisconnected AccountStatus = "disconnected"
	AccountReauthNeeded AccountStatus = "reauth_needed"
)

// IsValid checks if the account status is a known value
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountConnected, AccountDisconnected, AccountReauthNeeded:
		return true
	}
	return false
}

// Account represents a connected mailbox account whose outbound email is tracked
type Account struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	Email          string        `gorm:"uniqueIndex;not null;size:255" json:"email"`
	ProviderUserID string        `gorm:"uniqueIndex;not null;size:255" json:"provider_user_id"`
	RefreshToken   string        `gorm:"size:4096" json:"-"`
	Status         AccountStatus `gorm:"not null;default:connected;size:32" json:"status"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Subscriptions []Subscription `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// OwnsAddress reports whether the given address belongs to this account.
// Comparison is case-insensitive per RFC 5321 domain rules; local parts are
// folded too since providers treat them that way in practice.
func (a *Account) OwnsAddress(address string) bool {
	return strings.EqualFold(strings.TrimSpace(address), a.Email)
}
