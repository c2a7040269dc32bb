package models

import (
	"time"
)

// ResourceKind identifies the provider resource a subscription watches
type ResourceKind string

const (
	ResourceMessages ResourceKind = "messages"
)

// Subscription represents a provider-side push subscription for an account
type Subscription struct {
	ID                     uint         `gorm:"primaryKey" json:"id"`
	AccountID              uint         `gorm:"not null;index:idx_subscriptions_account_resource" json:"account_id"`
	ProviderSubscriptionID string       `gorm:"uniqueIndex;not null;size:255" json:"provider_subscription_id"`
	Resource               string       `gorm:"not null;size:255;index:idx_subscriptions_account_resource" json:"resource"`
	ChangeTypes            string       `gorm:"not null;size:255" json:"change_types"`
	NotificationURL        string       `gorm:"not null;size:1024" json:"notification_url"`
	ClientState            string       `gorm:"not null;size:255" json:"-"`
	ExpiresAt              time.Time    `gorm:"not null;index" json:"expires_at"`
	IsActive               bool         `gorm:"default:true;index" json:"is_active"`
	ErrorCount             int          `gorm:"default:0" json:"error_count"`
	LastError              string       `json:"last_error,omitempty"`
	LastRenewedAt          *time.Time   `json:"last_renewed_at,omitempty"`
	CreatedAt              time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time    `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Account *Account `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Subscription
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsExpired checks if the subscription has passed its expiry timestamp.
// Expiry is detected lazily; consumers must treat an expired subscription
// as inactive even when the active flag has not been flipped yet.
func (s *Subscription) IsExpired() bool {
	return !s.ExpiresAt.After(time.Now())
}

// IsUsable reports whether notifications for this subscription should be processed
func (s *Subscription) IsUsable() bool {
	return s.IsActive && !s.IsExpired()
}
