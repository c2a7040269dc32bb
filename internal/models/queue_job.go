package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a queue job
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dead_letter"
)

// IsValid checks if the job status is a known value
func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed, JobDeadLetter:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the job's lifecycle.
// Terminal jobs are never picked up by the worker again; only an explicit
// manual requeue brings them back.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobDeadLetter
}

// QueueJob represents one durable unit of notification processing.
// The payload is opaque to the queue; only the classifier interprets it.
type QueueJob struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	AccountID      uint           `gorm:"not null;index" json:"account_id"`
	Payload        json.RawMessage `gorm:"not null" json:"payload"`
	Status         JobStatus      `gorm:"not null;default:pending;size:32;index:idx_queue_jobs_due,priority:1" json:"status"`
	RetryCount     int            `gorm:"default:0" json:"retry_count"`
	MaxRetries     int            `gorm:"default:3" json:"max_retries"`
	ScheduledFor   time.Time      `gorm:"not null;index:idx_queue_jobs_due,priority:2" json:"scheduled_for"`
	LeaseExpiresAt *time.Time     `gorm:"index" json:"lease_expires_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Account *Account `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for QueueJob
func (QueueJob) TableName() string {
	return "queue_jobs"
}

// RetriesExhausted reports whether the job has used up its retry budget
func (j *QueueJob) RetriesExhausted() bool {
	return j.RetryCount >= j.MaxRetries
}
