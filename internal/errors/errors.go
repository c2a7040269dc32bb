package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Domain-specific error types
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateEntry indicates a unique constraint violation
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrAccountNotFound indicates the mailbox account was not found
	ErrAccountNotFound = errors.New("account not found")

	// ErrSubscriptionNotFound indicates the subscription was not found
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSubscriptionExists indicates an active subscription already exists
	// for the (account, resource) pair
	ErrSubscriptionExists = errors.New("active subscription already exists")

	// ErrMessageNotFound indicates the provider no longer has the message
	ErrMessageNotFound = errors.New("message not found")

	// ErrTrackedEmailNotFound indicates the tracked email was not found
	ErrTrackedEmailNotFound = errors.New("tracked email not found")

	// ErrJobNotFound indicates the queue job was not found
	ErrJobNotFound = errors.New("queue job not found")

	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal server error")
)

// Error codes for API responses
const (
	CodeNotFound       = "NOT_FOUND"
	CodeDuplicateEntry = "DUPLICATE_ENTRY"
	CodeInvalidInput   = "INVALID_INPUT"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeQuotaExceeded  = "QUOTA_EXCEEDED"
	CodeInternalError  = "INTERNAL_ERROR"
)

// QuotaError is returned when the quota governor denies a provider call.
// Quota errors are always retryable: the job backs off and the window rolls over.
type QuotaError struct {
	AccountID uint
	Class     string
	Used      int64
	Limit     int64
	ResetAt   time.Time
}

// Error implements the error interface
func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded for account %d class %s: %d/%d, resets at %s",
		e.AccountID, e.Class, e.Used, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// NewQuotaError creates a QuotaError from a governor decision
func NewQuotaError(accountID uint, class string, used, limit int64, resetAt time.Time) *QuotaError {
	return &QuotaError{AccountID: accountID, Class: class, Used: used, Limit: limit, ResetAt: resetAt}
}

// ProcessingError wraps a failure during notification processing and carries
// the retry decision for the queue. The queue is the only place that acts on
// this flag; everything downstream just reports it.
type ProcessingError struct {
	Err         error
	IsRetryable bool
	Stage       string
}

// Error implements the error interface
func (e *ProcessingError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a retryable processing error
func NewRetryable(stage string, err error) *ProcessingError {
	return &ProcessingError{Err: err, IsRetryable: true, Stage: stage}
}

// NewPermanent wraps err as a non-retryable processing error
func NewPermanent(stage string, err error) *ProcessingError {
	return &ProcessingError{Err: err, IsRetryable: false, Stage: stage}
}

// TransientProviderError marks a provider failure (network, 429, 5xx) that is
// expected to clear on its own.
type TransientProviderError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *TransientProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient provider error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

// Unwrap returns the underlying error
func (e *TransientProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the queue should retry a job that failed with err.
//
// Quota denials, transient provider errors, network failures, and storage
// hiccups are retryable. Not-found and malformed-input errors are permanent:
// retrying them can never succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var procErr *ProcessingError
	if errors.As(err, &procErr) {
		return procErr.IsRetryable
	}

	var quotaErr *QuotaError
	if errors.As(err, &quotaErr) {
		return true
	}

	var transientErr *TransientProviderError
	if errors.As(err, &transientErr) {
		return true
	}

	// Permanent: the referenced entity is gone or the input is broken
	if errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrTrackedEmailNotFound) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDuplicateEntry) {
		return false
	}

	// Network failures clear on their own
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Storage is assumed eventually available
	msg := err.Error()
	if strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") {
		return true
	}

	// Unknown errors are treated as transient so a real outage self-heals;
	// the retry budget bounds the damage when it turns out to be permanent.
	return true
}

// IsQuotaError checks if the error is a quota denial
func IsQuotaError(err error) bool {
	var quotaErr *QuotaError
	return errors.As(err, &quotaErr)
}

// IsNotFound checks if the error is any of the not-found sentinels
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrTrackedEmailNotFound) ||
		errors.Is(err, ErrJobNotFound)
}

// IsDuplicateEntry checks if the error is a duplicate entry error
func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// GetErrorCode returns the appropriate error code for an error
func GetErrorCode(err error) string {
	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsDuplicateEntry(err), errors.Is(err, ErrSubscriptionExists):
		return CodeDuplicateEntry
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case IsQuotaError(err):
		return CodeQuotaExceeded
	default:
		return CodeInternalError
	}
}
