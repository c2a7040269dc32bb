package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryable_QuotaError(t *testing.T) {
	err := NewQuotaError(1, "read", 100, 100, time.Now().Add(time.Minute))
	assert.True(t, Retryable(err))

	wrapped := fmt.Errorf("fetch message: %w", err)
	assert.True(t, Retryable(wrapped))
}

func TestRetryable_ProcessingError(t *testing.T) {
	assert.True(t, Retryable(NewRetryable("fetch", errors.New("boom"))))
	assert.False(t, Retryable(NewPermanent("parse", errors.New("bad payload"))))
}

func TestRetryable_TransientProviderError(t *testing.T) {
	err := &TransientProviderError{StatusCode: 503, Err: errors.New("service unavailable")}
	assert.True(t, Retryable(err))
	assert.Contains(t, err.Error(), "503")
}

func TestRetryable_PermanentSentinels(t *testing.T) {
	permanent := []error{
		ErrNotFound,
		ErrAccountNotFound,
		ErrSubscriptionNotFound,
		ErrMessageNotFound,
		ErrInvalidInput,
		ErrDuplicateEntry,
	}
	for _, err := range permanent {
		assert.False(t, Retryable(err), "expected %v to be permanent", err)
		assert.False(t, Retryable(fmt.Errorf("wrapped: %w", err)))
	}
}

func TestRetryable_Context(t *testing.T) {
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(context.Canceled))
}

func TestRetryable_UnknownDefaultsToRetry(t *testing.T) {
	assert.True(t, Retryable(errors.New("something unexpected")))
}

func TestRetryable_Nil(t *testing.T) {
	assert.False(t, Retryable(nil))
}

func TestQuotaError_Message(t *testing.T) {
	resetAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := NewQuotaError(42, "subscription", 501, 500, resetAt)
	assert.Contains(t, err.Error(), "account 42")
	assert.Contains(t, err.Error(), "501/500")
	assert.True(t, IsQuotaError(err))
	assert.False(t, IsQuotaError(errors.New("other")))
}

func TestProcessingError_Unwrap(t *testing.T) {
	cause := ErrMessageNotFound
	err := NewPermanent("fetch", cause)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.Contains(t, err.Error(), "fetch")
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{ErrNotFound, CodeNotFound},
		{ErrSubscriptionNotFound, CodeNotFound},
		{ErrDuplicateEntry, CodeDuplicateEntry},
		{ErrSubscriptionExists, CodeDuplicateEntry},
		{ErrInvalidInput, CodeInvalidInput},
		{ErrUnauthorized, CodeUnauthorized},
		{NewQuotaError(1, "read", 2, 1, time.Now()), CodeQuotaExceeded},
		{errors.New("anything else"), CodeInternalError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, GetErrorCode(tt.err))
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))

	err := Wrap(ErrNotFound, "loading subscription")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "loading subscription")
}
