package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replywatch/replywatch-backend/internal/credentials"
	"github.com/replywatch/replywatch-backend/internal/models"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

func testAccount() *models.Account {
	return &models.Account{ID: 1, Email: "owner@example.com", ProviderUserID: "user-1"}
}

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClient(srv.URL, 5*time.Second, credentials.StaticTokenProvider{Token: "test-token"})
	return client, srv
}

func TestGetMessage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/users/user-1/messages/msg-42", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("$select"), "conversationId")

		json.NewEncoder(w).Encode(map[string]any{
			"id":             "msg-42",
			"conversationId": "conv-7",
			"subject":        "Re: Project Update",
			"from":           map[string]any{"emailAddress": map[string]any{"name": "Bob", "address": "bob@example.com"}},
			"toRecipients": []map[string]any{
				{"emailAddress": map[string]any{"address": "owner@example.com"}},
			},
			"sentDateTime": "2026-08-20T10:37:00Z",
			"internetMessageHeaders": []map[string]any{
				{"name": "In-Reply-To", "value": "<abc@example.com>"},
			},
		})
	})
	client, srv := newTestClient(handler)
	defer srv.Close()

	msg, err := client.GetMessage(context.Background(), testAccount(), "msg-42")
	require.NoError(t, err)
	assert.Equal(t, "msg-42", msg.ID)
	assert.Equal(t, "conv-7", msg.ConversationID)
	assert.Equal(t, "Re: Project Update", msg.Subject)
	assert.Equal(t, "bob@example.com", msg.From.Address)
	assert.Equal(t, []string{"owner@example.com"}, Addresses(msg.ToRecipients))
	assert.Equal(t, "<abc@example.com>", msg.Header("in-reply-to"))
	assert.Equal(t, time.Date(2026, 8, 20, 10, 37, 0, 0, time.UTC), msg.SentAt)
}

func TestGetMessageNotFound(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := client.GetMessage(context.Background(), testAccount(), "gone")
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
	assert.False(t, apperrors.Retryable(err))
}

func TestGetMessageServerErrorIsRetryable(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := client.GetMessage(context.Background(), testAccount(), "msg-1")
	require.Error(t, err)
	assert.True(t, apperrors.Retryable(err))
}

func TestGetMessageThrottledIsRetryable(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := client.GetMessage(context.Background(), testAccount(), "msg-1")
	require.Error(t, err)
	assert.True(t, apperrors.Retryable(err))
}

func TestGetMessageUnauthorizedIsPermanent(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := client.GetMessage(context.Background(), testAccount(), "msg-1")
	require.Error(t, err)
	assert.False(t, apperrors.Retryable(err))
}

func TestCreateSubscription(t *testing.T) {
	expiry := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/subscriptions", r.URL.Path)

		var req SubscriptionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "created", req.ChangeType)
		assert.Equal(t, "secret-state", req.ClientState)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(SubscriptionResponse{
			ID:                 "sub-1",
			Resource:           req.Resource,
			ChangeType:         req.ChangeType,
			ExpirationDateTime: req.ExpirationDateTime,
			ClientState:        req.ClientState,
		})
	})
	client, srv := newTestClient(handler)
	defer srv.Close()

	sub, err := client.CreateSubscription(context.Background(), testAccount(), SubscriptionRequest{
		ChangeType:         "created",
		NotificationURL:    "https://hooks.example.com/webhooks/notifications",
		Resource:           "users/user-1/mailFolders('inbox')/messages",
		ExpirationDateTime: expiry,
		ClientState:        "secret-state",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)
	assert.True(t, sub.ExpirationDateTime.Equal(expiry))
}

func TestRenewSubscription(t *testing.T) {
	expiry := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/subscriptions/sub-1", r.URL.Path)
		json.NewEncoder(w).Encode(SubscriptionResponse{ID: "sub-1", ExpirationDateTime: expiry})
	})
	client, srv := newTestClient(handler)
	defer srv.Close()

	sub, err := client.RenewSubscription(context.Background(), testAccount(), "sub-1", expiry)
	require.NoError(t, err)
	assert.True(t, sub.ExpirationDateTime.Equal(expiry))
}

func TestRenewSubscriptionNotFound(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := client.RenewSubscription(context.Background(), testAccount(), "sub-x", time.Now())
	assert.ErrorIs(t, err, apperrors.ErrSubscriptionNotFound)
}

func TestDeleteSubscriptionIdempotent(t *testing.T) {
	calls := 0
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	require.NoError(t, client.DeleteSubscription(context.Background(), testAccount(), "sub-1"))
	require.NoError(t, client.DeleteSubscription(context.Background(), testAccount(), "sub-1"))
	assert.Equal(t, 2, calls)
}

func TestMessageIDFromResource(t *testing.T) {
	assert.Equal(t, "AAMkAD123=", MessageIDFromResource("Users/user-1/Messages/AAMkAD123="))
	assert.Equal(t, "m-1", MessageIDFromResource("/users/u/mailFolders('inbox')/messages/m-1"))
	assert.Equal(t, "", MessageIDFromResource("users/u/mailFolders"))
	assert.Equal(t, "", MessageIDFromResource(""))
}
