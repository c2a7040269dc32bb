package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/replywatch/replywatch-backend/internal/credentials"
	"github.com/replywatch/replywatch-backend/internal/models"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// messageSelect limits message fetches to the fields the pipeline reads
const messageSelect = "id,conversationId,subject,from,sender,toRecipients,ccRecipients,sentDateTime,receivedDateTime,isDraft,bodyPreview,internetMessageHeaders"

// Client talks to the mail provider's REST API on behalf of connected
// accounts. All calls carry a bearer token from the configured TokenProvider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     credentials.TokenProvider
}

func NewClient(baseURL string, timeout time.Duration, tokens credentials.TokenProvider) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
	}
}

// GetMessage fetches one message belonging to the account
func (c *Client) GetMessage(ctx context.Context, account *models.Account, messageID string) (*Message, error) {
	endpoint := fmt.Sprintf("%s/users/%s/messages/%s?$select=%s",
		c.baseURL, url.PathEscape(account.ProviderUserID), url.PathEscape(messageID), url.QueryEscape(messageSelect))

	var payload messagePayload
	if err := c.do(ctx, account, http.MethodGet, endpoint, nil, &payload); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.ErrMessageNotFound
		}
		return nil, err
	}
	return payload.toMessage(), nil
}

// CreateSubscription registers a push subscription with the provider
func (c *Client) CreateSubscription(ctx context.Context, account *models.Account, req SubscriptionRequest) (*SubscriptionResponse, error) {
	endpoint := c.baseURL + "/subscriptions"

	var sub SubscriptionResponse
	if err := c.do(ctx, account, http.MethodPost, endpoint, req, &sub); err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	return &sub, nil
}

// RenewSubscription extends a subscription's expiry
func (c *Client) RenewSubscription(ctx context.Context, account *models.Account, providerSubID string, expiresAt time.Time) (*SubscriptionResponse, error) {
	endpoint := c.baseURL + "/subscriptions/" + url.PathEscape(providerSubID)
	body := map[string]any{"expirationDateTime": expiresAt.UTC().Format(time.RFC3339)}

	var sub SubscriptionResponse
	if err := c.do(ctx, account, http.MethodPatch, endpoint, body, &sub); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("renewing subscription %s: %w", providerSubID, err)
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription. A missing subscription is not
// an error; deletion is idempotent.
func (c *Client) DeleteSubscription(ctx context.Context, account *models.Account, providerSubID string) error {
	endpoint := c.baseURL + "/subscriptions/" + url.PathEscape(providerSubID)

	err := c.do(ctx, account, http.MethodDelete, endpoint, nil, nil)
	if err != nil && !apperrors.IsNotFound(err) {
		return fmt.Errorf("deleting subscription %s: %w", providerSubID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, account *models.Account, method, endpoint string, body any, out any) error {
	token, err := c.tokens.AccessToken(ctx, account)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperrors.TransientProviderError{Err: fmt.Errorf("%s %s: %w", method, endpoint, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || resp.StatusCode == http.StatusNoContent {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding provider response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return apperrors.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.NewPermanent("provider", fmt.Errorf("provider rejected credentials for account %d: status %d", account.ID, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return &apperrors.TransientProviderError{StatusCode: resp.StatusCode, Err: fmt.Errorf("provider returned %d for %s %s", resp.StatusCode, method, endpoint)}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.NewPermanent("provider", fmt.Errorf("provider returned %d for %s %s: %s", resp.StatusCode, method, endpoint, snippet))
	}
}
