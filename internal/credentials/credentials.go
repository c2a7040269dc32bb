package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/replywatch/replywatch-backend/internal/models"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// TokenProvider exchanges an account's stored credentials for a short-lived
// access token usable against the mail provider API.
type TokenProvider interface {
	AccessToken(ctx context.Context, account *models.Account) (string, error)
}

// expirySkew is how long before the real expiry a cached token is discarded
const expirySkew = 2 * time.Minute

type cachedToken struct {
	value     string
	expiresAt time.Time
}

func (t cachedToken) valid(now time.Time) bool {
	return t.value != "" && now.Before(t.expiresAt.Add(-expirySkew))
}

// accountEntry serializes refreshes for one account. Concurrent callers for
// the same account wait on the entry lock and find the fresh token; callers
// for other accounts are unaffected.
type accountEntry struct {
	mu    sync.Mutex
	token cachedToken
}

// OAuthTokenProvider redeems refresh tokens against an OAuth token endpoint
// and caches the resulting access tokens per account.
type OAuthTokenProvider struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu       sync.Mutex
	accounts map[uint]*accountEntry

	now func() time.Time
}

func NewOAuthTokenProvider(tokenURL, clientID, clientSecret string, timeout time.Duration) *OAuthTokenProvider {
	return &OAuthTokenProvider{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
		accounts:     make(map[uint]*accountEntry),
		now:          time.Now,
	}
}

func (p *OAuthTokenProvider) entry(accountID uint) *accountEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.accounts[accountID]
	if !ok {
		e = &accountEntry{}
		p.accounts[accountID] = e
	}
	return e
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// AccessToken returns a cached token for the account or refreshes one.
// Refresh failures with invalid_grant mark the result permanent so callers
// can flag the account for re-authentication instead of retrying.
func (p *OAuthTokenProvider) AccessToken(ctx context.Context, account *models.Account) (string, error) {
	if account.RefreshToken == "" {
		return "", apperrors.NewPermanent("credentials", fmt.Errorf("account %d has no refresh token", account.ID))
	}

	e := p.entry(account.ID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token.valid(p.now()) {
		return e.token.value, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {account.RefreshToken},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &apperrors.TransientProviderError{Err: fmt.Errorf("token endpoint: %w", err)}
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &apperrors.TransientProviderError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding token response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK && body.AccessToken != "":
		expiry := p.now().Add(time.Duration(body.ExpiresIn) * time.Second)
		e.token = cachedToken{value: body.AccessToken, expiresAt: expiry}
		return body.AccessToken, nil
	case body.Error == "invalid_grant":
		return "", apperrors.NewPermanent("credentials", fmt.Errorf("refresh token rejected for account %d: %s", account.ID, body.ErrorDesc))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", &apperrors.TransientProviderError{StatusCode: resp.StatusCode, Err: fmt.Errorf("token endpoint returned %d", resp.StatusCode)}
	default:
		return "", apperrors.NewPermanent("credentials", fmt.Errorf("token endpoint returned %d (%s)", resp.StatusCode, body.Error))
	}
}

// Invalidate drops any cached token for the account, forcing a refresh on
// the next call.
func (p *OAuthTokenProvider) Invalidate(accountID uint) {
	e := p.entry(accountID)
	e.mu.Lock()
	e.token = cachedToken{}
	e.mu.Unlock()
}

// StaticTokenProvider returns a fixed token. Used in tests and for local
// development against a stub provider.
type StaticTokenProvider struct {
	Token string
}

func (p StaticTokenProvider) AccessToken(_ context.Context, _ *models.Account) (string, error) {
	return p.Token, nil
}
