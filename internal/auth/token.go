package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/FranLegon/syncly/internal/api"
	"github.com/FranLegon/syncly/internal/model"
)

// TokenSource wraps an oauth2.TokenSource with automatic refresh
type TokenSource struct {
	config       *oauth2.Config
	refreshToken string

	mu           sync.Mutex
	currentToken *oauth2.Token
}

// NewTokenSource creates a new TokenSource
func NewTokenSource(config *oauth2.Config, refreshToken string) *TokenSource {
	return &TokenSource{
		config:       config,
		refreshToken: refreshToken,
	}
}

// Token returns a valid token, refreshing if necessary
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.currentToken != nil && ts.currentToken.Valid() {
		return ts.currentToken, nil
	}

	token := &oauth2.Token{
		RefreshToken: ts.refreshTokenLocked(),
	}

	newToken, err := ts.config.TokenSource(context.Background(), token).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to refresh token: %v", api.ErrAuthenticationFailed, err)
	}

	ts.currentToken = newToken
	return newToken, nil
}

// refreshTokenLocked returns the newest refresh token; ts.mu must be held.
func (ts *TokenSource) refreshTokenLocked() string {
	if ts.currentToken != nil && ts.currentToken.RefreshToken != "" {
		return ts.currentToken.RefreshToken
	}
	return ts.refreshToken
}

// GetRefreshToken returns the current refresh token. Some providers rotate it
// on refresh; callers persist the returned value.
func (ts *TokenSource) GetRefreshToken() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.refreshTokenLocked()
}

// HTTPClient returns a client that authorizes every request with ts.
func (ts *TokenSource) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, ts)
}

// ForAccount builds the token source of a configured account.
func ForAccount(cfg *model.Config, account model.Account) (*TokenSource, error) {
	oc, err := OAuthConfig(account.Provider, cfg.Credentials(account.Provider))
	if err != nil {
		return nil, err
	}
	return NewTokenSource(oc, account.RefreshToken), nil
}

// ValidateToken checks if a token can be refreshed
func ValidateToken(config *oauth2.Config, refreshToken string) error {
	ts := NewTokenSource(config, refreshToken)
	_, err := ts.Token()
	return err
}
