package google

import (
	"context"
	"fmt"
	"log/slog"

	"calmhour/internal/schedule"
	"calmhour/internal/tokens"

	"golang.org/x/oauth2"
)

// Connector links and unlinks Google accounts: consent URL, code exchange, token removal.
type Connector struct {
	logger *slog.Logger
	config *oauth2.Config
	store  tokens.Store
}

// NewConnector creates a Connector that saves tokens into store.
func NewConnector(logger *slog.Logger, config *oauth2.Config, store tokens.Store) *Connector {
	return &Connector{logger: logger, config: config, store: store}
}

// AuthURL returns the consent URL for account. The account name is carried as the OAuth state.
func (c *Connector) AuthURL(account string) string {
	return AuthCodeURL(c.config, account)
}

// Exchange trades an authorization code for a token and stores it under account.
func (c *Connector) Exchange(ctx context.Context, account, code string) error {
	if code == "" {
		return fmt.Errorf("%w: authorization code is required", schedule.ErrInvalidRequest)
	}
	tok, err := TokenFromWeb(ctx, c.config, code)
	if err != nil {
		return fmt.Errorf("%w: unable to retrieve token from web: %w", schedule.ErrInvalidRequest, err)
	}
	if tok.RefreshToken == "" {
		c.logger.Warn("Google did not return a refresh token; the connection will expire with the access token", "account", account)
	}
	if err := c.store.Save(ctx, account, tok); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	c.logger.Info("Connected Google account", "account", account)
	return nil
}

// Disconnect forgets the account's token.
func (c *Connector) Disconnect(ctx context.Context, account string) error {
	if err := c.store.Delete(ctx, account); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	c.logger.Info("Disconnected Google account", "account", account)
	return nil
}

// TokenSource returns a refreshing token source for account.
func (c *Connector) TokenSource(ctx context.Context, account string) oauth2.TokenSource {
	return tokens.NewSource(ctx, c.logger, c.config, c.store, account)
}
