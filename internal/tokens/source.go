package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"calmhour/internal/schedule"

	"golang.org/x/oauth2"
)

// ExpiryBuffer is how close to expiry a token is refreshed ahead of use.
const ExpiryBuffer = 5 * time.Minute

// Source is an oauth2.TokenSource backed by a Store. It refreshes tokens that expire within
// ExpiryBuffer and saves the result. When a refresh fails the stored token is deleted and
// Token returns an error wrapping schedule.ErrAuthExpired.
type Source struct {
	ctx     context.Context
	logger  *slog.Logger
	config  *oauth2.Config
	store   Store
	account string
	now     func() time.Time

	mu  sync.Mutex
	tok *oauth2.Token
}

// NewSource creates a Source for account. ctx is used for refresh requests and store access.
func NewSource(ctx context.Context, logger *slog.Logger, config *oauth2.Config, store Store, account string) *Source {
	return &Source{
		ctx:     ctx,
		logger:  logger,
		config:  config,
		store:   store,
		account: account,
		now:     time.Now,
	}
}

// Token returns a valid access token, refreshing it when needed.
func (s *Source) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok == nil {
		tok, err := s.store.Load(s.ctx, s.account)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: account %s is not connected", schedule.ErrAuthExpired, s.account)
			}
			return nil, fmt.Errorf("failed to load token for account %s: %w", s.account, err)
		}
		s.tok = tok
	}

	if s.fresh(s.tok) {
		return s.tok, nil
	}
	return s.refresh()
}

func (s *Source) fresh(tok *oauth2.Token) bool {
	if tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return tok.Expiry.After(s.now().Add(ExpiryBuffer))
}

func (s *Source) refresh() (*oauth2.Token, error) {
	old := s.tok
	if old.RefreshToken == "" {
		s.revoke()
		return nil, fmt.Errorf("%w: account %s has no refresh token", schedule.ErrAuthExpired, s.account)
	}

	s.logger.Info("Refreshing access token", "account", s.account, "expiry", old.Expiry)
	tok, err := s.config.TokenSource(s.ctx, &oauth2.Token{RefreshToken: old.RefreshToken}).Token()
	if err != nil {
		s.logger.Error("Failed to refresh token", "account", s.account, "error", err)
		s.revoke()
		return nil, fmt.Errorf("%w: refresh for account %s failed: %w", schedule.ErrAuthExpired, s.account, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = old.RefreshToken
	}

	if err := s.store.Save(s.ctx, s.account, tok); err != nil {
		// The refreshed token is still usable for this process.
		s.logger.Error("Failed to save refreshed token", "account", s.account, "error", err)
	}
	s.tok = tok
	return tok, nil
}

func (s *Source) revoke() {
	s.tok = nil
	if err := s.store.Delete(s.ctx, s.account); err != nil {
		s.logger.Error("Failed to delete stale token", "account", s.account, "error", err)
	}
}
