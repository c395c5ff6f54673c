package tokens

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
)

// Schema creates the table used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS google_tokens (
	account       TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	expires_at    TIMESTAMPTZ,
	scopes        TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps tokens in the google_tokens table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and makes sure the token table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Load(ctx context.Context, account string) (*oauth2.Token, error) {
	var (
		tok       oauth2.Token
		expiresAt *time.Time
		scopes    string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, token_type, expires_at, scopes
		FROM google_tokens
		WHERE account = $1
	`, account).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiresAt, &scopes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if expiresAt != nil {
		tok.Expiry = *expiresAt
	}
	if scopes != "" {
		return tok.WithExtra(map[string]any{"scope": scopes}), nil
	}
	return &tok, nil
}

func (s *PostgresStore) Save(ctx context.Context, account string, token *oauth2.Token) error {
	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		expiresAt = &token.Expiry
	}
	scopes, _ := token.Extra("scope").(string)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO google_tokens (account, access_token, refresh_token, token_type, expires_at, scopes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (account) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN google_tokens.refresh_token ELSE EXCLUDED.refresh_token END,
			token_type    = EXCLUDED.token_type,
			expires_at    = EXCLUDED.expires_at,
			scopes        = CASE WHEN EXCLUDED.scopes = '' THEN google_tokens.scopes ELSE EXCLUDED.scopes END,
			updated_at    = now()
	`, account, token.AccessToken, token.RefreshToken, token.TokenType, expiresAt, strings.TrimSpace(scopes))
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, account string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM google_tokens WHERE account = $1`, account)
	return err
}

func (s *PostgresStore) Accounts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT account FROM google_tokens ORDER BY account`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
