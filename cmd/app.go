package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"calmhour/internal/config"
	"calmhour/internal/google"
	"calmhour/internal/icloud"
	"calmhour/internal/idempotency"
	"calmhour/internal/planner"
	"calmhour/internal/tokens"

	"github.com/redis/go-redis/v9"
)

// app holds the long-lived dependencies shared by every command.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	settings *config.SettingsStore
	tokens   tokens.Store
	connect  *google.Connector
	dryRun   bool

	// discoverCalDAV is replaced in tests.
	discoverCalDAV func(ctx context.Context) (*icloud.CalDAVClient, error)
	caldavMu       sync.Mutex
	caldav         *icloud.CalDAVClient

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		settings: config.NewSettingsStore(cfg.SettingsFile, config.DefaultSettings(cfg.Timezone)),
	}
	a.discoverCalDAV = a.newCalDAVClient

	if cfg.DatabaseURL != "" {
		pg, err := tokens.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open token database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		a.tokens = pg
		logger.Info("Using Postgres token store.")
	} else {
		a.tokens = tokens.NewFileStore(cfg.TokenDir)
		logger.Debug("Using file token store.", "dir", cfg.TokenDir)
	}

	if cfg.Backend == config.BackendGoogle {
		oauthCfg, err := google.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to get google oauth config: %w", err)
		}
		a.connect = google.NewConnector(logger, oauthCfg, a.tokens)
	}
	return a, nil
}

// Close releases database connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// resolve builds the planner for account from its stored settings.
func (a *app) resolve(ctx context.Context, account string) (*planner.Planner, error) {
	st, err := a.settings.Get(account)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for %s: %w", account, err)
	}
	policy, err := st.Policy()
	if err != nil {
		return nil, err
	}

	var cal planner.Calendar
	switch a.cfg.Backend {
	case config.BackendCalDAV:
		client, err := a.caldavClient(ctx, policy.Location)
		if err != nil {
			return nil, err
		}
		cal = client
	default:
		client, err := google.NewClient(ctx, a.logger, a.connect.TokenSource(ctx, account))
		if err != nil {
			return nil, err
		}
		cal = client
	}

	return planner.New(a.logger.With("account", account), cal, a.cfg.CalendarID, policy,
		planner.WithHorizon(st.HorizonDays),
		planner.WithDryRun(a.dryRun),
	), nil
}

// caldavDiscoveryTimeout bounds calendar discovery, which runs detached from the caller.
const caldavDiscoveryTimeout = 30 * time.Second

// caldavClient returns the process-wide CalDAV client bound to loc; the CalDAV backend serves
// one account. Only a successful discovery is cached, so a failed one is retried on the next call.
func (a *app) caldavClient(ctx context.Context, loc *time.Location) (*icloud.CalDAVClient, error) {
	a.caldavMu.Lock()
	defer a.caldavMu.Unlock()

	if a.caldav == nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), caldavDiscoveryTimeout)
		defer cancel()
		client, err := a.discoverCalDAV(dctx)
		if err != nil {
			return nil, err
		}
		a.caldav = client
	}
	return a.caldav.WithLocation(loc), nil
}

// newCalDAVClient discovers the configured calendar. The location is rebound per account.
func (a *app) newCalDAVClient(ctx context.Context) (*icloud.CalDAVClient, error) {
	return icloud.NewClient(ctx, a.logger, a.cfg.CalDAVEndpoint,
		a.cfg.CalDAVUsername, a.cfg.CalDAVPassword, a.cfg.CalDAVCalendarName, time.UTC)
}

// idempotencyStore uses Redis when REDIS_URL is set and process memory otherwise.
func (a *app) idempotencyStore(ctx context.Context) (idempotency.Store, error) {
	if a.cfg.RedisURL == "" {
		return idempotency.NewMemoryStore(idempotency.DefaultTTL), nil
	}
	rdb, err := idempotency.OpenRedis(ctx, a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { closeRedis(a.logger, rdb) })
	a.logger.Info("Idempotency keys stored in Redis.")
	return idempotency.NewRedisStore(rdb, idempotency.DefaultTTL, "calmhour:idem"), nil
}

func closeRedis(logger *slog.Logger, rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		logger.Error("Failed to close redis client", "error", err)
	}
}
