package autoschedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"calmhour/internal/config"
	"calmhour/internal/models"
	"calmhour/internal/planner"

	"github.com/robfig/cron/v3"
)

// SettingsSource lists accounts and their preferences.
type SettingsSource interface {
	Accounts() ([]string, error)
	Get(account string) (config.Settings, error)
}

// Runner keeps every auto-scheduling account topped up with focus blocks.
type Runner struct {
	logger   *slog.Logger
	settings SettingsSource
	resolve  planner.Resolver
	timeout  time.Duration
}

// NewRunner creates a Runner. Each account's run is bounded by timeout (2 minutes when zero).
func NewRunner(logger *slog.Logger, settings SettingsSource, resolve planner.Resolver, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Runner{logger: logger, settings: settings, resolve: resolve, timeout: timeout}
}

// RunOnce tops up every enabled account and returns the number of blocks booked.
// A failing account is logged and skipped.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	accounts, err := r.settings.Accounts()
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	r.logger.Info("Starting auto-schedule cycle.", "accounts", len(accounts))
	total := 0
	for _, account := range accounts {
		st, err := r.settings.Get(account)
		if err != nil {
			r.logger.Error("Failed to load settings", "account", account, "error", err)
			continue
		}
		if !st.AutoScheduleEnabled {
			continue
		}

		actx, cancel := context.WithTimeout(ctx, r.timeout)
		booked, err := r.TopUp(actx, account, st)
		cancel()
		if err != nil {
			r.logger.Error("Auto-schedule failed for account", "account", account, "error", err)
			continue
		}
		total += booked
	}
	r.logger.Info("Auto-schedule cycle finished.", "booked", total)
	return total, nil
}

// TopUp books the difference between st.AutoScheduleCount and the focus blocks already
// upcoming within the account's horizon.
func (r *Runner) TopUp(ctx context.Context, account string, st config.Settings) (int, error) {
	if err := st.Validate(); err != nil {
		return 0, err
	}
	p, err := r.resolve(ctx, account)
	if err != nil {
		return 0, err
	}

	now := p.Now()
	end := now.AddDate(0, 0, st.HorizonDays)
	events, err := p.ListEvents(ctx, now, end)
	if err != nil {
		return 0, err
	}

	have := 0
	for _, ev := range events {
		if ev.IsFocus && ev.EndTime.After(now) {
			have++
		}
	}
	deficit := st.AutoScheduleCount - have
	if deficit <= 0 {
		r.logger.Debug("Focus blocks already booked", "account", account, "have", have, "want", st.AutoScheduleCount)
		return 0, nil
	}

	booking, err := p.FindAndBlock(ctx, planner.BlockRequest{
		Duration:    time.Duration(st.AutoScheduleMinutes) * time.Minute,
		Title:       models.DefaultFocusTitle,
		Count:       deficit,
		HorizonDays: st.HorizonDays,
		SearchFrom:  now,
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("Auto-scheduled focus blocks", "account", account, "booked", booking.Found, "wanted", deficit, "status", booking.Outcome)
	return booking.Found, nil
}

// Start schedules RunOnce on spec (standard five-field cron syntax) and starts the scheduler.
// Overlapping runs are skipped. Stop the returned scheduler to shut down.
func (r *Runner) Start(ctx context.Context, spec string) (*cron.Cron, error) {
	logger := cronLogger{r.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Auto-schedule cycle failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid auto-schedule cron spec %q: %w", spec, err)
	}
	c.Start()
	r.logger.Info("Auto-schedule enabled.", "spec", spec)
	return c, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
