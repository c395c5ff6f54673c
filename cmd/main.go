package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"calmhour/internal/api"
	"calmhour/internal/autoschedule"
	"calmhour/internal/config"
	"calmhour/internal/models"
	"calmhour/internal/planner"
	"calmhour/internal/schedule"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calmhour",
		Usage: "Find free time in your calendar and book focus blocks into it.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Value: "info", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "backend", EnvVars: []string{"CALMHOUR_BACKEND"}, Usage: "calendar backend: google or caldav"},
		},
		Commands: []*cli.Command{
			authCommand(),
			serveCommand(),
			findCommand(),
			bookCommand(),
			blockCommand(),
			updateCommand(),
			deleteCommand(),
			eventsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

var accountFlag = &cli.StringFlag{Name: "account", Aliases: []string{"a"}, Value: "default", Usage: "account name the token and settings are stored under"}

func loadConfig(c *cli.Context) config.Config {
	cfg := config.FromEnv()
	if c.IsSet("backend") {
		cfg.Backend = strings.ToLower(c.String("backend"))
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	return cfg
}

// withApp builds the shared dependencies, runs fn and releases them.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app) error) error {
	cfg := loadConfig(c)
	logger := setupLogger(cfg.LogLevel)
	a, err := newApp(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if c.Bool("dry-run") {
		logger.Info("Performing a dry run. No changes will be made.")
		a.dryRun = true
	}
	return fn(c.Context, a)
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "account name; prompted for when omitted"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				if a.connect == nil {
					return fmt.Errorf("the %s backend does not use OAuth", a.cfg.Backend)
				}
				a.logger.Info("Starting Google authentication flow.")
				reader := bufio.NewReader(os.Stdin)

				account := c.String("account")
				if account == "" {
					fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
					account, _ = reader.ReadString('\n')
					account = strings.TrimSpace(account)
				}

				fmt.Printf("Go to the following link in your browser then type the "+
					"authorization code: \n%v\n", a.connect.AuthURL(account))
				fmt.Print("Enter Authorization Code: ")
				authCode, _ := reader.ReadString('\n')

				if err := a.connect.Exchange(ctx, account, strings.TrimSpace(authCode)); err != nil {
					return err
				}
				a.logger.Info("Successfully authenticated and saved token.", "account", account)
				return nil
			})
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the auto-schedule job.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "address to listen on (overrides LISTEN_ADDR)"},
			&cli.BoolFlag{Name: "no-cron", Usage: "disable the auto-schedule job"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			c.Context = ctx

			return withApp(c, func(ctx context.Context, a *app) error {
				idem, err := a.idempotencyStore(ctx)
				if err != nil {
					return err
				}

				if !c.Bool("no-cron") {
					runner := autoschedule.NewRunner(a.logger, a.settings, a.resolve, 0)
					cr, err := runner.Start(ctx, a.cfg.AutoScheduleCron)
					if err != nil {
						return err
					}
					defer func() { <-cr.Stop().Done() }()
				}

				var connector api.Connector
				if a.connect != nil {
					connector = a.connect
				}
				addr := a.cfg.Listen
				if c.IsSet("listen") {
					addr = c.String("listen")
				}
				return api.NewServer(a.logger, a.resolve, a.settings, connector, idem).Run(ctx, addr)
			})
		},
	}
}

func findCommand() *cli.Command {
	return &cli.Command{
		Name:  "find",
		Usage: "Print free slots within working hours.",
		Flags: []cli.Flag{
			accountFlag,
			&cli.IntFlag{Name: "duration", Aliases: []string{"d"}, Value: 60, Usage: "slot length in minutes"},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1, Usage: "number of slots; above 1 uses the hourly grid"},
			&cli.IntFlag{Name: "days", Usage: "search horizon in days (default from settings)"},
			&cli.TimestampFlag{Name: "start", Layout: time.RFC3339, Usage: "search from this instant instead of now"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				p, err := a.resolve(ctx, c.String("account"))
				if err != nil {
					return err
				}
				duration, err := schedule.Minutes(c.Int("duration"))
				if err != nil {
					return err
				}
				req := schedule.Request{
					Duration:    duration,
					HorizonDays: c.Int("days"),
					MaxSlots:    c.Int("count"),
				}
				if ts := c.Timestamp("start"); ts != nil {
					req.Start = *ts
				}
				res, err := p.FindSlots(ctx, req)
				if err != nil {
					return err
				}
				if len(res.Slots) == 0 {
					fmt.Println("No free slot found.")
					return nil
				}
				loc := p.Policy().Location
				for _, s := range res.Slots {
					fmt.Printf("%s - %s\n", s.Start.In(loc).Format("Mon Jan 2 15:04"), s.End.In(loc).Format("15:04 MST"))
				}
				if res.Outcome() == schedule.OutcomePartial {
					fmt.Printf("Only %d of %d requested slots are free.\n", len(res.Slots), res.Requested)
				}
				return nil
			})
		},
	}
}

func blockFlags(extra ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{
		accountFlag,
		&cli.IntFlag{Name: "duration", Aliases: []string{"d"}, Value: 60, Usage: "block length in minutes"},
		&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "session name (default \"Focus Time\")"},
		&cli.StringFlag{Name: "priority", Aliases: []string{"p"}, Usage: "high, medium or low"},
		&cli.IntFlag{Name: "days", Usage: "search horizon in days (default from settings)"},
		&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be booked without making changes."},
	}, extra...)
}

func blockRequest(c *cli.Context) (planner.BlockRequest, error) {
	priority, ok := models.ParsePriority(c.String("priority"))
	if !ok {
		return planner.BlockRequest{}, fmt.Errorf("%w: unknown priority %q", schedule.ErrInvalidRequest, c.String("priority"))
	}
	duration, err := schedule.Minutes(c.Int("duration"))
	if err != nil {
		return planner.BlockRequest{}, err
	}
	return planner.BlockRequest{
		Duration:    duration,
		Title:       c.String("title"),
		Priority:    priority,
		HorizonDays: c.Int("days"),
	}, nil
}

func bookCommand() *cli.Command {
	return &cli.Command{
		Name:  "book",
		Usage: "Book one focus block in the earliest free slot, or at --at.",
		Flags: blockFlags(
			&cli.TimestampFlag{Name: "at", Layout: time.RFC3339, Usage: "book at this exact start time"},
		),
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				req, err := blockRequest(c)
				if err != nil {
					return err
				}
				if ts := c.Timestamp("at"); ts != nil {
					req.StartTime = *ts
				}
				p, err := a.resolve(ctx, c.String("account"))
				if err != nil {
					return err
				}
				b, err := p.ScheduleFocusBlock(ctx, req)
				if err != nil {
					return err
				}
				printBooking(p, b)
				return nil
			})
		},
	}
}

func blockCommand() *cli.Command {
	return &cli.Command{
		Name:  "block",
		Usage: "Book several focus blocks on the hourly grid.",
		Flags: blockFlags(
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 3, Usage: "number of blocks"},
		),
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				req, err := blockRequest(c)
				if err != nil {
					return err
				}
				req.Count = c.Int("count")
				p, err := a.resolve(ctx, c.String("account"))
				if err != nil {
					return err
				}
				b, err := p.FindAndBlock(ctx, req)
				if err != nil {
					return err
				}
				printBooking(p, b)
				return nil
			})
		},
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Move, resize or rename a focus block.",
		Flags: []cli.Flag{
			accountFlag,
			&cli.StringFlag{Name: "id", Required: true, Usage: "event id"},
			&cli.TimestampFlag{Name: "at", Layout: time.RFC3339, Required: true, Usage: "new start time"},
			&cli.IntFlag{Name: "duration", Aliases: []string{"d"}, Value: 60, Usage: "block length in minutes"},
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "session name"},
			&cli.StringFlag{Name: "priority", Aliases: []string{"p"}, Usage: "high, medium or low"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				priority, _ := models.ParsePriority(c.String("priority"))
				duration, err := schedule.Minutes(c.Int("duration"))
				if err != nil {
					return err
				}
				p, err := a.resolve(ctx, c.String("account"))
				if err != nil {
					return err
				}
				ev, err := p.UpdateFocusBlock(ctx, planner.UpdateRequest{
					ID:        c.String("id"),
					StartTime: *c.Timestamp("at"),
					Duration:  duration,
					Title:     c.String("title"),
					Priority:  priority,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Updated %s: %s %s\n", ev.ID, ev.Title, ev.StartTime.In(p.Policy().Location).Format("Mon Jan 2 15:04"))
				return nil
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete a focus block.",
		Flags: []cli.Flag{
			accountFlag,
			&cli.StringFlag{Name: "id", Required: true, Usage: "event id"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				p, err := a.resolve(ctx, c.String("account"))
				if err != nil {
					return err
				}
				already, err := p.DeleteFocusBlock(ctx, c.String("id"))
				if err != nil {
					return err
				}
				if already {
					fmt.Println("Event was already deleted.")
				} else {
					fmt.Println("Deleted.")
				}
				return nil
			})
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List calendar events, this week by default.",
		Flags: []cli.Flag{
			accountFlag,
			&cli.TimestampFlag{Name: "from", Layout: time.DateOnly, Usage: "first day (YYYY-MM-DD)"},
			&cli.TimestampFlag{Name: "to", Layout: time.DateOnly, Usage: "last day, inclusive (YYYY-MM-DD)"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				p, err := a.resolve(ctx, c.String("account"))
				if err != nil {
					return err
				}
				loc := p.Policy().Location
				var start, end time.Time
				if ts := c.Timestamp("from"); ts != nil {
					start = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc)
				}
				if ts := c.Timestamp("to"); ts != nil {
					end = time.Date(ts.Year(), ts.Month(), ts.Day()+1, 0, 0, 0, 0, loc)
				}
				events, err := p.ListEvents(ctx, start, end)
				if err != nil {
					return err
				}
				for _, ev := range events {
					marker := " "
					if ev.IsFocus {
						marker = "*"
					}
					when := ev.StartTime.In(loc).Format("Mon Jan 2 15:04")
					if ev.AllDay {
						when = ev.StartTime.Format("Mon Jan 2") + " (all day)"
					}
					fmt.Printf("%s %s  %s\n", marker, when, ev.Title)
				}
				return nil
			})
		},
	}
}

func printBooking(p *planner.Planner, b planner.Booking) {
	switch b.Outcome {
	case schedule.OutcomeNoSlotFound:
		fmt.Println("No free slot found.")
		return
	case schedule.OutcomePartial:
		fmt.Printf("Booked %d of %d requested focus blocks.\n", b.Found, b.Requested)
	}
	loc := p.Policy().Location
	for _, ev := range b.Events {
		fmt.Printf("%s  %s - %s  %s\n", ev.ID, ev.StartTime.In(loc).Format("Mon Jan 2 15:04"), ev.EndTime.In(loc).Format("15:04"), ev.Title)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

