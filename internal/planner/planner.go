package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"calmhour/internal/models"
	"calmhour/internal/schedule"
)

// BusyProvider reports the busy intervals of a calendar.
type BusyProvider interface {
	FreeBusy(ctx context.Context, calendarID string, start, end time.Time) ([]schedule.RawBusy, error)
}

// EventStore persists focus blocks and lists events.
type EventStore interface {
	CreateFocusBlock(ctx context.Context, calendarID string, block *models.FocusBlock) (*models.Event, error)
	UpdateFocusBlock(ctx context.Context, calendarID string, block *models.FocusBlock) (*models.Event, error)
	DeleteFocusBlock(ctx context.Context, calendarID, eventID string) error
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*models.Event, error)
}

// Calendar is a backend that both reports availability and stores events.
type Calendar interface {
	BusyProvider
	EventStore
}

// Resolver builds the Planner for an account.
type Resolver func(ctx context.Context, account string) (*Planner, error)

// Planner orchestrates a search: fetch busy intervals, normalize them, run the finder
// and optionally book the result on the calendar.
type Planner struct {
	logger      *slog.Logger
	calendar    Calendar
	calendarID  string
	policy      schedule.Policy
	horizonDays int
	dryRun      bool
	now         func() time.Time
}

// Option customises a Planner.
type Option func(*Planner)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// WithHorizon sets the default number of days searched.
func WithHorizon(days int) Option {
	return func(p *Planner) { p.horizonDays = days }
}

// WithDryRun logs bookings instead of writing them.
func WithDryRun(dryRun bool) Option {
	return func(p *Planner) { p.dryRun = dryRun }
}

// New creates a Planner for one calendar and working-hours policy.
func New(logger *slog.Logger, cal Calendar, calendarID string, policy schedule.Policy, opts ...Option) *Planner {
	p := &Planner{
		logger:      logger,
		calendar:    cal,
		calendarID:  calendarID,
		policy:      policy,
		horizonDays: schedule.DefaultHorizonDays,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the working-hours policy searches run against.
func (p *Planner) Policy() schedule.Policy { return p.policy }

// Now returns the planner's current time.
func (p *Planner) Now() time.Time { return p.now() }

// FindSlots fetches busy time for [req.Start, horizon end) and runs the finder.
func (p *Planner) FindSlots(ctx context.Context, req schedule.Request) (schedule.Result, error) {
	req = p.withDefaults(req)
	if err := req.Validate(); err != nil {
		return schedule.Result{}, err
	}

	raw, err := p.calendar.FreeBusy(ctx, p.calendarID, req.Start, req.HorizonEnd())
	if err != nil {
		return schedule.Result{}, fmt.Errorf("failed to fetch busy time: %w", err)
	}
	busy := schedule.Normalize(p.logger, raw, p.policy.Location)
	p.logger.Debug("Fetched busy intervals", "calendarID", p.calendarID, "raw", len(raw), "usable", len(busy))

	res, err := schedule.Find(p.policy, busy, req)
	if err != nil {
		return schedule.Result{}, err
	}
	p.logger.Info("Slot search finished", "calendarID", p.calendarID, "found", len(res.Slots), "requested", res.Requested, "outcome", res.Outcome())
	return res, nil
}

// BlockRequest describes focus blocks to book.
type BlockRequest struct {
	Duration time.Duration
	Title    string
	Priority models.Priority
	// StartTime books at an exact instant and skips the finder.
	StartTime time.Time
	// Count is the number of blocks for FindAndBlock.
	Count       int
	HorizonDays int
	// SearchFrom overrides the search start, default now.
	SearchFrom time.Time
}

// Booking is the outcome of a booking call together with the events created.
type Booking struct {
	Outcome   schedule.Outcome `json:"status"`
	Requested int              `json:"requested"`
	Found     int              `json:"found"`
	Events    []*models.Event  `json:"events"`
}

func newBooking(requested int, events []*models.Event) Booking {
	res := schedule.Result{Requested: requested, Slots: make([]schedule.Slot, len(events))}
	for i, ev := range events {
		res.Slots[i] = schedule.Slot{Start: ev.StartTime, End: ev.EndTime}
	}
	if events == nil {
		events = []*models.Event{}
	}
	return Booking{Outcome: res.Outcome(), Requested: requested, Found: len(events), Events: events}
}

// ScheduleFocusBlock books one focus block, at req.StartTime when given or else in the
// earliest free slot. Finding nothing is reported through the Booking outcome.
func (p *Planner) ScheduleFocusBlock(ctx context.Context, req BlockRequest) (Booking, error) {
	if err := schedule.CheckDuration(req.Duration); err != nil {
		return Booking{}, err
	}

	start := req.StartTime
	if start.IsZero() {
		res, err := p.FindSlots(ctx, schedule.Request{
			Duration:    req.Duration,
			Start:       req.SearchFrom,
			HorizonDays: req.HorizonDays,
			MaxSlots:    1,
		})
		if err != nil {
			return Booking{}, err
		}
		if len(res.Slots) == 0 {
			return newBooking(1, nil), nil
		}
		start = res.Slots[0].Start
	}

	ev, err := p.book(ctx, req, start)
	if err != nil {
		return Booking{}, err
	}
	return newBooking(1, []*models.Event{ev}), nil
}

// FindAndBlock books up to req.Count focus blocks on the fixed search grid. A booking
// failure after at least one success ends the run with a partial outcome.
func (p *Planner) FindAndBlock(ctx context.Context, req BlockRequest) (Booking, error) {
	if req.Count == 0 {
		req.Count = 1
	}
	res, err := p.FindSlots(ctx, schedule.Request{
		Duration:    req.Duration,
		Start:       req.SearchFrom,
		HorizonDays: req.HorizonDays,
		MaxSlots:    req.Count,
	})
	if err != nil {
		return Booking{}, err
	}

	var events []*models.Event
	for _, slot := range res.Slots {
		ev, err := p.book(ctx, req, slot.Start)
		if err != nil {
			if len(events) == 0 {
				return Booking{}, err
			}
			p.logger.Error("Failed to book focus block, stopping", "start", slot.Start, "booked", len(events), "error", err)
			break
		}
		events = append(events, ev)
	}
	return newBooking(req.Count, events), nil
}

func (p *Planner) book(ctx context.Context, req BlockRequest, start time.Time) (*models.Event, error) {
	block := &models.FocusBlock{
		Title:     req.Title,
		Priority:  req.Priority,
		StartTime: start.In(p.policy.Location),
		EndTime:   start.Add(req.Duration).In(p.policy.Location),
	}

	if p.dryRun {
		p.logger.Info("[DRY RUN] Would create focus block", "title", block.Summary(), "start", block.StartTime, "end", block.EndTime)
		return &models.Event{
			Title:     block.Summary(),
			StartTime: block.StartTime,
			EndTime:   block.EndTime,
			ColorID:   block.Priority.ColorID(),
			IsFocus:   true,
		}, nil
	}

	ev, err := p.calendar.CreateFocusBlock(ctx, p.calendarID, block)
	if err != nil {
		return nil, fmt.Errorf("failed to create focus block: %w", err)
	}
	return ev, nil
}

// UpdateRequest moves, resizes or renames an existing focus block.
type UpdateRequest struct {
	ID        string
	StartTime time.Time
	Duration  time.Duration
	Title     string
	Priority  models.Priority
}

// UpdateFocusBlock rewrites an existing block. A missing event fails with schedule.ErrEventNotFound.
func (p *Planner) UpdateFocusBlock(ctx context.Context, req UpdateRequest) (*models.Event, error) {
	switch {
	case req.ID == "":
		return nil, fmt.Errorf("%w: event id is required", schedule.ErrInvalidRequest)
	case req.StartTime.IsZero():
		return nil, fmt.Errorf("%w: start time is required", schedule.ErrInvalidRequest)
	}
	if err := schedule.CheckDuration(req.Duration); err != nil {
		return nil, err
	}

	block := &models.FocusBlock{
		ID:        req.ID,
		Title:     req.Title,
		Priority:  req.Priority,
		StartTime: req.StartTime.In(p.policy.Location),
		EndTime:   req.StartTime.Add(req.Duration).In(p.policy.Location),
	}
	ev, err := p.calendar.UpdateFocusBlock(ctx, p.calendarID, block)
	if err != nil {
		return nil, fmt.Errorf("failed to update focus block %s: %w", req.ID, err)
	}
	return ev, nil
}

// DeleteFocusBlock removes a block. Deleting a block that no longer exists succeeds and
// reports alreadyDeleted.
func (p *Planner) DeleteFocusBlock(ctx context.Context, id string) (alreadyDeleted bool, err error) {
	if id == "" {
		return false, fmt.Errorf("%w: event id is required", schedule.ErrInvalidRequest)
	}
	if err := p.calendar.DeleteFocusBlock(ctx, p.calendarID, id); err != nil {
		if errors.Is(err, schedule.ErrEventNotFound) {
			p.logger.Info("Focus block already deleted", "eventID", id)
			return true, nil
		}
		return false, fmt.Errorf("failed to delete focus block %s: %w", id, err)
	}
	return false, nil
}

// ListEvents returns events in [start, end). Zero bounds default to the current week,
// Sunday to Sunday in the policy's timezone.
func (p *Planner) ListEvents(ctx context.Context, start, end time.Time) ([]*models.Event, error) {
	weekStart, weekEnd := WeekRange(p.now(), p.policy.Location)
	if start.IsZero() {
		start = weekStart
	}
	if end.IsZero() {
		end = weekEnd
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end %s is not after start %s", schedule.ErrInvalidRequest, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	events, err := p.calendar.ListEvents(ctx, p.calendarID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// WeekRange returns the Sunday midnight starting the week containing t, and the following Sunday.
func WeekRange(t time.Time, loc *time.Location) (time.Time, time.Time) {
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day()-int(lt.Weekday()), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 7)
}

func (p *Planner) withDefaults(req schedule.Request) schedule.Request {
	if req.HorizonDays == 0 {
		req.HorizonDays = p.horizonDays
	}
	return req.WithDefaults(p.now())
}
