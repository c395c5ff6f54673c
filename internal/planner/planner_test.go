package planner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"calmhour/internal/models"
	"calmhour/internal/schedule"
)

type fakeCalendar struct {
	busy       []schedule.RawBusy
	busyErr    error
	createErrs map[int]error
	updateErr  error
	deleteErr  error
	events     []*models.Event

	fetchStart, fetchEnd time.Time
	created              []*models.FocusBlock
	updated              []*models.FocusBlock
	deleted              []string
}

func (f *fakeCalendar) FreeBusy(_ context.Context, _ string, start, end time.Time) ([]schedule.RawBusy, error) {
	f.fetchStart, f.fetchEnd = start, end
	return f.busy, f.busyErr
}

func (f *fakeCalendar) CreateFocusBlock(_ context.Context, _ string, block *models.FocusBlock) (*models.Event, error) {
	if err := f.createErrs[len(f.created)]; err != nil {
		return nil, err
	}
	f.created = append(f.created, block)
	return &models.Event{
		ID:        fmt.Sprintf("ev-%d", len(f.created)),
		Title:     block.Summary(),
		StartTime: block.StartTime,
		EndTime:   block.EndTime,
		ColorID:   block.Priority.ColorID(),
		IsFocus:   true,
	}, nil
}

func (f *fakeCalendar) UpdateFocusBlock(_ context.Context, _ string, block *models.FocusBlock) (*models.Event, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updated = append(f.updated, block)
	return &models.Event{ID: block.ID, Title: block.Summary(), StartTime: block.StartTime, EndTime: block.EndTime, IsFocus: true}, nil
}

func (f *fakeCalendar) DeleteFocusBlock(_ context.Context, _ string, eventID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeCalendar) ListEvents(_ context.Context, _ string, start, end time.Time) ([]*models.Event, error) {
	f.fetchStart, f.fetchEnd = start, end
	return f.events, nil
}

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

// 2026-03-02 is a Monday.
func at(loc *time.Location, day, hour, min int) time.Time {
	return time.Date(2026, time.March, day, hour, min, 0, 0, loc)
}

func newPlanner(t *testing.T, cal *fakeCalendar, now time.Time, opts ...Option) *Planner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(logger, cal, "primary", schedule.DefaultPolicy(now.Location()), opts...)
}

func TestFindSlots_FetchesHorizonAndSkipsBusy(t *testing.T) {
	loc := newYork(t)
	cal := &fakeCalendar{busy: []schedule.RawBusy{
		{Start: at(loc, 2, 9, 0).Format(time.RFC3339), End: at(loc, 2, 10, 30).Format(time.RFC3339)},
		{Start: "garbage", End: "also garbage"},
	}}
	now := at(loc, 2, 8, 0)
	p := newPlanner(t, cal, now)

	res, err := p.FindSlots(context.Background(), schedule.Request{Duration: time.Hour})
	if err != nil {
		t.Fatalf("FindSlots failed: %v", err)
	}
	if !cal.fetchStart.Equal(now) || !cal.fetchEnd.Equal(now.Add(7*24*time.Hour)) {
		t.Fatalf("unexpected fetch range %s - %s", cal.fetchStart, cal.fetchEnd)
	}
	if len(res.Slots) != 1 || !res.Slots[0].Start.Equal(at(loc, 2, 10, 30)) {
		t.Fatalf("expected slot at 10:30, got %+v", res.Slots)
	}
	if res.Outcome() != schedule.OutcomeFound {
		t.Fatalf("expected scheduled outcome, got %s", res.Outcome())
	}
}

func TestFindSlots_UpstreamErrorPropagates(t *testing.T) {
	loc := newYork(t)
	cal := &fakeCalendar{busyErr: fmt.Errorf("%w: freebusy: 503", schedule.ErrUpstreamUnavailable)}
	p := newPlanner(t, cal, at(loc, 2, 8, 0))

	_, err := p.FindSlots(context.Background(), schedule.Request{Duration: time.Hour})
	if !errors.Is(err, schedule.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestFindSlots_InvalidRequestSkipsFetch(t *testing.T) {
	loc := newYork(t)
	cal := &fakeCalendar{}
	p := newPlanner(t, cal, at(loc, 2, 8, 0))

	_, err := p.FindSlots(context.Background(), schedule.Request{Duration: 0})
	if !errors.Is(err, schedule.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if !cal.fetchStart.IsZero() {
		t.Fatal("calendar should not be queried for an invalid request")
	}
}

func TestScheduleFocusBlock_BooksEarliestSlot(t *testing.T) {
	loc := newYork(t)
	cal := &fakeCalendar{busy: []schedule.RawBusy{
		{Start: at(loc, 2, 9, 0).Format(time.RFC3339), End: at(loc, 2, 11, 0).Format(time.RFC3339)},
	}}
	p := newPlanner(t, cal, at(loc, 2, 8, 0))

	b, err := p.ScheduleFocusBlock(context.Background(), BlockRequest{Duration: 90 * time.Minute, Priority: models.PriorityHigh})
	if err != nil {
		t.Fatalf("ScheduleFocusBlock failed: %v", err)
	}
	if b.Outcome != schedule.OutcomeFound || b.Found != 1 {
		t.Fatalf("unexpected booking %+v", b)
	}
	if len(cal.created) != 1 {
		t.Fatalf("expected one created block, got %d", len(cal.created))
	}
	got := cal.created[0]
	if !got.StartTime.Equal(at(loc, 2, 11, 0)) || got.Duration() != 90*time.Minute {
		t.Fatalf("unexpected block %s - %s", got.StartTime, got.EndTime)
	}
	if got.Summary() != models.DefaultFocusTitle || got.Priority != models.PriorityHigh {
		t.Fatalf("unexpected block metadata %+v", got)
	}
}

func TestScheduleFocusBlock_ExplicitStartSkipsFinder(t *testing.T) {
	loc := newYork(t)
	cal := &fakeCalendar{}
	p := newPlanner(t, cal, at(loc, 2, 8, 0))

	// Saturday evening is outside working hours but an explicit time is honoured.
	start := at(loc, 7, 20, 0)
	b, err := p.ScheduleFocusBlock(context.Background(), BlockRequest{Duration: time.Hour, StartTime: start, Title: "Deep work"})
	if err != nil {
		t.Fatalf("ScheduleFocusBlock failed: %v", err)
	}
	if !cal.fetchStart.IsZero() {
		t.Fatal("free/busy should not be fetched for an explicit start")
	}
	if b.Found != 1 || !cal.created[0].StartTime.Equal(start) || cal.created[0].Title != "Deep work" {
		t.Fatalf("unexpected booking %+v", cal.created)
	}
}

func TestScheduleFocusBlock_NoSlotFound(t *testing.T) {
	loc := newYork(t)
	cal := &fakeCalendar{}
	p := newPlanner(t, cal, at(loc, 2, 8, 0))

	b, err := p.ScheduleFocusBlock(context.Background(), BlockRequest{Duration: 9 * time.Hour})
	if err != nil {
		t.Fatalf("no slot is not an error, got %v", err)
	}
	if b.Outcome != schedule.OutcomeNoSlotFound || b.Found != 0 || len(b.Events) != 0 {
		t.Fatalf("unexpected booking %+v", b)
	}
	if len(cal.created) != 0 {
		t.Fatal("nothing should be created")
	}
}

func TestScheduleFocusBlock_DryRun(t *testing.T) {
	loc := newYork(t)
	cal := &fakeCalendar{}
	p := newPlanner(t, cal, at(loc, 2, 8, 0), WithDryRun(true))

	b, err := p.ScheduleFocusBlock(context.Background(), BlockRequest{Duration: time.Hour})
	if err != nil {
		t.Fatalf("ScheduleFocusBlock failed: %v", err)
	}
	if len(cal.created) != 0 {
		t.Fatal("dry run must not write to the calendar")
	}
	if b.Found != 1 || !b.Events[0].StartTime.Equal(at(loc, 2, 9, 0)) {
		t.Fatalf("unexpected dry-run booking %+v", b)
	}
}

func TestFindAndBlock_Partial(t *testing.T) {
	loc := newYork(t)
	// Only Monday is free; everything else in the horizon is busy.
	cal := &fakeCalendar{busy: []schedule.RawBusy{
		{Start: at(loc, 3, 0, 0).Format(time.RFC3339), End: at(loc, 10, 0, 0).Format(time.RFC3339)},
		{Start: at(loc, 2, 9, 0).Format(time.RFC3339), End: at(loc, 2, 15, 0).Format(time.RFC3339)},
	}}
	p := newPlanner(t, cal, at(loc, 2, 8, 0))

	b, err := p.FindAndBlock(context.Background(), BlockRequest{Duration: time.Hour, Count: 5})
	if err != nil {
		t.Fatalf("FindAndBlock failed: %v", err)
	}
	if b.Outcome != schedule.OutcomePartial || b.Found != 2 || b.Requested != 5 {
		t.Fatalf("unexpected booking %+v", b)
	}
	if !cal.created[0].StartTime.Equal(at(loc, 2, 15, 0)) || !cal.created[1].StartTime.Equal(at(loc, 2, 16, 0)) {
		t.Fatalf("unexpected slots %s, %s", cal.created[0].StartTime, cal.created[1].StartTime)
	}
}

func TestFindAndBlock_StopsOnCreateFailure(t *testing.T) {
	loc := newYork(t)
	upstream := fmt.Errorf("%w: insert: 503", schedule.ErrUpstreamUnavailable)

	cal := &fakeCalendar{createErrs: map[int]error{1: upstream}}
	p := newPlanner(t, cal, at(loc, 2, 8, 0))
	b, err := p.FindAndBlock(context.Background(), BlockRequest{Duration: time.Hour, Count: 3})
	if err != nil {
		t.Fatalf("expected partial booking, got %v", err)
	}
	if b.Found != 1 || b.Outcome != schedule.OutcomePartial {
		t.Fatalf("unexpected booking %+v", b)
	}

	cal = &fakeCalendar{createErrs: map[int]error{0: upstream}}
	p = newPlanner(t, cal, at(loc, 2, 8, 0))
	if _, err := p.FindAndBlock(context.Background(), BlockRequest{Duration: time.Hour, Count: 3}); !errors.Is(err, schedule.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestUpdateFocusBlock(t *testing.T) {
	loc := newYork(t)
	cal := &fakeCalendar{}
	p := newPlanner(t, cal, at(loc, 2, 8, 0))

	ev, err := p.UpdateFocusBlock(context.Background(), UpdateRequest{ID: "ev-1", StartTime: at(loc, 3, 14, 0), Duration: 30 * time.Minute})
	if err != nil {
		t.Fatalf("UpdateFocusBlock failed: %v", err)
	}
	if ev.ID != "ev-1" || !cal.updated[0].EndTime.Equal(at(loc, 3, 14, 30)) {
		t.Fatalf("unexpected update %+v", cal.updated[0])
	}

	cal.updateErr = fmt.Errorf("%w: patch event", schedule.ErrEventNotFound)
	if _, err := p.UpdateFocusBlock(context.Background(), UpdateRequest{ID: "gone", StartTime: at(loc, 3, 14, 0), Duration: time.Hour}); !errors.Is(err, schedule.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
	if _, err := p.UpdateFocusBlock(context.Background(), UpdateRequest{ID: "ev-1", Duration: time.Hour}); !errors.Is(err, schedule.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without start, got %v", err)
	}
}

func TestDeleteFocusBlock(t *testing.T) {
	loc := newYork(t)
	cal := &fakeCalendar{}
	p := newPlanner(t, cal, at(loc, 2, 8, 0))

	already, err := p.DeleteFocusBlock(context.Background(), "ev-1")
	if err != nil || already {
		t.Fatalf("expected plain delete, got already=%v err=%v", already, err)
	}

	cal.deleteErr = fmt.Errorf("%w: delete event", schedule.ErrEventNotFound)
	already, err = p.DeleteFocusBlock(context.Background(), "ev-1")
	if err != nil || !already {
		t.Fatalf("missing event should count as deleted, got already=%v err=%v", already, err)
	}

	cal.deleteErr = fmt.Errorf("%w: token revoked", schedule.ErrAuthExpired)
	if _, err := p.DeleteFocusBlock(context.Background(), "ev-1"); !errors.Is(err, schedule.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestListEvents_DefaultsToCurrentWeek(t *testing.T) {
	loc := newYork(t)
	cal := &fakeCalendar{}
	// Wednesday 2026-03-04.
	p := newPlanner(t, cal, at(loc, 4, 13, 0))

	if _, err := p.ListEvents(context.Background(), time.Time{}, time.Time{}); err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if !cal.fetchStart.Equal(at(loc, 1, 0, 0)) || !cal.fetchEnd.Equal(at(loc, 8, 0, 0)) {
		t.Fatalf("expected Sunday-to-Sunday range, got %s - %s", cal.fetchStart, cal.fetchEnd)
	}

	if _, err := p.ListEvents(context.Background(), at(loc, 5, 0, 0), at(loc, 4, 0, 0)); !errors.Is(err, schedule.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for inverted range, got %v", err)
	}
}
