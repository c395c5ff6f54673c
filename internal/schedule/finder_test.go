package schedule

import (
	"errors"
	"math"
	"testing"
	"time"
)

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

func single(d time.Duration, start time.Time) Request {
	return Request{Duration: d, Start: start, HorizonDays: 7, MaxSlots: 1, Granularity: time.Hour}
}

func assertSlot(t *testing.T, got Slot, ok bool, wantStart, wantEnd time.Time) {
	t.Helper()
	if !ok {
		t.Fatalf("expected slot %s-%s, got none", wantStart.Format(time.RFC3339), wantEnd.Format(time.RFC3339))
	}
	if !got.Start.Equal(wantStart) || !got.End.Equal(wantEnd) {
		t.Fatalf("expected slot %s-%s, got %s-%s",
			wantStart.Format(time.RFC3339), wantEnd.Format(time.RFC3339),
			got.Start.Format(time.RFC3339), got.End.Format(time.RFC3339))
	}
}

func TestFindNext_Scenarios(t *testing.T) {
	loc := newYork(t)
	p := DefaultPolicy(loc)

	tests := []struct {
		name      string
		duration  time.Duration
		start     time.Time
		busy      []BusyInterval
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "before working hours clamps to window start",
			duration:  time.Hour,
			start:     at(loc, 2, 8, 0),
			wantStart: at(loc, 2, 9, 0),
			wantEnd:   at(loc, 2, 10, 0),
		},
		{
			name:      "late afternoon overflows to next day",
			duration:  time.Hour,
			start:     at(loc, 2, 16, 30),
			wantStart: at(loc, 3, 9, 0),
			wantEnd:   at(loc, 3, 10, 0),
		},
		{
			name:      "fully busy day moves to next day",
			duration:  30 * time.Minute,
			start:     at(loc, 2, 8, 0),
			busy:      []BusyInterval{{Start: at(loc, 2, 9, 0), End: at(loc, 2, 17, 0)}},
			wantStart: at(loc, 3, 9, 0),
			wantEnd:   at(loc, 3, 9, 30),
		},
		{
			name:      "saturday start advances to monday",
			duration:  time.Hour,
			start:     at(loc, 7, 10, 0),
			wantStart: at(loc, 9, 9, 0),
			wantEnd:   at(loc, 9, 10, 0),
		},
		{
			name:     "gap between meetings",
			duration: 45 * time.Minute,
			start:    at(loc, 2, 9, 0),
			busy: []BusyInterval{
				{Start: at(loc, 2, 9, 0), End: at(loc, 2, 10, 0)},
				{Start: at(loc, 2, 10, 30), End: at(loc, 2, 11, 0)},
				{Start: at(loc, 2, 12, 0), End: at(loc, 2, 13, 0)},
			},
			wantStart: at(loc, 2, 11, 0),
			wantEnd:   at(loc, 2, 11, 45),
		},
		{
			name:     "exact fit before busy start is accepted",
			duration: time.Hour,
			start:    at(loc, 2, 9, 0),
			busy: []BusyInterval{
				{Start: at(loc, 2, 10, 0), End: at(loc, 2, 17, 0)},
			},
			wantStart: at(loc, 2, 9, 0),
			wantEnd:   at(loc, 2, 10, 0),
		},
		{
			name:      "exact fit at window end is accepted",
			duration:  time.Hour,
			start:     at(loc, 2, 16, 0),
			wantStart: at(loc, 2, 16, 0),
			wantEnd:   at(loc, 2, 17, 0),
		},
		{
			name:     "overlapping busy intervals are walked in order",
			duration: time.Hour,
			start:    at(loc, 2, 9, 0),
			busy: []BusyInterval{
				{Start: at(loc, 2, 9, 0), End: at(loc, 2, 12, 0)},
				{Start: at(loc, 2, 10, 0), End: at(loc, 2, 11, 0)},
				{Start: at(loc, 2, 11, 30), End: at(loc, 2, 13, 0)},
			},
			wantStart: at(loc, 2, 13, 0),
			wantEnd:   at(loc, 2, 14, 0),
		},
		{
			name:     "late overflow does not skip a free next morning",
			duration: time.Hour,
			start:    at(loc, 2, 16, 30),
			busy: []BusyInterval{
				{Start: at(loc, 3, 14, 0), End: at(loc, 3, 15, 0)},
			},
			wantStart: at(loc, 3, 9, 0),
			wantEnd:   at(loc, 3, 10, 0),
		},
		{
			name:     "busy interval already in the past is ignored",
			duration: time.Hour,
			start:    at(loc, 2, 11, 0),
			busy: []BusyInterval{
				{Start: at(loc, 2, 9, 0), End: at(loc, 2, 10, 0)},
			},
			wantStart: at(loc, 2, 11, 0),
			wantEnd:   at(loc, 2, 12, 0),
		},
		{
			name:     "unsorted input is handled",
			duration: time.Hour,
			start:    at(loc, 2, 9, 0),
			busy: []BusyInterval{
				{Start: at(loc, 2, 10, 0), End: at(loc, 2, 11, 0)},
				{Start: at(loc, 2, 9, 0), End: at(loc, 2, 10, 0)},
			},
			wantStart: at(loc, 2, 11, 0),
			wantEnd:   at(loc, 2, 12, 0),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := FindNext(p, tc.busy, single(tc.duration, tc.start))
			assertSlot(t, got, ok, tc.wantStart, tc.wantEnd)
		})
	}
}

func TestFindNext_NoSlotInsideHorizon(t *testing.T) {
	loc := newYork(t)
	p := DefaultPolicy(loc)

	busy := []BusyInterval{{Start: at(loc, 2, 0, 0), End: at(loc, 16, 0, 0)}}
	if slot, ok := FindNext(p, busy, single(time.Hour, at(loc, 2, 8, 0))); ok {
		t.Fatalf("expected no slot, got %v", slot)
	}

	// Longer than the working window.
	if slot, ok := FindNext(p, nil, single(9*time.Hour, at(loc, 2, 8, 0))); ok {
		t.Fatalf("expected no slot, got %v", slot)
	}
}

func TestFindNext_HorizonBoundsCandidates(t *testing.T) {
	loc := newYork(t)
	p := DefaultPolicy(loc)

	req := single(time.Hour, at(loc, 2, 16, 30))
	req.HorizonDays = 1
	// Tuesday 09:00 starts before Tuesday 16:30 horizon end.
	got, ok := FindNext(p, nil, req)
	assertSlot(t, got, ok, at(loc, 3, 9, 0), at(loc, 3, 10, 0))

	req.Start = at(loc, 6, 16, 30) // Friday
	if slot, ok := FindNext(p, nil, req); ok {
		t.Fatalf("expected weekend horizon to produce nothing, got %v", slot)
	}
}

func TestFindNext_DaylightSavingKeepsWallClock(t *testing.T) {
	loc := newYork(t)
	p := DefaultPolicy(loc)

	// Clocks spring forward on Sunday 2026-03-08.
	got, ok := FindNext(p, nil, single(time.Hour, at(loc, 6, 16, 30)))
	assertSlot(t, got, ok, at(loc, 9, 9, 0), at(loc, 9, 10, 0))
	if h := got.Start.UTC().Hour(); h != 13 {
		t.Fatalf("expected 09:00 EDT (13:00 UTC), got %02d:00 UTC", h)
	}
}

func TestFindNext_Deterministic(t *testing.T) {
	loc := newYork(t)
	p := DefaultPolicy(loc)
	busy := []BusyInterval{
		{Start: at(loc, 2, 9, 0), End: at(loc, 2, 12, 15)},
		{Start: at(loc, 2, 13, 0), End: at(loc, 2, 16, 0)},
	}
	req := single(50*time.Minute, at(loc, 2, 7, 0))
	first, _ := FindNext(p, busy, req)
	for i := 0; i < 5; i++ {
		again, _ := FindNext(p, busy, req)
		if !again.Start.Equal(first.Start) || !again.End.Equal(first.End) {
			t.Fatalf("run %d: expected %v, got %v", i, first, again)
		}
	}
}

func TestFindNext_Properties(t *testing.T) {
	loc := newYork(t)
	p := DefaultPolicy(loc)
	busy := []BusyInterval{
		{Start: at(loc, 2, 9, 30), End: at(loc, 2, 10, 15)},
		{Start: at(loc, 2, 11, 0), End: at(loc, 2, 14, 0)},
		{Start: at(loc, 2, 15, 0), End: at(loc, 3, 11, 0)},
		{Start: at(loc, 3, 13, 0), End: at(loc, 3, 13, 30)},
		{Start: at(loc, 4, 9, 0), End: at(loc, 4, 17, 0)},
	}
	durations := []time.Duration{15 * time.Minute, 30 * time.Minute, 45 * time.Minute, 90 * time.Minute, 3 * time.Hour}

	for _, d := range durations {
		var prev time.Time
		for start := at(loc, 2, 6, 0); start.Before(at(loc, 5, 18, 0)); start = start.Add(20 * time.Minute) {
			slot, ok := FindNext(p, busy, single(d, start))
			if !ok {
				continue
			}
			if slot.End.Sub(slot.Start) != d {
				t.Fatalf("duration %s: slot length %s", d, slot.End.Sub(slot.Start))
			}
			if slot.Start.Before(start) {
				t.Fatalf("duration %s: slot %v starts before search start %v", d, slot.Start, start)
			}
			for _, b := range busy {
				if b.Overlaps(slot.Start, slot.End) {
					t.Fatalf("duration %s: slot %v-%v overlaps busy %v-%v", d, slot.Start, slot.End, b.Start, b.End)
				}
			}
			if !p.Contains(slot.Start, slot.End) {
				t.Fatalf("duration %s: slot %v-%v outside working hours", d, slot.Start, slot.End)
			}
			if slot.Start.Before(prev) {
				t.Fatalf("duration %s: later search start produced earlier slot %v < %v", d, slot.Start, prev)
			}
			prev = slot.Start
		}
	}
}

func TestFindSlots_BatchSkipsBusyDay(t *testing.T) {
	loc := newYork(t)
	p := DefaultPolicy(loc)
	busy := []BusyInterval{{Start: at(loc, 2, 9, 0), End: at(loc, 2, 17, 0)}}
	req := Request{Duration: time.Hour, Start: at(loc, 2, 8, 0), HorizonDays: 2, MaxSlots: 3, Granularity: time.Hour}

	res, err := Find(p, busy, req)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if res.Outcome() != OutcomeFound {
		t.Fatalf("expected outcome %s, got %s", OutcomeFound, res.Outcome())
	}
	want := []time.Time{at(loc, 3, 9, 0), at(loc, 3, 10, 0), at(loc, 3, 11, 0)}
	if len(res.Slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(res.Slots))
	}
	for i, w := range want {
		if !res.Slots[i].Start.Equal(w) {
			t.Fatalf("slot %d: expected %s, got %s", i, w.Format(time.RFC3339), res.Slots[i].Start.Format(time.RFC3339))
		}
	}
}

func TestFindSlots_PartialAndEmpty(t *testing.T) {
	loc := newYork(t)
	p := DefaultPolicy(loc)

	// Only Monday 15:00 and 16:00 are free before the one-day horizon ends.
	busy := []BusyInterval{
		{Start: at(loc, 2, 9, 0), End: at(loc, 2, 15, 0)},
		{Start: at(loc, 3, 9, 0), End: at(loc, 3, 17, 0)},
	}
	req := Request{Duration: time.Hour, Start: at(loc, 2, 8, 0), HorizonDays: 1, MaxSlots: 5, Granularity: time.Hour}
	res, err := Find(p, busy, req)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(res.Slots) != 2 || res.Outcome() != OutcomePartial {
		t.Fatalf("expected 2 partial slots, got %d (%s)", len(res.Slots), res.Outcome())
	}

	req.Start = at(loc, 7, 8, 0) // Saturday, one-day horizon covers only the weekend
	res, err = Find(p, nil, req)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if res.Outcome() != OutcomeNoSlotFound {
		t.Fatalf("expected %s, got %s", OutcomeNoSlotFound, res.Outcome())
	}
}

func TestFindSlots_RespectsStartAndGrid(t *testing.T) {
	loc := newYork(t)
	p := DefaultPolicy(loc)
	busy := []BusyInterval{{Start: at(loc, 2, 11, 30), End: at(loc, 2, 12, 0)}}
	req := Request{Duration: 30 * time.Minute, Start: at(loc, 2, 10, 15), HorizonDays: 1, MaxSlots: 3, Granularity: 30 * time.Minute}

	slots := FindSlots(p, busy, req)
	want := []time.Time{at(loc, 2, 10, 30), at(loc, 2, 11, 0), at(loc, 2, 12, 0)}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i, w := range want {
		if !slots[i].Start.Equal(w) {
			t.Fatalf("slot %d: expected %s, got %s", i, w.Format(time.RFC3339), slots[i].Start.Format(time.RFC3339))
		}
		for _, b := range busy {
			if b.Overlaps(slots[i].Start, slots[i].End) {
				t.Fatalf("slot %d overlaps busy interval", i)
			}
		}
	}
}

func TestFind_RejectsInvalidRequest(t *testing.T) {
	loc := newYork(t)
	p := DefaultPolicy(loc)

	for _, d := range []time.Duration{0, -time.Minute} {
		if _, err := Find(p, nil, single(d, at(loc, 2, 9, 0))); err == nil {
			t.Fatalf("expected error for duration %s", d)
		}
	}

	long := single(25*time.Hour, at(loc, 2, 9, 0))
	if _, err := Find(p, nil, long); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for a block longer than a day, got %v", err)
	}

	far := single(time.Hour, at(loc, 2, 9, 0))
	far.HorizonDays = 200000
	if _, err := Find(p, nil, far); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for horizon %d, got %v", far.HorizonDays, err)
	}
	far.HorizonDays = MaxHorizonDays
	if _, err := Find(p, nil, far); err != nil {
		t.Fatalf("horizon of %d days must be accepted: %v", MaxHorizonDays, err)
	}

	bad := p
	bad.Weekdays = map[time.Weekday]bool{}
	if _, err := Find(bad, nil, single(time.Hour, at(loc, 2, 9, 0))); err == nil {
		t.Fatal("expected error for policy without weekdays")
	}
}

func TestMinutes(t *testing.T) {
	d, err := Minutes(90)
	if err != nil || d != 90*time.Minute {
		t.Fatalf("Minutes(90) = %s, %v", d, err)
	}
	for _, n := range []int{1441 * 1000, math.MaxInt, math.MinInt} {
		if _, err := Minutes(n); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %d minutes, got %v", n, err)
		}
	}
}
