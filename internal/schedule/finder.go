package schedule

import (
	"sort"
	"time"
)

// Slot is a free range inside a working window.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Outcome classifies a completed search. None of these are errors.
type Outcome string

const (
	OutcomeFound       Outcome = "scheduled"
	OutcomePartial     Outcome = "partial"
	OutcomeNoSlotFound Outcome = "no_slot_found"
)

// Result holds the slots found by a search and how many were asked for.
type Result struct {
	Slots     []Slot
	Requested int
}

// Outcome reports whether the search was satisfied, partially satisfied or came up empty.
func (r Result) Outcome() Outcome {
	switch {
	case len(r.Slots) == 0:
		return OutcomeNoSlotFound
	case len(r.Slots) < r.Requested:
		return OutcomePartial
	default:
		return OutcomeFound
	}
}

// Find runs single-slot mode when req.MaxSlots is 1 and batch mode otherwise.
func Find(p Policy, busy []BusyInterval, req Request) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.MaxSlots == 1 {
		res := Result{Requested: 1}
		if slot, ok := FindNext(p, busy, req); ok {
			res.Slots = []Slot{slot}
		}
		return res, nil
	}
	return Result{Slots: FindSlots(p, busy, req), Requested: req.MaxSlots}, nil
}

// FindNext returns the earliest slot of req.Duration that starts no earlier than req.Start,
// fits inside one working window and overlaps no busy interval. The boolean is false when
// nothing fits before the horizon. p and req must already be valid.
func FindNext(p Policy, busy []BusyInterval, req Request) (Slot, bool) {
	busy = sortedByStart(busy)
	horizon := req.HorizonEnd()
	cursor := p.AdvanceToWindow(req.Start)

	i := 0
	for {
		end := cursor.Add(req.Duration)
		if end.After(horizon) {
			return Slot{}, false
		}
		if end.After(p.WindowEnd(cursor)) {
			cursor = p.NextWindowStart(cursor)
			continue
		}
		for i < len(busy) && !busy[i].End.After(cursor) {
			i++
		}
		if i == len(busy) || !end.After(busy[i].Start) {
			return Slot{Start: cursor, End: end}, true
		}
		cursor = p.AdvanceToWindow(busy[i].End)
	}
}

// FindSlots walks a fixed grid of candidates (req.Granularity apart, aligned to each
// window start) and returns up to req.MaxSlots that clear every busy interval.
// p and req must already be valid.
func FindSlots(p Policy, busy []BusyInterval, req Request) []Slot {
	horizon := req.HorizonEnd()
	var slots []Slot

	day := p.WindowStart(req.Start)
	for !day.After(horizon) {
		if p.IsWorkingDay(day) {
			windowEnd := p.WindowEnd(day)
			for c := p.WindowStart(day); !c.Add(req.Duration).After(windowEnd); c = c.Add(req.Granularity) {
				end := c.Add(req.Duration)
				if end.After(horizon) {
					return slots
				}
				if c.Before(req.Start) || overlapsAny(c, end, busy) {
					continue
				}
				slots = append(slots, Slot{Start: c, End: end})
				if len(slots) == req.MaxSlots {
					return slots
				}
			}
		}
		lt := day.In(p.Location)
		day = p.WindowStart(time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, p.Location))
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []BusyInterval) bool {
	for _, b := range busy {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func sortedByStart(busy []BusyInterval) []BusyInterval {
	less := func(s []BusyInterval) func(i, j int) bool {
		return func(i, j int) bool { return s[i].Start.Before(s[j].Start) }
	}
	if sort.SliceIsSorted(busy, less(busy)) {
		return busy
	}
	sorted := append([]BusyInterval(nil), busy...)
	sort.SliceStable(sorted, less(sorted))
	return sorted
}
