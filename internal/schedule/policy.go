package schedule

import (
	"fmt"
	"time"
)

const (
	DefaultStartHour = 9
	DefaultEndHour   = 17
)

// Policy describes when focus blocks may be scheduled.
// Hours are wall-clock hours in Location; EndHour 24 means the window runs until local midnight.
type Policy struct {
	StartHour int
	EndHour   int
	Weekdays  map[time.Weekday]bool
	Location  *time.Location
}

// DefaultPolicy returns the 9-17, Monday to Friday policy in loc.
func DefaultPolicy(loc *time.Location) Policy {
	return Policy{
		StartHour: DefaultStartHour,
		EndHour:   DefaultEndHour,
		Weekdays:  WorkWeek(),
		Location:  loc,
	}
}

// WorkWeek returns the Monday to Friday weekday set.
func WorkWeek() map[time.Weekday]bool {
	return map[time.Weekday]bool{
		time.Monday:    true,
		time.Tuesday:   true,
		time.Wednesday: true,
		time.Thursday:  true,
		time.Friday:    true,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.StartHour < 0 || p.StartHour > 23 {
		return fmt.Errorf("%w: start hour %d out of range", ErrInvalidRequest, p.StartHour)
	}
	if p.EndHour < 1 || p.EndHour > 24 {
		return fmt.Errorf("%w: end hour %d out of range", ErrInvalidRequest, p.EndHour)
	}
	if p.StartHour >= p.EndHour {
		return fmt.Errorf("%w: start hour %d must be before end hour %d", ErrInvalidRequest, p.StartHour, p.EndHour)
	}
	if p.Location == nil {
		return fmt.Errorf("%w: policy has no timezone", ErrInvalidRequest)
	}
	for _, on := range p.Weekdays {
		if on {
			return nil
		}
	}
	return fmt.Errorf("%w: no working weekdays", ErrInvalidRequest)
}

// IsWorkingDay reports whether t falls on a permitted weekday in the policy's timezone.
func (p Policy) IsWorkingDay(t time.Time) bool {
	return p.Weekdays[t.In(p.Location).Weekday()]
}

// WindowStart returns the start of the working window on t's civil day.
func (p Policy) WindowStart(t time.Time) time.Time {
	lt := t.In(p.Location)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), p.StartHour, 0, 0, 0, p.Location)
}

// WindowEnd returns the end of the working window on t's civil day.
func (p Policy) WindowEnd(t time.Time) time.Time {
	lt := t.In(p.Location)
	// time.Date normalizes hour 24 to the following midnight.
	return time.Date(lt.Year(), lt.Month(), lt.Day(), p.EndHour, 0, 0, 0, p.Location)
}

// NextWindowStart returns the window start of the first working day after t's civil day.
func (p Policy) NextWindowStart(t time.Time) time.Time {
	lt := t.In(p.Location)
	day := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, p.Location)
	for i := 0; i < 7; i++ {
		// AddDate keeps wall-clock midnight across DST changes.
		day = day.AddDate(0, 0, 1)
		if p.Weekdays[day.Weekday()] {
			return p.WindowStart(day)
		}
	}
	// Unreachable for a validated policy.
	return p.WindowStart(day)
}

// AdvanceToWindow returns t when it lies inside a working window. Before the window on a
// working day it returns that day's window start; otherwise the next working window start.
func (p Policy) AdvanceToWindow(t time.Time) time.Time {
	t = t.In(p.Location)
	if !p.IsWorkingDay(t) {
		return p.NextWindowStart(t)
	}
	if start := p.WindowStart(t); t.Before(start) {
		return start
	}
	if !t.Before(p.WindowEnd(t)) {
		return p.NextWindowStart(t)
	}
	return t
}

// Contains reports whether [start, end) lies inside a single working window on a permitted weekday.
func (p Policy) Contains(start, end time.Time) bool {
	if !p.IsWorkingDay(start) {
		return false
	}
	return !start.Before(p.WindowStart(start)) && !end.After(p.WindowEnd(start))
}
