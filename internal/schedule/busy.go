package schedule

import (
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// RawBusy is a busy interval as reported by a calendar provider, with ISO-8601 timestamps.
type RawBusy struct {
	Start string
	End   string
}

// BusyInterval is a time range during which the calendar is unavailable.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the half-open ranges [start, end) and [b.Start, b.End) intersect.
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && end.After(b.Start)
}

// Entry is the result of parsing one RawBusy: either a valid interval or a skip reason.
type Entry struct {
	Interval BusyInterval
	Skipped  string
}

// Valid reports whether the entry holds a usable interval.
func (e Entry) Valid() bool { return e.Skipped == "" }

// ParseBusy converts a single raw pair into an Entry in loc.
func ParseBusy(raw RawBusy, loc *time.Location) Entry {
	start, err := parseInstant(raw.Start)
	if err != nil {
		return Entry{Skipped: fmt.Sprintf("bad start %q: %v", raw.Start, err)}
	}
	end, err := parseInstant(raw.End)
	if err != nil {
		return Entry{Skipped: fmt.Sprintf("bad end %q: %v", raw.End, err)}
	}
	if !end.After(start) {
		return Entry{Skipped: fmt.Sprintf("end %s not after start %s", raw.End, raw.Start)}
	}
	return Entry{Interval: BusyInterval{Start: start.In(loc), End: end.In(loc)}}
}

// Normalize parses raw busy pairs into intervals in loc, sorted by start.
// Unparseable pairs are logged and dropped. Overlapping intervals are kept as they are.
func Normalize(logger *slog.Logger, raw []RawBusy, loc *time.Location) []BusyInterval {
	busy := make([]BusyInterval, 0, len(raw))
	for _, r := range raw {
		entry := ParseBusy(r, loc)
		if !entry.Valid() {
			if logger != nil {
				logger.Warn("Dropping unparseable busy interval", "start", r.Start, "end", r.End, "reason", entry.Skipped)
			}
			continue
		}
		busy = append(busy, entry.Interval)
	}
	sort.SliceStable(busy, func(i, j int) bool {
		if busy[i].Start.Equal(busy[j].Start) {
			return busy[i].End.Before(busy[j].End)
		}
		return busy[i].Start.Before(busy[j].Start)
	})
	return busy
}

func parseInstant(s string) (time.Time, error) {
	// RFC3339 also accepts fractional seconds when parsing.
	return time.Parse(time.RFC3339, s)
}
