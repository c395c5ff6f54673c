package schedule

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNormalize_SortsAndDropsBadEntries(t *testing.T) {
	loc := newYork(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	raw := []RawBusy{
		{Start: "2026-03-02T15:00:00Z", End: "2026-03-02T16:00:00Z"},
		{Start: "not-a-time", End: "2026-03-02T16:00:00Z"},
		{Start: "2026-03-02T14:00:00.000Z", End: "2026-03-02T14:30:00.000Z"},
		{Start: "2026-03-02T18:00:00Z", End: "2026-03-02T17:00:00Z"},
		{Start: "2026-03-02T14:00:00-05:00", End: "2026-03-02T15:30:00-05:00"},
	}

	busy := Normalize(logger, raw, loc)
	if len(busy) != 3 {
		t.Fatalf("expected 3 intervals, got %d", len(busy))
	}
	for i := 1; i < len(busy); i++ {
		if busy[i].Start.Before(busy[i-1].Start) {
			t.Fatalf("intervals not sorted at %d", i)
		}
	}
	if busy[0].Start.Location() != loc {
		t.Fatalf("expected location %s, got %s", loc, busy[0].Start.Location())
	}
	if !busy[0].Start.Equal(at(loc, 2, 9, 0)) {
		t.Fatalf("expected first interval 09:00 local, got %s", busy[0].Start)
	}
	// 14:00-05:00 and 15:00Z overlap; both are kept.
	if !busy[1].Start.Equal(at(loc, 2, 10, 0)) || !busy[2].Start.Equal(at(loc, 2, 14, 0)) {
		t.Fatalf("unexpected order: %v", busy)
	}
	if got := strings.Count(buf.String(), "Dropping unparseable busy interval"); got != 2 {
		t.Fatalf("expected 2 warnings, got %d: %s", got, buf.String())
	}
}

func TestParseBusy_TaggedEntries(t *testing.T) {
	e := ParseBusy(RawBusy{Start: "2026-03-02T09:00:00Z", End: "2026-03-02T09:00:00Z"}, time.UTC)
	if e.Valid() {
		t.Fatal("expected zero-length interval to be skipped")
	}
	e = ParseBusy(RawBusy{Start: "2026-03-02T09:00:00Z", End: "2026-03-02T10:00:00Z"}, time.UTC)
	if !e.Valid() || e.Interval.End.Sub(e.Interval.Start) != time.Hour {
		t.Fatalf("expected one hour interval, got %+v", e)
	}
}
