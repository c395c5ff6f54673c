package models

import (
	"fmt"
	"time"
)

const (
	// DefaultFocusTitle is used when a focus block is booked without a session name.
	DefaultFocusTitle = "Focus Time"
	// FocusBlockProperty marks events created by CalmHour in the provider's private metadata.
	FocusBlockProperty = "calmhourFocusBlock"
)

// Priority tags a focus block and selects its calendar colour.
type Priority string

const (
	PriorityHigh    Priority = "high"
	PriorityMedium  Priority = "medium"
	PriorityLow     Priority = "low"
	PriorityDefault Priority = ""
)

// ParsePriority accepts high, medium, low or empty. Anything else falls back to the default.
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(s); p {
	case PriorityHigh, PriorityMedium, PriorityLow, PriorityDefault:
		return p, true
	default:
		return PriorityDefault, false
	}
}

// ColorID returns the Google Calendar event colour for the priority.
func (p Priority) ColorID() string {
	switch p {
	case PriorityHigh:
		return "11" // red
	case PriorityMedium:
		return "5" // yellow
	case PriorityLow:
		return "2" // green
	default:
		return "8" // grey
	}
}

func (p Priority) String() string {
	if p == PriorityDefault {
		return "default"
	}
	return string(p)
}

// Event is a calendar event as listed from a provider.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start"`
	EndTime     time.Time `json:"end"`
	AllDay      bool      `json:"allDay,omitempty"`
	ColorID     string    `json:"colorId,omitempty"`
	IsFocus     bool      `json:"isFocusBlock"`
	Link        string    `json:"link,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// FocusBlock is a focus-time event to be created or updated.
type FocusBlock struct {
	ID        string
	Title     string
	Priority  Priority
	StartTime time.Time
	EndTime   time.Time
}

// Duration is the length of the block.
func (b *FocusBlock) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}

// Summary returns the event title, defaulting to "Focus Time".
func (b *FocusBlock) Summary() string {
	if b.Title == "" {
		return DefaultFocusTitle
	}
	return b.Title
}

// Description is the body written on new focus-block events.
func (b *FocusBlock) Description() string {
	return fmt.Sprintf("Scheduled via CalmHour. Duration: %d minutes. Priority: %s.", int(b.Duration().Minutes()), b.Priority)
}
