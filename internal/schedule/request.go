package schedule

import (
	"fmt"
	"time"
)

const (
	DefaultHorizonDays = 7
	DefaultGranularity = time.Hour

	MaxHorizonDays = 366
	MaxDuration    = 24 * time.Hour
)

// Request describes a slot search.
type Request struct {
	Duration    time.Duration
	Start       time.Time
	HorizonDays int
	MaxSlots    int
	// Granularity is the candidate step in batch mode.
	Granularity time.Duration
}

// WithDefaults fills zero-valued optional fields. A zero Start becomes now.
func (r Request) WithDefaults(now time.Time) Request {
	if r.Start.IsZero() {
		r.Start = now
	}
	if r.HorizonDays == 0 {
		r.HorizonDays = DefaultHorizonDays
	}
	if r.MaxSlots == 0 {
		r.MaxSlots = 1
	}
	if r.Granularity == 0 {
		r.Granularity = DefaultGranularity
	}
	return r
}

// Validate rejects requests that cannot be searched.
func (r Request) Validate() error {
	if err := CheckDuration(r.Duration); err != nil {
		return err
	}
	if r.Start.IsZero() {
		return fmt.Errorf("%w: search start is required", ErrInvalidRequest)
	}
	if r.HorizonDays <= 0 {
		return fmt.Errorf("%w: horizon must be at least one day, got %d", ErrInvalidRequest, r.HorizonDays)
	}
	if r.HorizonDays > MaxHorizonDays {
		return fmt.Errorf("%w: horizon must be at most %d days, got %d", ErrInvalidRequest, MaxHorizonDays, r.HorizonDays)
	}
	if r.MaxSlots <= 0 {
		return fmt.Errorf("%w: max slots must be positive, got %d", ErrInvalidRequest, r.MaxSlots)
	}
	if r.Granularity <= 0 || r.Granularity > MaxDuration {
		return fmt.Errorf("%w: granularity must be between 0 and %s, got %s", ErrInvalidRequest, MaxDuration, r.Granularity)
	}
	return nil
}

// HorizonEnd is the instant no accepted slot may extend past.
func (r Request) HorizonEnd() time.Time {
	return r.Start.Add(time.Duration(r.HorizonDays) * 24 * time.Hour)
}

// CheckDuration rejects block lengths that are not positive or longer than a day.
func CheckDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidRequest, d)
	}
	if d > MaxDuration {
		return fmt.Errorf("%w: duration must be at most %s, got %s", ErrInvalidRequest, MaxDuration, d)
	}
	return nil
}

// Minutes converts a user-supplied minute count without overflowing time.Duration.
func Minutes(n int) (time.Duration, error) {
	const limit = int(MaxDuration / time.Minute)
	if n > limit || n < -limit {
		return 0, fmt.Errorf("%w: duration must be at most %d minutes, got %d", ErrInvalidRequest, limit, n)
	}
	return time.Duration(n) * time.Minute, nil
}
