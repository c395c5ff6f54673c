package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"calmhour/internal/schedule"

	"gopkg.in/yaml.v3"
)

// Settings are the per-account scheduling preferences.
type Settings struct {
	// AutoScheduleEnabled makes the cron job keep focus blocks booked for this account.
	AutoScheduleEnabled bool `yaml:"auto_schedule_enabled" json:"auto_schedule_enabled"`
	// AutoScheduleMinutes is the length of auto-scheduled blocks.
	AutoScheduleMinutes int `yaml:"auto_schedule_minutes" json:"auto_schedule_minutes"`
	// AutoScheduleCount is how many focus blocks to keep booked within the horizon.
	AutoScheduleCount int `yaml:"auto_schedule_count" json:"auto_schedule_count"`

	WorkStartHour int      `yaml:"work_start_hour" json:"work_start_hour"`
	WorkEndHour   int      `yaml:"work_end_hour" json:"work_end_hour"`
	WorkDays      []string `yaml:"work_days" json:"work_days"`
	Timezone      string   `yaml:"timezone" json:"timezone"`
	HorizonDays   int      `yaml:"horizon_days" json:"horizon_days"`
}

// DefaultSettings returns 9-17 Monday to Friday in tz, with auto-schedule off.
func DefaultSettings(tz string) Settings {
	return Settings{
		AutoScheduleMinutes: 60,
		AutoScheduleCount:   3,
		WorkStartHour:       schedule.DefaultStartHour,
		WorkEndHour:         schedule.DefaultEndHour,
		WorkDays:            []string{"mon", "tue", "wed", "thu", "fri"},
		Timezone:            tz,
		HorizonDays:         schedule.DefaultHorizonDays,
	}
}

// Normalize fills unset fields from defaults. Hours are only defaulted when the end hour is unset,
// so a window starting at midnight survives.
func (s *Settings) Normalize(defaults Settings) {
	if s.AutoScheduleMinutes <= 0 {
		s.AutoScheduleMinutes = defaults.AutoScheduleMinutes
	}
	if s.AutoScheduleCount <= 0 {
		s.AutoScheduleCount = defaults.AutoScheduleCount
	}
	if s.WorkEndHour == 0 {
		s.WorkStartHour = defaults.WorkStartHour
		s.WorkEndHour = defaults.WorkEndHour
	}
	if len(s.WorkDays) == 0 {
		s.WorkDays = append([]string(nil), defaults.WorkDays...)
	}
	if s.Timezone == "" {
		s.Timezone = defaults.Timezone
	}
	if s.HorizonDays <= 0 {
		s.HorizonDays = defaults.HorizonDays
	}
}

// Validate checks the block length and horizon bounds and that the settings form a valid Policy.
func (s Settings) Validate() error {
	d, err := schedule.Minutes(s.AutoScheduleMinutes)
	if err == nil {
		err = schedule.CheckDuration(d)
	}
	if err != nil {
		return fmt.Errorf("auto_schedule_minutes: %w", err)
	}
	if s.HorizonDays < 1 || s.HorizonDays > schedule.MaxHorizonDays {
		return fmt.Errorf("%w: horizon_days must be between 1 and %d, got %d", schedule.ErrInvalidRequest, schedule.MaxHorizonDays, s.HorizonDays)
	}
	_, err = s.Policy()
	return err
}

// Policy converts the settings into a validated working-hours policy.
func (s Settings) Policy() (schedule.Policy, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return schedule.Policy{}, fmt.Errorf("%w: invalid timezone '%s': %v", schedule.ErrInvalidRequest, s.Timezone, err)
	}
	days := make(map[time.Weekday]bool, len(s.WorkDays))
	for _, d := range s.WorkDays {
		wd, err := ParseWeekday(d)
		if err != nil {
			return schedule.Policy{}, err
		}
		days[wd] = true
	}
	p := schedule.Policy{
		StartHour: s.WorkStartHour,
		EndHour:   s.WorkEndHour,
		Weekdays:  days,
		Location:  loc,
	}
	if err := p.Validate(); err != nil {
		return schedule.Policy{}, err
	}
	return p, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts English weekday names, full or abbreviated.
func ParseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown weekday %q", schedule.ErrInvalidRequest, s)
	}
	return wd, nil
}

type settingsFile struct {
	Accounts map[string]Settings `yaml:"accounts"`
}

// SettingsStore persists per-account Settings in a YAML file.
type SettingsStore struct {
	path     string
	defaults Settings

	mu sync.Mutex
}

// NewSettingsStore returns a store backed by path. Accounts without an entry get defaults.
func NewSettingsStore(path string, defaults Settings) *SettingsStore {
	return &SettingsStore{path: path, defaults: defaults}
}

// Get returns the account's settings, normalized against the defaults.
func (s *SettingsStore) Get(account string) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return Settings{}, err
	}
	st, ok := f.Accounts[account]
	if !ok {
		st = s.defaults
	}
	st.Normalize(s.defaults)
	return st, nil
}

// Put validates and stores the account's settings.
func (s *SettingsStore) Put(account string, st Settings) (Settings, error) {
	st.Normalize(s.defaults)
	if err := st.Validate(); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return Settings{}, err
	}
	f.Accounts[account] = st
	if err := s.save(f); err != nil {
		return Settings{}, err
	}
	return st, nil
}

// Accounts lists the accounts with stored settings, sorted.
func (s *SettingsStore) Accounts() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	accounts := make([]string, 0, len(f.Accounts))
	for a := range f.Accounts {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (s *SettingsStore) load() (*settingsFile, error) {
	f := &settingsFile{Accounts: map[string]Settings{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", s.path, err)
	}
	if f.Accounts == nil {
		f.Accounts = map[string]Settings{}
	}
	return f, nil
}

// save writes atomically via a temp file + rename, leaving the file at 0600.
func (s *SettingsStore) save(f *settingsFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calmhour-settings-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
