package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	BackendGoogle = "google"
	BackendCalDAV = "caldav"

	DefaultTimezone         = "America/New_York"
	DefaultListen           = "127.0.0.1:8080"
	DefaultCalendarID       = "primary"
	DefaultSettingsFile     = "settings.yaml"
	DefaultAutoScheduleCron = "0 7 * * 1-5"
)

// Config is the process configuration, read from the environment (and a .env file loaded by main).
type Config struct {
	Backend    string
	CalendarID string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	CalDAVEndpoint     string
	CalDAVUsername     string
	CalDAVPassword     string
	CalDAVCalendarName string

	Timezone string
	Listen   string

	TokenDir    string
	DatabaseURL string
	RedisURL    string

	SettingsFile     string
	AutoScheduleCron string

	LogLevel string
}

// FromEnv reads the configuration from environment variables and applies defaults.
func FromEnv() Config {
	c := Config{
		Backend:            strings.ToLower(os.Getenv("CALMHOUR_BACKEND")),
		CalendarID:         os.Getenv("CALENDAR_ID"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		CalDAVEndpoint:     os.Getenv("CALDAV_ENDPOINT"),
		CalDAVUsername:     os.Getenv("CALDAV_USERNAME"),
		CalDAVPassword:     os.Getenv("CALDAV_PASSWORD"),
		CalDAVCalendarName: os.Getenv("CALDAV_CALENDAR_NAME"),
		Timezone:           os.Getenv("PRIMARY_TIMEZONE"),
		Listen:             os.Getenv("LISTEN_ADDR"),
		TokenDir:           os.Getenv("TOKEN_DIR"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		SettingsFile:       os.Getenv("SETTINGS_FILE"),
		AutoScheduleCron:   os.Getenv("AUTO_SCHEDULE_CRON"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
	}
	c.Normalize()
	return c
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	if c.Backend == "" {
		c.Backend = BackendGoogle
	}
	if c.CalendarID == "" {
		c.CalendarID = DefaultCalendarID
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.TokenDir == "" {
		c.TokenDir = "."
	}
	if c.SettingsFile == "" {
		c.SettingsFile = DefaultSettingsFile
	}
	if c.AutoScheduleCron == "" {
		c.AutoScheduleCron = DefaultAutoScheduleCron
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the settings needed by the selected backend.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendGoogle:
	case BackendCalDAV:
		if c.CalDAVUsername == "" || c.CalDAVPassword == "" || c.CalDAVCalendarName == "" {
			return fmt.Errorf("CALDAV_USERNAME, CALDAV_PASSWORD and CALDAV_CALENDAR_NAME must be set for the caldav backend")
		}
	default:
		return fmt.Errorf("unknown backend %q, expected %q or %q", c.Backend, BackendGoogle, BackendCalDAV)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured default timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}
