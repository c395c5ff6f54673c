package google

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"calmhour/internal/models"
	"calmhour/internal/schedule"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	credentialsFile = "credentials.json"
	oobRedirectURL  = "urn:ietf:wg:oauth:2.0:oob"
)

// Scopes requested when connecting a calendar: free/busy reads plus event writes.
var Scopes = []string{calendar.CalendarReadonlyScope, calendar.CalendarEventsScope}

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
}

// NewClient creates a new Google Calendar client authenticated by src.
// src is expected to refresh expired tokens itself and fail with schedule.ErrAuthExpired
// when it cannot.
func NewClient(ctx context.Context, logger *slog.Logger, src oauth2.TokenSource) (*CalendarClient, error) {
	client := oauth2.NewClient(ctx, src)
	return NewClientWithOptions(ctx, logger, option.WithHTTPClient(client))
}

// NewClientWithOptions creates a client from raw API options, e.g. a custom endpoint.
func NewClientWithOptions(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*CalendarClient, error) {
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, logger: logger}, nil
}

// FreeBusy returns the raw busy intervals of calendarID within [start, end).
func (c *CalendarClient) FreeBusy(ctx context.Context, calendarID string, start, end time.Time) ([]schedule.RawBusy, error) {
	c.logger.Debug("Querying free/busy", "calendarID", calendarID, "timeMin", start, "timeMax", end)

	resp, err := c.service.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		err = classify("free/busy query", err)
		if !errors.Is(err, schedule.ErrAuthExpired) && !errors.Is(err, schedule.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", schedule.ErrUpstreamUnavailable, err)
		}
		return nil, err
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok && len(resp.Calendars) == 1 {
		// Aliases such as "primary" may come back keyed by the calendar's address.
		for _, only := range resp.Calendars {
			cal, ok = only, true
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: free/busy response has no entry for calendar %s", schedule.ErrUpstreamUnavailable, calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("%w: free/busy error for calendar %s: %s/%s",
			schedule.ErrUpstreamUnavailable, calendarID, cal.Errors[0].Domain, cal.Errors[0].Reason)
	}

	raw := make([]schedule.RawBusy, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		raw = append(raw, schedule.RawBusy{Start: b.Start, End: b.End})
	}
	c.logger.Info("Fetched busy intervals from Google Calendar", "count", len(raw), "calendarID", calendarID)
	return raw, nil
}

// CreateFocusBlock inserts a new focus-block event.
func (c *CalendarClient) CreateFocusBlock(ctx context.Context, calendarID string, block *models.FocusBlock) (*models.Event, error) {
	ev := &calendar.Event{
		Summary:     block.Summary(),
		Description: block.Description(),
		Start:       &calendar.EventDateTime{DateTime: block.StartTime.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: block.EndTime.Format(time.RFC3339)},
		ColorId:     block.Priority.ColorID(),
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{models.FocusBlockProperty: "true"},
		},
		Reminders: &calendar.EventReminders{
			UseDefault:      false,
			ForceSendFields: []string{"UseDefault"},
		},
	}

	created, err := c.service.Events.Insert(calendarID, ev).Context(ctx).Do()
	if err != nil {
		return nil, classify("insert event", err)
	}
	c.logger.Info("Created focus block", "eventID", created.Id, "start", block.StartTime, "calendarID", calendarID)
	return toInternalEvent(created, calendarID), nil
}

// UpdateFocusBlock patches the start, end, title and colour of an existing event.
func (c *CalendarClient) UpdateFocusBlock(ctx context.Context, calendarID string, block *models.FocusBlock) (*models.Event, error) {
	patch := &calendar.Event{
		Summary: block.Summary(),
		Start:   &calendar.EventDateTime{DateTime: block.StartTime.Format(time.RFC3339)},
		End:     &calendar.EventDateTime{DateTime: block.EndTime.Format(time.RFC3339)},
		ColorId: block.Priority.ColorID(),
	}

	updated, err := c.service.Events.Patch(calendarID, block.ID, patch).Context(ctx).Do()
	if err != nil {
		return nil, classify("patch event", err)
	}
	c.logger.Info("Updated focus block", "eventID", updated.Id, "calendarID", calendarID)
	return toInternalEvent(updated, calendarID), nil
}

// DeleteFocusBlock removes an event. A missing event yields schedule.ErrEventNotFound.
func (c *CalendarClient) DeleteFocusBlock(ctx context.Context, calendarID, eventID string) error {
	if err := c.service.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return classify("delete event", err)
	}
	c.logger.Info("Deleted focus block", "eventID", eventID, "calendarID", calendarID)
	return nil
}

// ListEvents fetches the events of calendarID within [start, end), expanding recurrences.
func (c *CalendarClient) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*models.Event, error) {
	c.logger.Debug("Fetching events", "calendarID", calendarID, "timeMin", start, "timeMax", end)

	var out []*models.Event
	err := c.service.Events.List(calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		OrderBy("startTime").
		MaxResults(250).
		Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if ev := toInternalEvent(item, calendarID); ev != nil {
					out = append(out, ev)
				}
			}
			return nil
		})
	if err != nil {
		return nil, classify("list events", err)
	}

	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(out), "calendarID", calendarID)
	return out, nil
}

// toInternalEvent converts a Google Calendar event to the internal Event model.
func toInternalEvent(item *calendar.Event, source string) *models.Event {
	if item.Start == nil || item.End == nil {
		return nil
	}
	ev := &models.Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		ColorID:     item.ColorId,
		Link:        item.HtmlLink,
		Source:      fmt.Sprintf("google-%s", source),
	}
	if item.ExtendedProperties != nil {
		ev.IsFocus = item.ExtendedProperties.Private[models.FocusBlockProperty] == "true"
	}

	if item.Start.DateTime == "" {
		// All-day events only carry a date.
		ev.AllDay = true
		ev.StartTime, _ = time.Parse(time.DateOnly, item.Start.Date)
		ev.EndTime, _ = time.Parse(time.DateOnly, item.End.Date)
		return ev
	}
	ev.StartTime, _ = time.Parse(time.RFC3339, item.Start.DateTime)
	ev.EndTime, _ = time.Parse(time.RFC3339, item.End.DateTime)
	return ev
}

// classify maps API and transport failures onto the schedule error taxonomy.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	var retrieveErr *oauth2.RetrieveError

	switch {
	case errors.Is(err, schedule.ErrAuthExpired):
		return fmt.Errorf("%s: %w", op, err)
	case errors.As(err, &retrieveErr):
		return fmt.Errorf("%w: %s: %w", schedule.ErrAuthExpired, op, err)
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s: %w", schedule.ErrAuthExpired, op, err)
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
			return fmt.Errorf("%w: %s: %w", schedule.ErrEventNotFound, op, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 || isRateLimited(apiErr):
			return fmt.Errorf("%w: %s: %w", schedule.ErrUpstreamUnavailable, op, err)
		default:
			return fmt.Errorf("failed to %s: %w", op, err)
		}
	default:
		// Transport-level failure: DNS, connection reset, timeout.
		return fmt.Errorf("%w: %s: %w", schedule.ErrUpstreamUnavailable, op, err)
	}
}

func isRateLimited(apiErr *googleapi.Error) bool {
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

// OAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes explicit client credentials over a local credentials.json file.
// An empty redirectURL selects the copy/paste desktop flow.
func OAuthConfig(clientID, clientSecret, redirectURL string) (*oauth2.Config, error) {
	if redirectURL == "" {
		redirectURL = oobRedirectURL
	}
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the root directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = redirectURL
	return config, nil
}

// AuthCodeURL returns the consent URL. Offline access plus a forced consent prompt
// makes Google issue a refresh token on every connect.
func AuthCodeURL(config *oauth2.Config, state string) string {
	return config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// TokenFromWeb exchanges an authorization code for a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}
