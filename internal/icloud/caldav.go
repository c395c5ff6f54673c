package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"calmhour/internal/models"
	"calmhour/internal/schedule"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

const (
	// DefaultEndpoint is Apple's CalDAV server.
	DefaultEndpoint = "https://caldav.icloud.com/"

	// focusProp marks focus blocks written by CalmHour.
	focusProp = "X-CALMHOUR-FOCUS-BLOCK"
	// priorityProp stores the focus block priority.
	priorityProp = "X-CALMHOUR-PRIORITY"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
// The response status is recorded on the request context when tracked.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calmhour/1.0")
	resp, err := t.Transport.RoundTrip(req)
	if err == nil {
		if st, ok := req.Context().Value(statusKey{}).(*responseStatus); ok {
			st.code = resp.StatusCode
		}
	}
	return resp, err
}

type statusKey struct{}

// responseStatus holds the status code of the last response sent for a tracked call.
type responseStatus struct {
	code int
}

func trackStatus(ctx context.Context) (context.Context, *responseStatus) {
	st := &responseStatus{}
	return context.WithValue(ctx, statusKey{}, st), st
}

// CalDAVClient is a free/busy provider and focus-block store backed by a CalDAV server.
type CalDAVClient struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	calendarPath string
	location     *time.Location
}

// NewClient creates a CalDAVClient and resolves calendarName to its collection path.
// The returned client ignores the calendarID argument of its methods; a CalDAV account
// is bound to the one collection found here.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string, loc *time.Location) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	c := &CalDAVClient{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
		location:     loc,
	}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
	ctx, st := trackStatus(ctx)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		// A server that answered normally but lacks the calendar is a configuration error.
		if st.code == 0 || st.code >= http.StatusBadRequest {
			err = classify(err, st.code)
		}
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

// WithLocation returns a copy of the client that interprets floating times in loc.
func (c *CalDAVClient) WithLocation(loc *time.Location) *CalDAVClient {
	cp := *c
	cp.location = loc
	return &cp
}

// FreeBusy runs a calendar-query REPORT over [start, end) and returns the opaque events as raw intervals.
func (c *CalDAVClient) FreeBusy(ctx context.Context, _ string, start, end time.Time) ([]schedule.RawBusy, error) {
	objects, err := c.query(ctx, start, end)
	if err != nil {
		return nil, err
	}

	var raw []schedule.RawBusy
	for _, obj := range objects {
		raw = append(raw, busyFromCalendar(obj.Data, c.location)...)
	}
	c.logger.Info("Fetched busy intervals from CalDAV", "count", len(raw), "path", c.calendarPath)
	return raw, nil
}

// CreateFocusBlock writes a new VEVENT named after a fresh UID.
func (c *CalDAVClient) CreateFocusBlock(ctx context.Context, _ string, block *models.FocusBlock) (*models.Event, error) {
	block.ID = GenerateUID()
	if err := c.put(ctx, block); err != nil {
		return nil, err
	}
	c.logger.Info("Created focus block on CalDAV server", "uid", block.ID, "start", block.StartTime)
	return blockToEvent(block, c.calendarPath), nil
}

// UpdateFocusBlock overwrites the VEVENT stored under block.ID.
func (c *CalDAVClient) UpdateFocusBlock(ctx context.Context, _ string, block *models.FocusBlock) (*models.Event, error) {
	getCtx, st := trackStatus(ctx)
	if _, err := c.caldavClient.GetCalendarObject(getCtx, c.objectPath(block.ID)); err != nil {
		return nil, classify(err, st.code)
	}
	if err := c.put(ctx, block); err != nil {
		return nil, err
	}
	c.logger.Info("Updated focus block on CalDAV server", "uid", block.ID)
	return blockToEvent(block, c.calendarPath), nil
}

// DeleteFocusBlock removes the VEVENT stored under eventID.
func (c *CalDAVClient) DeleteFocusBlock(ctx context.Context, _ string, eventID string) error {
	ctx, st := trackStatus(ctx)
	if err := c.webdavClient.RemoveAll(ctx, c.objectPath(eventID)); err != nil {
		return classify(err, st.code)
	}
	c.logger.Info("Deleted focus block on CalDAV server", "uid", eventID)
	return nil
}

// ListEvents returns the events overlapping [start, end).
func (c *CalDAVClient) ListEvents(ctx context.Context, _ string, start, end time.Time) ([]*models.Event, error) {
	objects, err := c.query(ctx, start, end)
	if err != nil {
		return nil, err
	}
	var out []*models.Event
	for _, obj := range objects {
		out = append(out, eventsFromCalendar(obj.Data, c.location, c.calendarPath)...)
	}
	return out, nil
}

func (c *CalDAVClient) query(ctx context.Context, start, end time.Time) ([]caldav.CalendarObject, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}
	ctx, st := trackStatus(ctx)
	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, classify(err, st.code)
	}
	return objects, nil
}

func (c *CalDAVClient) put(ctx context.Context, block *models.FocusBlock) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calmhour//EN")
	cal.Children = append(cal.Children, toICal(block))

	ctx, st := trackStatus(ctx)
	writer, err := c.webdavClient.Create(ctx, c.objectPath(block.ID))
	if err != nil {
		return classify(err, st.code)
	}
	if err := ical.NewEncoder(writer).Encode(cal); err != nil {
		writer.Close()
		return fmt.Errorf("failed to encode event to iCal format: %w", err)
	}
	if err := writer.Close(); err != nil {
		return classify(err, st.code)
	}
	return nil
}

// objectPath is relative to the endpoint, as the webdav client expects.
func (c *CalDAVClient) objectPath(uid string) string {
	return path.Join(c.calendarPath, fmt.Sprintf("%s.ics", uid))
}

// toICal converts a focus block to a VEVENT component.
func toICal(block *models.FocusBlock) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, block.ID)
	ve.Props.SetText(ical.PropSummary, block.Summary())
	ve.Props.SetText(ical.PropDescription, block.Description())
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, block.StartTime.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, block.EndTime.UTC())
	ve.Props.SetText(focusProp, "TRUE")
	ve.Props.SetText(priorityProp, block.Priority.String())
	return ve
}

// busyFromCalendar extracts opaque VEVENT ranges. Events whose times cannot be read are passed
// through with their raw property values so the normalizer can log and drop them.
func busyFromCalendar(cal *ical.Calendar, loc *time.Location) []schedule.RawBusy {
	if cal == nil {
		return nil
	}
	var raw []schedule.RawBusy
	for _, ev := range cal.Events() {
		if transp := ev.Props.Get(ical.PropTransparency); transp != nil && strings.EqualFold(transp.Value, "TRANSPARENT") {
			continue
		}
		raw = append(raw, schedule.RawBusy{
			Start: formatProp(ev.DateTimeStart(loc)),
			End:   formatProp(ev.DateTimeEnd(loc)),
		})
	}
	return raw
}

func formatProp(t time.Time, err error) string {
	if err != nil {
		return fmt.Sprintf("invalid(%v)", err)
	}
	return t.Format(time.RFC3339)
}

func eventsFromCalendar(cal *ical.Calendar, loc *time.Location, source string) []*models.Event {
	if cal == nil {
		return nil
	}
	var out []*models.Event
	for _, ev := range cal.Events() {
		start, err := ev.DateTimeStart(loc)
		if err != nil {
			continue
		}
		end, err := ev.DateTimeEnd(loc)
		if err != nil {
			continue
		}
		e := &models.Event{
			StartTime: start,
			EndTime:   end,
			Source:    fmt.Sprintf("caldav-%s", source),
		}
		e.ID, _ = ev.Props.Text(ical.PropUID)
		e.Title, _ = ev.Props.Text(ical.PropSummary)
		e.Description, _ = ev.Props.Text(ical.PropDescription)
		if p := ev.Props.Get(ical.PropDateTimeStart); p != nil && p.ValueType() == ical.ValueDate {
			e.AllDay = true
		}
		if marker, _ := ev.Props.Text(focusProp); strings.EqualFold(marker, "TRUE") {
			e.IsFocus = true
			prio, _ := ev.Props.Text(priorityProp)
			if p, ok := models.ParsePriority(prio); ok {
				e.ColorID = p.ColorID()
			}
		}
		out = append(out, e)
	}
	return out
}

func blockToEvent(block *models.FocusBlock, source string) *models.Event {
	return &models.Event{
		ID:          block.ID,
		Title:       block.Summary(),
		Description: block.Description(),
		StartTime:   block.StartTime,
		EndTime:     block.EndTime,
		ColorID:     block.Priority.ColorID(),
		IsFocus:     true,
		Source:      fmt.Sprintf("caldav-%s", source),
	}
}

// classify maps a failed call and the last response status onto the schedule error taxonomy.
func classify(err error, status int) error {
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", schedule.ErrAuthExpired, err)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: %w", schedule.ErrEventNotFound, err)
	default:
		return fmt.Errorf("%w: %w", schedule.ErrUpstreamUnavailable, err)
	}
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
