package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"calmhour/internal/config"
	"calmhour/internal/models"
	"calmhour/internal/planner"
	"calmhour/internal/schedule"

	"github.com/gin-gonic/gin"
)

// MaxCount caps how many slots a single request may ask for.
const MaxCount = 50

func (s *Server) plannerFor(c *gin.Context) (*planner.Planner, bool) {
	p, err := s.resolve(c.Request.Context(), c.Param("account"))
	if err != nil {
		s.fail(c, "resolve account", err)
		return nil, false
	}
	return p, true
}

// findSlots handles GET /api/accounts/:account/slots.
func (s *Server) findSlots(c *gin.Context) {
	minutes, err := queryInt(c, "duration", 0)
	if err != nil {
		s.fail(c, "find slots", err)
		return
	}
	count, err := queryInt(c, "count", 1)
	if err != nil {
		s.fail(c, "find slots", err)
		return
	}
	days, err := queryInt(c, "days", 0)
	if err != nil {
		s.fail(c, "find slots", err)
		return
	}
	if err := checkCount(count); err != nil {
		s.fail(c, "find slots", err)
		return
	}
	duration, err := schedule.Minutes(minutes)
	if err != nil {
		s.fail(c, "find slots", err)
		return
	}
	var start time.Time
	if q := c.Query("start"); q != "" {
		if start, err = time.Parse(time.RFC3339, q); err != nil {
			s.fail(c, "find slots", fmt.Errorf("%w: start must be RFC 3339: %v", schedule.ErrInvalidRequest, err))
			return
		}
	}

	p, ok := s.plannerFor(c)
	if !ok {
		return
	}
	res, err := p.FindSlots(c.Request.Context(), schedule.Request{
		Duration:    duration,
		Start:       start,
		HorizonDays: days,
		MaxSlots:    count,
	})
	if err != nil {
		s.fail(c, "find slots", err)
		return
	}

	slots := res.Slots
	if slots == nil {
		slots = []schedule.Slot{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    res.Outcome(),
		"found":     len(res.Slots),
		"requested": res.Requested,
		"slots":     slots,
	})
}

type focusBlockBody struct {
	Duration    int       `json:"duration"`
	SessionName string    `json:"sessionName"`
	Priority    string    `json:"priority"`
	StartTime   time.Time `json:"startTime"`
	Count       int       `json:"count"`
	Days        int       `json:"days"`
}

func (b focusBlockBody) blockRequest() (planner.BlockRequest, error) {
	if b.Duration <= 0 {
		return planner.BlockRequest{}, fmt.Errorf("%w: duration must be a positive number of minutes", schedule.ErrInvalidRequest)
	}
	duration, err := schedule.Minutes(b.Duration)
	if err != nil {
		return planner.BlockRequest{}, err
	}
	priority, _ := models.ParsePriority(b.Priority)
	return planner.BlockRequest{
		Duration:    duration,
		Title:       b.SessionName,
		Priority:    priority,
		StartTime:   b.StartTime,
		Count:       b.Count,
		HorizonDays: b.Days,
	}, nil
}

func (s *Server) bindBlock(c *gin.Context, op string) (planner.BlockRequest, bool) {
	var body focusBlockBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, op, fmt.Errorf("%w: invalid request body: %v", schedule.ErrInvalidRequest, err))
		return planner.BlockRequest{}, false
	}
	req, err := body.blockRequest()
	if err != nil {
		s.fail(c, op, err)
		return planner.BlockRequest{}, false
	}
	return req, true
}

// createFocusBlock handles POST /api/accounts/:account/focus-blocks.
func (s *Server) createFocusBlock(c *gin.Context) {
	req, ok := s.bindBlock(c, "create focus block")
	if !ok {
		return
	}
	p, ok := s.plannerFor(c)
	if !ok {
		return
	}
	booking, err := p.ScheduleFocusBlock(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "create focus block", err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// findAndBlock handles POST /api/accounts/:account/focus-blocks/find-and-block.
func (s *Server) findAndBlock(c *gin.Context) {
	req, ok := s.bindBlock(c, "find and block")
	if !ok {
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if err := checkCount(req.Count); err != nil {
		s.fail(c, "find and block", err)
		return
	}
	p, ok := s.plannerFor(c)
	if !ok {
		return
	}
	booking, err := p.FindAndBlock(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "find and block", err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// updateFocusBlock handles PATCH /api/accounts/:account/focus-blocks/:id.
func (s *Server) updateFocusBlock(c *gin.Context) {
	var body focusBlockBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, "update focus block", fmt.Errorf("%w: invalid request body: %v", schedule.ErrInvalidRequest, err))
		return
	}
	duration, err := schedule.Minutes(body.Duration)
	if err != nil {
		s.fail(c, "update focus block", err)
		return
	}
	p, ok := s.plannerFor(c)
	if !ok {
		return
	}
	priority, _ := models.ParsePriority(body.Priority)
	ev, err := p.UpdateFocusBlock(c.Request.Context(), planner.UpdateRequest{
		ID:        c.Param("id"),
		StartTime: body.StartTime,
		Duration:  duration,
		Title:     body.SessionName,
		Priority:  priority,
	})
	if err != nil {
		s.fail(c, "update focus block", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": ev})
}

// deleteFocusBlock handles DELETE /api/accounts/:account/focus-blocks/:id.
func (s *Server) deleteFocusBlock(c *gin.Context) {
	p, ok := s.plannerFor(c)
	if !ok {
		return
	}
	id := c.Param("id")
	already, err := p.DeleteFocusBlock(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "delete focus block", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true, "alreadyDeleted": already})
}

// listEvents handles GET /api/accounts/:account/events.
func (s *Server) listEvents(c *gin.Context) {
	p, ok := s.plannerFor(c)
	if !ok {
		return
	}
	loc := p.Policy().Location
	start, err := parseDate(c.Query("startDate"), loc, false)
	if err != nil {
		s.fail(c, "list events", err)
		return
	}
	end, err := parseDate(c.Query("endDate"), loc, true)
	if err != nil {
		s.fail(c, "list events", err)
		return
	}

	events, err := p.ListEvents(c.Request.Context(), start, end)
	if err != nil {
		s.fail(c, "list events", err)
		return
	}
	if events == nil {
		events = []*models.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// getSettings handles GET /api/accounts/:account/settings.
func (s *Server) getSettings(c *gin.Context) {
	st, err := s.settings.Get(c.Param("account"))
	if err != nil {
		s.fail(c, "get settings", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// putSettings handles PUT /api/accounts/:account/settings.
func (s *Server) putSettings(c *gin.Context) {
	var body config.Settings
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, "put settings", fmt.Errorf("%w: invalid request body: %v", schedule.ErrInvalidRequest, err))
		return
	}
	st, err := s.settings.Put(c.Param("account"), body)
	if err != nil {
		s.fail(c, "put settings", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// connect handles GET /api/accounts/:account/connect.
func (s *Server) connect(c *gin.Context) {
	if !s.requireConnector(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"authUrl": s.connector.AuthURL(c.Param("account"))})
}

// callback handles POST /api/accounts/:account/callback.
func (s *Server) callback(c *gin.Context) {
	if !s.requireConnector(c) {
		return
	}
	var body struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, "oauth callback", fmt.Errorf("%w: invalid request body: %v", schedule.ErrInvalidRequest, err))
		return
	}
	if err := s.connector.Exchange(c.Request.Context(), c.Param("account"), body.Code); err != nil {
		s.fail(c, "oauth callback", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}

// disconnect handles DELETE /api/accounts/:account/connection.
func (s *Server) disconnect(c *gin.Context) {
	if !s.requireConnector(c) {
		return
	}
	if err := s.connector.Disconnect(c.Request.Context(), c.Param("account")); err != nil {
		s.fail(c, "disconnect", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": false})
}

func (s *Server) requireConnector(c *gin.Context) bool {
	if s.connector == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{
			"error":   "not supported",
			"message": "the configured calendar backend does not use OAuth",
		})
		return false
	}
	return true
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	q := c.Query(name)
	if q == "" {
		return def, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", schedule.ErrInvalidRequest, name, q)
	}
	return n, nil
}

func checkCount(count int) error {
	if count < 1 || count > MaxCount {
		return fmt.Errorf("%w: count must be between 1 and %d, got %d", schedule.ErrInvalidRequest, MaxCount, count)
	}
	return nil
}

// parseDate accepts RFC 3339 or YYYY-MM-DD. A bare end date covers that whole day.
func parseDate(s string, loc *time.Location, end bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", schedule.ErrInvalidRequest, s)
	}
	if end {
		d = d.AddDate(0, 0, 1)
	}
	return d, nil
}
