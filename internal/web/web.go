package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fieldcal/internal/config"
	"fieldcal/internal/field"
	"fieldcal/internal/ics"
	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
	"fieldcal/internal/recur"
	"fieldcal/internal/store"
	"fieldcal/internal/timeutil"
	"fieldcal/internal/view"
)

// Server provides the JSON API over the mutation store.
type Server struct {
	cfg    *config.Config
	store  *store.Store
	fields *field.Hierarchy
	slots  timeutil.SlotConfig
	now    func() time.Time
	router *gin.Engine
}

// NewServer constructs a Server. fields may be empty but not nil.
func NewServer(cfg *config.Config, st *store.Store, fields *field.Hierarchy) (*Server, error) {
	if cfg == nil || st == nil || fields == nil {
		return nil, errors.New("web: config, store and fields are required")
	}
	slots, err := cfg.Slots()
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:    cfg,
		store:  st,
		fields: fields,
		slots:  slots,
		now:    func() time.Time { return time.Now().UTC() },
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), requestLogger())
	s.registerRoutes()
	return s, nil
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("http shutdown failed", err)
		}
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes() {
	// /health is always reachable without credentials.
	s.router.GET("/health", handleHealth())

	api := s.router.Group("/api")
	if s.basicAuthEnabled() {
		api.Use(basicAuth(s.cfg.BasicAuth.Username, s.cfg.BasicAuth.Password))
	}
	api.GET("/fields", s.handleFields())
	api.GET("/schedules", s.handleSchedules())
	api.POST("/schedules/:id/select", s.handleSelect())
	api.GET("/schedules/:id/day", s.handleDay())
	api.GET("/schedules/:id/export.ics", s.handleExport())
	api.POST("/schedules/:id/entries", s.handleCreate())
	api.PATCH("/schedules/:id/entries/:uid", s.handleUpdate())
	api.DELETE("/schedules/:id/entries/:uid", s.handleDelete())
	api.POST("/schedules/:id/entries/:uid/duplicate", s.handleDuplicate())
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func basicAuth(username, password string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, p, ok := c.Request.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			c.Header("WWW-Authenticate", `Basic realm="fieldcal", charset="UTF-8"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	}
}

type fieldResponse struct {
	ID           int64            `json:"id"`
	ParentID     *int64           `json:"parent_id,omitempty"`
	Name         string           `json:"name"`
	Size         model.SizeClass  `json:"size,omitempty"`
	Kind         model.NodeKind   `json:"kind"`
	Columns      int              `json:"columns"`
	Availability []model.Window   `json:"availability,omitempty"`
	Halves       []*fieldResponse `json:"halves,omitempty"`
	Quarters     []*fieldResponse `json:"quarters,omitempty"`
}

func (s *Server) fieldTree(f *model.Field) *fieldResponse {
	out := &fieldResponse{
		ID:           f.ID,
		ParentID:     f.ParentID,
		Name:         f.Name,
		Size:         f.Size,
		Kind:         f.Kind,
		Columns:      s.fields.ColumnCount(f.ID),
		Availability: f.Availability,
	}
	for _, h := range f.Halves {
		out.Halves = append(out.Halves, s.fieldTree(h))
	}
	// Full fields list their quarters through the halves.
	if f.Kind == model.NodeHalf {
		for _, q := range f.Quarters {
			out.Quarters = append(out.Quarters, s.fieldTree(q))
		}
	}
	return out
}

func (s *Server) handleFields() gin.HandlerFunc {
	return func(c *gin.Context) {
		roots := s.fields.Roots()
		out := make([]*fieldResponse, 0, len(roots))
		for _, r := range roots {
			out = append(out, s.fieldTree(r))
		}
		c.JSON(http.StatusOK, out)
	}
}

type schedulesResponse struct {
	Selected  int64           `json:"selected"`
	Schedules []store.Summary `json:"schedules"`
}

func (s *Server) handleSchedules() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := schedulesResponse{Schedules: s.store.Summaries()}
		if sel := s.store.Selected(); sel != nil {
			resp.Selected = sel.ID
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) handleSelect() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleParam(c)
		if !ok {
			return
		}
		if !s.store.Select(id) {
			writeError(c, http.StatusNotFound, "schedule not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"selected": id})
	}
}

// handleDay returns one render pass.
//
// GET /api/schedules/:id/day?date=2024-01-08&fields=1,2
//   - date:   calendar day, defaults to today (UTC)
//   - fields: main field ids in column order, defaults to all
func (s *Server) handleDay() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleParam(c)
		if !ok {
			return
		}
		sched := s.store.Schedule(id)
		if sched == nil {
			writeError(c, http.StatusNotFound, "schedule not found")
			return
		}

		date := timeutil.DayOf(s.now())
		if q := c.Query("date"); q != "" {
			d, err := timeutil.ParseDate(q)
			if err != nil {
				writeError(c, http.StatusBadRequest, "invalid date")
				return
			}
			date = d
		}
		fullIDs, err := ParseIDList(c.Query("fields"))
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid fields")
			return
		}

		c.JSON(http.StatusOK, view.Build(sched, s.fields, fullIDs, s.slots, date, s.now()))
	}
}

func (s *Server) handleExport() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleParam(c)
		if !ok {
			return
		}
		sched := s.store.Schedule(id)
		if sched == nil {
			writeError(c, http.StatusNotFound, "schedule not found")
			return
		}
		body := ics.Export(sched, s.fieldName, s.now())
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="schedule-%d.ics"`, id))
		c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
	}
}

func (s *Server) fieldName(id int64) string {
	if f := s.fields.Get(id); f != nil {
		return f.Name
	}
	return ""
}

// entryRequest creates a standalone entry, a master (rrule set) or an
// exception (recurrence_id set).
type entryRequest struct {
	UID          string     `json:"uid"`
	Title        string     `json:"title"`
	Start        time.Time  `json:"start" binding:"required"`
	End          time.Time  `json:"end" binding:"required"`
	FieldID      *int64     `json:"field_id"`
	TeamID       *int64     `json:"team_id"`
	RRule        string     `json:"rrule"`
	RecurrenceID *time.Time `json:"recurrence_id"`
}

func (r entryRequest) entry() (*model.Entry, error) {
	if !r.End.After(r.Start) {
		return nil, errors.New("end must be after start")
	}
	e := &model.Entry{
		UID:     r.UID,
		Kind:    model.KindStandalone,
		Title:   r.Title,
		Start:   r.Start.UTC(),
		End:     r.End.UTC(),
		FieldID: r.FieldID,
		TeamID:  r.TeamID,
	}
	switch {
	case r.RecurrenceID != nil:
		if r.UID == "" || r.RRule != "" {
			return nil, errors.New("an exception needs a uid and no rrule")
		}
		e.Kind = model.KindException
		e.RecurrenceID = r.RecurrenceID.UTC()
	case r.RRule != "":
		if err := recur.Validate(r.RRule); err != nil {
			return nil, err
		}
		e.Kind = model.KindMaster
		e.RRule = recur.Normalize(r.RRule)
	}
	return e, nil
}

// patchRequest lists the attributes to change. Absent keys are left alone.
type patchRequest struct {
	Title      *string    `json:"title"`
	Start      *time.Time `json:"start"`
	End        *time.Time `json:"end"`
	FieldID    *int64     `json:"field_id"`
	ClearField bool       `json:"clear_field"`
	TeamID     *int64     `json:"team_id"`
	ClearTeam  bool       `json:"clear_team"`
}

func (r patchRequest) changes() (store.Changes, error) {
	if r.Start != nil && r.End != nil && !r.End.After(*r.Start) {
		return store.Changes{}, errors.New("end must be after start")
	}
	ch := store.Changes{Title: r.Title}
	if r.Start != nil {
		t := r.Start.UTC()
		ch.Start = &t
	}
	if r.End != nil {
		t := r.End.UTC()
		ch.End = &t
	}
	if r.FieldID != nil || r.ClearField {
		ch.FieldID, ch.SetField = r.FieldID, true
		if r.ClearField {
			ch.FieldID = nil
		}
	}
	if r.TeamID != nil || r.ClearTeam {
		ch.TeamID, ch.SetTeam = r.TeamID, true
		if r.ClearTeam {
			ch.TeamID = nil
		}
	}
	return ch, nil
}

type entryResponse struct {
	UID          string      `json:"uid"`
	ID           int64       `json:"id"`
	Kind         string      `json:"kind"`
	Title        string      `json:"title,omitempty"`
	Start        time.Time   `json:"start"`
	End          time.Time   `json:"end"`
	FieldID      *int64      `json:"field_id,omitempty"`
	TeamID       *int64      `json:"team_id,omitempty"`
	RRule        string      `json:"rrule,omitempty"`
	ExDates      []time.Time `json:"exdates,omitempty"`
	RecurrenceID *time.Time  `json:"recurrence_id,omitempty"`
	Deleted      bool        `json:"deleted,omitempty"`
}

func newEntryResponse(e *model.Entry) entryResponse {
	out := entryResponse{
		UID:     e.UID,
		ID:      e.ID,
		Kind:    e.Kind.String(),
		Title:   e.Title,
		Start:   e.Start,
		End:     e.End,
		FieldID: e.FieldID,
		TeamID:  e.TeamID,
		RRule:   e.RRule,
		ExDates: e.ExDates,
		Deleted: e.Deleted,
	}
	if e.Kind == model.KindException {
		rid := e.RecurrenceID
		out.RecurrenceID = &rid
	}
	return out
}

func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleParam(c)
		if !ok {
			return
		}
		var req entryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		e, err := req.entry()
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		s.commit(c, http.StatusCreated, store.Mutation{Op: store.OpCreate, ScheduleID: id, Entry: e})
	}
}

// handleUpdate edits an entry. With recurrence_id (RFC 3339) a single
// occurrence of a series is edited, otherwise the base entry.
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleParam(c)
		if !ok {
			return
		}
		rid, ok := recurrenceParam(c)
		if !ok {
			return
		}
		var req patchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		ch, err := req.changes()
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		s.commit(c, http.StatusOK, store.Mutation{
			Op:           store.OpUpdate,
			ScheduleID:   id,
			UID:          c.Param("uid"),
			RecurrenceID: rid,
			Changes:      ch,
		})
	}
}

func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleParam(c)
		if !ok {
			return
		}
		rid, ok := recurrenceParam(c)
		if !ok {
			return
		}
		_, err := s.store.Commit(c.Request.Context(), store.Mutation{
			Op:           store.OpDelete,
			ScheduleID:   id,
			UID:          c.Param("uid"),
			RecurrenceID: rid,
		})
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleDuplicate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleParam(c)
		if !ok {
			return
		}
		s.commit(c, http.StatusCreated, store.Mutation{Op: store.OpDuplicate, ScheduleID: id, UID: c.Param("uid")})
	}
}

func (s *Server) commit(c *gin.Context, status int, m store.Mutation) {
	e, err := s.store.Commit(c.Request.Context(), m)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if e == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(status, newEntryResponse(e))
}

func scheduleParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "invalid schedule id")
		return 0, false
	}
	return id, true
}

func recurrenceParam(c *gin.Context) (*time.Time, bool) {
	q := c.Query("recurrence_id")
	if q == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, q)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid recurrence_id")
		return nil, false
	}
	t = t.UTC()
	return &t, true
}

// ParseIDList parses a comma separated id list such as "1, 2,3". An
// empty string yields nil.
func ParseIDList(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrDanglingReference):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrSyncFailed):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusBadRequest, err.Error())
	}
}
