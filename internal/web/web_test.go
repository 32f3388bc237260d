package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldcal/internal/config"
	"fieldcal/internal/field"
	"fieldcal/internal/model"
	"fieldcal/internal/store"
	"fieldcal/internal/timeutil"
	"fieldcal/internal/view"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSyncer struct {
	fail   bool
	nextID int64
}

func (s *stubSyncer) Submit(_ context.Context, e *model.Entry, _ int64, isNew bool) store.SyncResult {
	if s.fail {
		return store.SyncResult{Err: errors.New("database locked")}
	}
	if !isNew {
		return store.SyncResult{Success: true, DurableID: e.ID}
	}
	s.nextID++
	return store.SyncResult{Success: true, DurableID: 500 + s.nextID}
}

func (s *stubSyncer) Delete(context.Context, []int64) error { return nil }

func at(day time.Time, h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

var monday = timeutil.Date(2024, time.January, 8)

func newTestServer(t *testing.T, cfg *config.Config, syncer store.Syncer) (*Server, *store.Store) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	from := timeutil.Date(2024, time.January, 1)
	until := timeutil.Date(2024, time.June, 30)

	st := store.New(syncer)
	st.Load([]*model.Schedule{{
		ID:          1,
		Name:        "Spring",
		ActiveFrom:  &from,
		ActiveUntil: &until,
		Entries: []*model.Entry{
			{UID: "u15", ID: 100, Kind: model.KindMaster, Title: "U15", Start: at(monday, 16, 0), End: at(monday, 17, 30),
				FieldID: model.ID(10), RRule: "FREQ=WEEKLY;BYDAY=MO"},
		},
	}})
	fields := field.Build([]model.FieldRecord{
		{ID: 1, Name: "Main", Kind: model.NodeFull},
		{ID: 10, ParentID: model.ID(1), Name: "Main A", Kind: model.NodeHalf},
		{ID: 11, ParentID: model.ID(1), Name: "Main B", Kind: model.NodeHalf},
	})

	s, err := NewServer(cfg, st, fields)
	require.NoError(t, err)
	s.now = func() time.Time { return at(monday, 12, 0) }
	return s, st
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, store.New(nil), field.Build(nil))
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	w := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "coach", Password: "secret"}
	s, _ := newTestServer(t, cfg, nil)

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", "").Code)

	w := do(s, http.MethodGet, "/api/schedules", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), `realm="fieldcal"`)

	req := httptest.NewRequest(http.MethodGet, "/api/schedules", nil)
	req.SetBasicAuth("coach", "wrong")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/schedules", nil)
	req.SetBasicAuth("coach", "secret")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBasicAuth_EmptyCredentialsDisable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "coach"}
	s, _ := newTestServer(t, cfg, nil)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/schedules", "").Code)
}

func TestSchedulesAndSelect(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	w := do(s, http.MethodGet, "/api/schedules", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp schedulesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Selected)
	require.Len(t, resp.Schedules, 1)
	assert.Equal(t, "Spring", resp.Schedules[0].Name)
	assert.Equal(t, 1, resp.Schedules[0].Entries)

	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/schedules/1/select", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/api/schedules/9/select", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/schedules/abc/select", "").Code)
}

func TestFields(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	w := do(s, http.MethodGet, "/api/fields", "")
	require.Equal(t, http.StatusOK, w.Code)

	var out []fieldResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "Main", out[0].Name)
	assert.Equal(t, 2, out[0].Columns)
	assert.Len(t, out[0].Halves, 2)
}

func TestDay(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	w := do(s, http.MethodGet, "/api/schedules/1/day?date=2024-01-15&fields=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p view.Pass
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "2024-01-15", p.Date)
	assert.Equal(t, 2, p.TotalColumns)
	require.Len(t, p.Blocks, 1)
	assert.Equal(t, "u15@2024-01-15", p.Blocks[0].UIID)
	assert.Equal(t, 2, p.Blocks[0].ColIndex)

	// Defaults to today.
	w = do(s, http.MethodGet, "/api/schedules/1/day", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "2024-01-08", p.Date)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/schedules/1/day?date=15.01.2024", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/schedules/1/day?fields=1,x", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/schedules/2/day", "").Code)
}

func TestCreateUpdateDelete(t *testing.T) {
	s, st := newTestServer(t, nil, &stubSyncer{})

	w := do(s, http.MethodPost, "/api/schedules/1/entries",
		`{"title":"Friendly","start":"2024-01-10T18:00:00Z","end":"2024-01-10T19:30:00Z","field_id":11}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created entryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "standalone", created.Kind)
	assert.Equal(t, int64(501), created.ID)
	assert.NotEmpty(t, created.UID)

	w = do(s, http.MethodPatch, "/api/schedules/1/entries/"+created.UID, `{"title":"Cup match","clear_field":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated entryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Cup match", updated.Title)
	assert.Nil(t, updated.FieldID)

	// One occurrence of the series becomes an exception.
	w = do(s, http.MethodPatch, "/api/schedules/1/entries/u15?recurrence_id=2024-01-15T16:00:00Z",
		`{"start":"2024-01-15T17:00:00Z","end":"2024-01-15T18:30:00Z"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ex entryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ex))
	assert.Equal(t, "exception", ex.Kind)
	require.NotNil(t, ex.RecurrenceID)
	assert.True(t, ex.RecurrenceID.Equal(at(monday.AddDate(0, 0, 7), 16, 0)))

	w = do(s, http.MethodDelete, "/api/schedules/1/entries/u15?recurrence_id=2024-01-22T16:00:00Z", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, findEntry(st.Schedule(1), "u15", model.KindMaster).ExDates, 1)

	w = do(s, http.MethodDelete, "/api/schedules/1/entries/"+created.UID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, findEntry(st.Schedule(1), created.UID, model.KindStandalone))
}

func findEntry(s *model.Schedule, uid string, kind model.Kind) *model.Entry {
	for _, e := range s.Entries {
		if e.UID == uid && e.Kind == kind {
			return e
		}
	}
	return nil
}

func TestCreate_Validation(t *testing.T) {
	s, _ := newTestServer(t, nil, &stubSyncer{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"title":`},
		{"missing start", `{"end":"2024-01-10T19:30:00Z"}`},
		{"end before start", `{"start":"2024-01-10T19:00:00Z","end":"2024-01-10T18:00:00Z"}`},
		{"bad rule", `{"start":"2024-01-10T18:00:00Z","end":"2024-01-10T19:00:00Z","rrule":"FREQ=SOMETIMES"}`},
		{"exception without uid", `{"start":"2024-01-10T18:00:00Z","end":"2024-01-10T19:00:00Z","recurrence_id":"2024-01-08T16:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, http.MethodPost, "/api/schedules/1/entries", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreate_Master(t *testing.T) {
	s, _ := newTestServer(t, nil, &stubSyncer{})
	w := do(s, http.MethodPost, "/api/schedules/1/entries",
		`{"title":"U17","start":"2024-01-09T18:00:00Z","end":"2024-01-09T19:30:00Z","rrule":"RRULE:FREQ=WEEKLY;BYDAY=TU"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created entryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "master", created.Kind)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=TU", created.RRule)
}

func TestMutationErrors(t *testing.T) {
	s, st := newTestServer(t, nil, &stubSyncer{fail: true})

	w := do(s, http.MethodPatch, "/api/schedules/1/entries/u15", `{"title":"Renamed"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "U15", findEntry(st.Schedule(1), "u15", model.KindMaster).Title)

	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPatch, "/api/schedules/1/entries/ghost", `{"title":"x"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodDelete, "/api/schedules/7/entries/u15", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodDelete, "/api/schedules/1/entries/u15?recurrence_id=monday", "").Code)
}

func TestDuplicate(t *testing.T) {
	s, st := newTestServer(t, nil, &stubSyncer{})
	w := do(s, http.MethodPost, "/api/schedules/1/entries/u15/duplicate", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var dup entryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dup))
	assert.NotEqual(t, "u15", dup.UID)
	assert.Equal(t, "master", dup.Kind)
	assert.Len(t, st.Schedule(1).Entries, 2)
}

func TestExport(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	w := do(s, http.MethodGet, "/api/schedules/1/export.ics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "schedule-1.ics")

	body := w.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "UID:u15")
	assert.Contains(t, body, "LOCATION:Main A")
}

func TestParseIDList(t *testing.T) {
	ids, err := ParseIDList(" 3, 1 ")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, ids)

	ids, err = ParseIDList("")
	require.NoError(t, err)
	assert.Nil(t, ids)

	_, err = ParseIDList("1,,2")
	assert.Error(t, err)
}
