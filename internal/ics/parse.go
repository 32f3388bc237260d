// Package ics reads and writes schedule entries as iCalendar.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
)

// Custom properties carrying the field and team assignment of an event.
const (
	PropFieldID ical.ComponentProperty = "X-FIELDCAL-FIELD-ID"
	PropTeamID  ical.ComponentProperty = "X-FIELDCAL-TEAM-ID"
)

const propRecurrenceID ical.ComponentProperty = "RECURRENCE-ID"

// ErrEmptyBody is returned for an empty payload.
var ErrEmptyBody = errors.New("ics: empty body")

// Parse reads the VEVENTs of body into flat entry records for scheduleID.
// Events that cannot be used (no UID, all-day, unreadable times) are
// skipped with a warning. Times are normalized to UTC.
func Parse(scheduleID int64, body []byte) ([]model.EntryRecord, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar: %w", err)
	}

	var out []model.EntryRecord
	for _, ve := range cal.Events() {
		rec, perr := parseEvent(ve)
		if perr != nil {
			appLog.Warn("ics: vevent skipped", "schedule_id", scheduleID, "error", perr.Error())
			continue
		}
		rec.ScheduleID = scheduleID
		out = append(out, rec)
	}

	appLog.Debug("ics: parse completed", "schedule_id", scheduleID, "events", len(out))
	return out, nil
}

func parseEvent(ve *ical.VEvent) (model.EntryRecord, error) {
	var rec model.EntryRecord

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return rec, errors.New("missing UID")
	}
	rec.UID = strings.TrimSpace(uid.Value)

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		rec.Title = p.Value
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return rec, fmt.Errorf("%s: missing DTSTART", rec.UID)
	}
	if allDay(dtstart) {
		return rec, fmt.Errorf("%s: all-day events are not schedulable", rec.UID)
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return rec, fmt.Errorf("%s: DTSTART: %w", rec.UID, err)
	}
	end, err := ve.GetEndAt()
	if err != nil || !end.After(start) {
		return rec, fmt.Errorf("%s: DTEND missing or not after DTSTART", rec.UID)
	}
	rec.Start, rec.End = start.UTC(), end.UTC()

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rec.RRule = strings.TrimSpace(p.Value)
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, perr := parseTime(part, tzid(p))
			if perr != nil {
				appLog.Warn("ics: exdate skipped", "uid", rec.UID, "value", part)
				continue
			}
			rec.ExDates = append(rec.ExDates, t)
		}
	}

	if p := ve.GetProperty(propRecurrenceID); p != nil {
		t, perr := parseTime(p.Value, tzid(p))
		if perr != nil {
			return rec, fmt.Errorf("%s: RECURRENCE-ID: %w", rec.UID, perr)
		}
		rec.RecurrenceID = &t
		if s := ve.GetProperty(ical.ComponentPropertyStatus); s != nil && strings.EqualFold(s.Value, "CANCELLED") {
			rec.Deleted = true
		}
	}

	rec.FieldID = idProperty(ve, PropFieldID)
	rec.TeamID = idProperty(ve, PropTeamID)
	return rec, nil
}

func allDay(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzid(p *ical.IANAProperty) string {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

func idProperty(ve *ical.VEvent, name ical.ComponentProperty) *int64 {
	p := ve.GetProperty(name)
	if p == nil {
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(p.Value), 10, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

// parseTime reads a DATE or DATE-TIME value. Floating times are read in
// the TZID zone when one is given and known, else in UTC.
func parseTime(v, tz string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	layout := "20060102"
	if strings.Contains(v, "T") {
		layout = "20060102T150405"
	}
	t, err := time.ParseInLocation(layout, v, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
