package recur

import (
	"sort"
	"time"

	"fieldcal/internal/model"
	"fieldcal/internal/timeutil"
)

// UIID builds the render id of an entry's occurrence on date.
func UIID(uid string, date time.Time) string {
	return uid + "@" + timeutil.DayOf(date).Format(timeutil.DateLayout)
}

// ScheduleWindow returns the active window of s. Drafts return a zero
// window.
func ScheduleWindow(s *model.Schedule) Window {
	var w Window
	if s.ActiveFrom != nil {
		w.From = timeutil.DayOf(*s.ActiveFrom)
	}
	if s.ActiveUntil != nil {
		// The until day is inclusive.
		w.Until = timeutil.DayOf(*s.ActiveUntil).AddDate(0, 0, 1)
	}
	return w
}

// ForDate returns the occurrences of s visible on date, sorted by start
// then UIID.
//
// Draft schedules (no active window) are previewed by weekday only: every
// master and standalone entry whose start falls on date's weekday is
// projected onto date, and exceptions are ignored.
// TODO: fold draft previews into full rule evaluation once drafts carry a
// provisional window.
func ForDate(s *model.Schedule, date time.Time, now time.Time) []model.Occurrence {
	if s == nil {
		return nil
	}
	day := timeutil.DayOf(date)
	var out []model.Occurrence
	if s.Draft() {
		out = draftForDate(s, day)
	} else {
		out = activeForDate(s, day, now)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].UIID < out[j].UIID
	})
	return out
}

func activeForDate(s *model.Schedule, day time.Time, now time.Time) []model.Occurrence {
	w := ScheduleWindow(s)
	if !w.From.IsZero() && day.Before(w.From) {
		return nil
	}
	if !w.Until.IsZero() && !day.Before(w.Until) {
		return nil
	}
	dayWindow := Window{From: day, Until: day.AddDate(0, 0, 1)}

	exceptions := make(map[string][]*model.Entry)
	for _, e := range s.Entries {
		if e.Kind == model.KindException {
			exceptions[e.UID] = append(exceptions[e.UID], e)
		}
	}

	var out []model.Occurrence
	for _, e := range s.Entries {
		switch e.Kind {
		case model.KindStandalone:
			if timeutil.SameDate(e.Start, day) {
				out = append(out, occurrenceOf(e, day, e.Start, e.End))
			}
		case model.KindMaster:
			for _, sp := range Expand(e, dayWindow, now) {
				if !timeutil.SameDate(sp.Start, day) {
					continue
				}
				if overridden(exceptions[e.UID], sp.Start) {
					continue
				}
				o := occurrenceOf(e, day, sp.Start, sp.End)
				o.IsRecurring = true
				o.RecurrenceID = sp.Start
				out = append(out, o)
			}
		case model.KindException:
			if e.Deleted || !timeutil.SameDate(e.Start, day) {
				continue
			}
			o := occurrenceOf(e, day, e.Start, e.End)
			o.RecurrenceID = e.RecurrenceID
			if !timeutil.SameDate(e.RecurrenceID, day) {
				// Moved in from another day; keep it apart from the
				// master's own occurrence on this date.
				o.UIID += "~" + timeutil.DayOf(e.RecurrenceID).Format(timeutil.DateLayout)
			}
			out = append(out, o)
		}
	}
	return out
}

func draftForDate(s *model.Schedule, day time.Time) []model.Occurrence {
	wd := timeutil.Weekday(day)
	var out []model.Occurrence
	for _, e := range s.Entries {
		switch e.Kind {
		case model.KindStandalone, model.KindMaster:
			if timeutil.Weekday(e.Start) != wd {
				continue
			}
			start := timeutil.Project(e.Start, day)
			o := occurrenceOf(e, day, start, start.Add(e.End.Sub(e.Start)))
			if e.Kind == model.KindMaster {
				o.IsRecurring = true
				o.RecurrenceID = start
			}
			out = append(out, o)
		case model.KindException:
		}
	}
	return out
}

// overridden reports whether an exception pins the occurrence starting at
// start, matching on date, hour and minute.
func overridden(exceptions []*model.Entry, start time.Time) bool {
	for _, ex := range exceptions {
		if timeutil.SameClock(ex.RecurrenceID, start) {
			return true
		}
	}
	return false
}

func occurrenceOf(e *model.Entry, day, start, end time.Time) model.Occurrence {
	return model.Occurrence{
		UIID:    UIID(e.UID, day),
		UID:     e.UID,
		EntryID: e.ID,
		Kind:    e.Kind,
		Title:   e.Title,
		Date:    day,
		Start:   start.UTC(),
		End:     end.UTC(),
		FieldID: model.CloneID(e.FieldID),
		TeamID:  model.CloneID(e.TeamID),
	}
}
