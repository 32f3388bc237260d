package ics

import (
	"sort"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"fieldcal/internal/model"
)

const icsUTC = "20060102T150405Z"

// FieldNamer resolves a field id to a display name.
type FieldNamer func(id int64) string

// Export renders s as a VCALENDAR. Masters carry their RRULE and EXDATEs,
// exceptions are emitted with RECURRENCE-ID, and deleted exceptions become
// EXDATEs on their master.
func Export(s *model.Schedule, names FieldNamer, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//fieldcal//schedule export//EN")
	if s.Name != "" {
		cal.SetXWRCalName(s.Name)
	}

	cancelled := make(map[string][]time.Time)
	for _, e := range s.Entries {
		if e.Kind == model.KindException && e.Deleted {
			cancelled[e.UID] = append(cancelled[e.UID], e.RecurrenceID)
		}
	}

	for _, e := range s.Entries {
		switch e.Kind {
		case model.KindStandalone:
			addEvent(cal, e, names, stamp)
		case model.KindMaster:
			ev := addEvent(cal, e, names, stamp)
			ev.AddRrule(e.RRule)
			exdates := append(append([]time.Time(nil), e.ExDates...), cancelled[e.UID]...)
			for _, x := range uniqueUTC(exdates) {
				ev.AddProperty(ical.ComponentPropertyExdate, x)
			}
		case model.KindException:
			if e.Deleted {
				continue
			}
			ev := addEvent(cal, e, names, stamp)
			ev.SetProperty(propRecurrenceID, e.RecurrenceID.UTC().Format(icsUTC))
		}
	}
	return cal.Serialize()
}

func addEvent(cal *ical.Calendar, e *model.Entry, names FieldNamer, stamp time.Time) *ical.VEvent {
	ev := cal.AddEvent(e.UID)
	ev.SetDtStampTime(stamp)
	ev.SetStartAt(e.Start)
	ev.SetEndAt(e.End)
	if e.Title != "" {
		ev.SetSummary(e.Title)
	}
	if e.FieldID != nil {
		ev.SetProperty(PropFieldID, strconv.FormatInt(*e.FieldID, 10))
		if names != nil {
			if n := names(*e.FieldID); n != "" {
				ev.SetLocation(n)
			}
		}
	}
	if e.TeamID != nil {
		ev.SetProperty(PropTeamID, strconv.FormatInt(*e.TeamID, 10))
	}
	return ev
}

func uniqueUTC(ts []time.Time) []string {
	sorted := append([]time.Time(nil), ts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	out := make([]string, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, t := range sorted {
		v := t.UTC().Format(icsUTC)
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
