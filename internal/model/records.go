package model

import (
	"time"
)

// FieldRecord is the flat shape fields arrive in from storage.
type FieldRecord struct {
	ID           int64
	ParentID     *int64
	Name         string
	Size         SizeClass
	Kind         NodeKind
	Availability []Window
}

// EntryRecord is the flat shape entries arrive in from storage or ICS
// import. The variant is derived: a RecurrenceID makes an exception, a
// rule makes a master, anything else is standalone.
type EntryRecord struct {
	ID           int64
	ScheduleID   int64
	UID          string
	Title        string
	Start        time.Time
	End          time.Time
	FieldID      *int64
	TeamID       *int64
	RRule        string
	ExDates      []time.Time
	RecurrenceID *time.Time
	Deleted      bool
}

// EntryFromRecord converts a flat record into an Entry.
func EntryFromRecord(r EntryRecord) *Entry {
	e := &Entry{
		UID:     r.UID,
		ID:      r.ID,
		Title:   r.Title,
		Start:   r.Start.UTC(),
		End:     r.End.UTC(),
		FieldID: CloneID(r.FieldID),
		TeamID:  CloneID(r.TeamID),
	}
	switch {
	case r.RecurrenceID != nil:
		e.Kind = KindException
		e.RecurrenceID = r.RecurrenceID.UTC()
		e.Deleted = r.Deleted
	case r.RRule != "":
		e.Kind = KindMaster
		e.RRule = r.RRule
		for _, x := range r.ExDates {
			e.ExDates = append(e.ExDates, x.UTC())
		}
	default:
		e.Kind = KindStandalone
	}
	return e
}

// Record flattens e for storage.
func (e *Entry) Record(scheduleID int64) EntryRecord {
	r := EntryRecord{
		ID:         e.ID,
		ScheduleID: scheduleID,
		UID:        e.UID,
		Title:      e.Title,
		Start:      e.Start,
		End:        e.End,
		FieldID:    CloneID(e.FieldID),
		TeamID:     CloneID(e.TeamID),
	}
	switch e.Kind {
	case KindStandalone:
	case KindMaster:
		r.RRule = e.RRule
		r.ExDates = append([]time.Time(nil), e.ExDates...)
	case KindException:
		rid := e.RecurrenceID
		r.RecurrenceID = &rid
		r.Deleted = e.Deleted
	}
	return r
}
