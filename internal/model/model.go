package model

import (
	"time"
)

// Kind classifies a schedule entry. Every switch over Kind must handle all
// three variants.
type Kind int

const (
	// KindStandalone is a one-off block without a recurrence rule.
	KindStandalone Kind = iota
	// KindMaster carries a recurrence rule and optional exdates.
	KindMaster
	// KindException overrides one occurrence of a master, pinned by
	// RecurrenceID.
	KindException
)

func (k Kind) String() string {
	switch k {
	case KindStandalone:
		return "standalone"
	case KindMaster:
		return "master"
	case KindException:
		return "exception"
	default:
		return "unknown"
	}
}

// NodeKind is the level of a field in its containment tree.
type NodeKind string

const (
	NodeFull    NodeKind = "full"
	NodeHalf    NodeKind = "half"
	NodeQuarter NodeKind = "quarter"
)

// SizeClass is the physical size of a playing surface.
type SizeClass string

const (
	SizeLarge  SizeClass = "large"
	SizeMedium SizeClass = "medium"
	SizeSmall  SizeClass = "small"
	SizeMini   SizeClass = "mini"
)

// Window is a clock interval on one weekday, in minutes after midnight.
type Window struct {
	Weekday time.Weekday `json:"weekday"`
	From    int          `json:"from"`
	To      int          `json:"to"`
}

// Field is one node of the full → half → quarter hierarchy.
type Field struct {
	ID       int64
	ParentID *int64
	Name     string
	Size     SizeClass
	Kind     NodeKind

	// Halves are the direct children of a full field, in record order.
	Halves []*Field
	// Quarters are the direct children of a half field, or the derived
	// quarter descendants of a full field.
	Quarters []*Field

	Availability []Window
}

// Entry is one stored schedule record.
type Entry struct {
	UID string
	// ID is the persisted id: zero when never persisted, negative while it
	// is a temporary id awaiting a durable one.
	ID int64

	Kind Kind

	Title   string
	Start   time.Time
	End     time.Time
	FieldID *int64
	TeamID  *int64

	// Master only.
	RRule   string
	ExDates []time.Time

	// Exception only.
	RecurrenceID time.Time
	Deleted      bool
}

func (e *Entry) Durable() bool   { return e.ID > 0 }
func (e *Entry) Temporary() bool { return e.ID < 0 }

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	c := *e
	c.FieldID = CloneID(e.FieldID)
	c.TeamID = CloneID(e.TeamID)
	if e.ExDates != nil {
		c.ExDates = append([]time.Time(nil), e.ExDates...)
	}
	return &c
}

// Schedule groups the entries of one season or plan. A schedule without
// an active window is a draft.
type Schedule struct {
	ID          int64
	Name        string
	ActiveFrom  *time.Time
	ActiveUntil *time.Time
	CreatedAt   time.Time

	Entries []*Entry
}

func (s *Schedule) Draft() bool {
	return s.ActiveFrom == nil && s.ActiveUntil == nil
}

// Clone returns a deep copy of s including its entries.
func (s *Schedule) Clone() *Schedule {
	c := *s
	c.Entries = make([]*Entry, len(s.Entries))
	for i, e := range s.Entries {
		c.Entries[i] = e.Clone()
	}
	return &c
}

// Occurrence is a concrete projection of an entry onto one date. It is
// never persisted.
type Occurrence struct {
	// UIID combines the entry uid and the date.
	UIID    string
	UID     string
	EntryID int64
	Kind    Kind
	Title   string
	Date    time.Time
	Start   time.Time
	End     time.Time
	FieldID *int64
	TeamID  *int64

	// IsRecurring marks occurrences produced by rule expansion.
	IsRecurring bool
	// RecurrenceID identifies the occurrence within its series: the
	// original start for expanded occurrences, the pinned timestamp for
	// exceptions, zero for standalone entries.
	RecurrenceID time.Time

	Conflicts []string
	Offset    int
}

// RecurrenceRef returns the recurrence identity used to address this
// occurrence in the mutation store, or nil for standalone entries.
func (o Occurrence) RecurrenceRef() *time.Time {
	if o.RecurrenceID.IsZero() {
		return nil
	}
	t := o.RecurrenceID
	return &t
}

// CloneID copies an optional id.
func CloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// ID returns a pointer to v. Handy for optional field and team ids.
func ID(v int64) *int64 { return &v }

// SameID reports whether two optional ids are both nil or equal.
func SameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
