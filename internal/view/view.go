// Package view assembles everything the presentation layer needs to draw
// one day of a schedule.
package view

import (
	"time"

	"fieldcal/internal/field"
	"fieldcal/internal/grid"
	"fieldcal/internal/model"
	"fieldcal/internal/overlap"
	"fieldcal/internal/recur"
	"fieldcal/internal/timeutil"
)

// Block is one positioned occurrence.
type Block struct {
	UIID         string     `json:"ui_id"`
	UID          string     `json:"uid"`
	EntryID      int64      `json:"entry_id,omitempty"`
	Kind         string     `json:"kind"`
	Title        string     `json:"title,omitempty"`
	Start        time.Time  `json:"start"`
	End          time.Time  `json:"end"`
	FieldID      *int64     `json:"field_id,omitempty"`
	TeamID       *int64     `json:"team_id,omitempty"`
	IsRecurring  bool       `json:"is_recurring"`
	RecurrenceID *time.Time `json:"recurrence_id,omitempty"`
	Conflicts    []string   `json:"conflicts"`
	Offset       int        `json:"offset"`

	// Grid placement. Unplaced blocks have no field in the current
	// column set and ColIndex 0.
	ColIndex int  `json:"col_index"`
	ColSpan  int  `json:"col_span"`
	StartRow int  `json:"start_row"`
	EndRow   int  `json:"end_row"`
	Unplaced bool `json:"unplaced,omitempty"`
}

// Pass is one render pass.
type Pass struct {
	ScheduleID   int64              `json:"schedule_id"`
	Date         string             `json:"date"`
	Draft        bool               `json:"draft"`
	Slots        []string           `json:"slots"`
	Columns      grid.Mapping       `json:"columns"`
	TotalColumns int                `json:"total_columns"`
	Headers      []grid.HeaderCell  `json:"headers"`
	Blocks       []Block            `json:"blocks"`
	Occurrences  []model.Occurrence `json:"-"`
}

// Build computes the pass for date. fullIDs selects and orders the main
// fields; when empty every root field is shown in record order.
func Build(s *model.Schedule, h *field.Hierarchy, fullIDs []int64, slots timeutil.SlotConfig, date, now time.Time) Pass {
	if len(fullIDs) == 0 {
		for _, r := range h.Roots() {
			fullIDs = append(fullIDs, r.ID)
		}
	}
	mapping := grid.Map(h, fullIDs)
	occs := overlap.Annotate(h, recur.ForDate(s, date, now))

	p := Pass{
		ScheduleID:   s.ID,
		Date:         timeutil.DayOf(date).Format(timeutil.DateLayout),
		Draft:        s.Draft(),
		Slots:        slots.Times(),
		Columns:      mapping,
		TotalColumns: mapping.TotalColumns(),
		Headers:      grid.Headers(h, fullIDs),
		Blocks:       make([]Block, 0, len(occs)),
		Occurrences:  occs,
	}
	n := slots.Count()
	for _, o := range occs {
		b := Block{
			UIID:         o.UIID,
			UID:          o.UID,
			EntryID:      o.EntryID,
			Kind:         o.Kind.String(),
			Title:        o.Title,
			Start:        o.Start,
			End:          o.End,
			FieldID:      o.FieldID,
			TeamID:       o.TeamID,
			IsRecurring:  o.IsRecurring,
			RecurrenceID: o.RecurrenceRef(),
			Conflicts:    o.Conflicts,
			Offset:       o.Offset,
		}
		b.StartRow, b.EndRow = rows(slots, n, o)
		if o.FieldID != nil {
			if c, ok := mapping[*o.FieldID]; ok {
				b.ColIndex, b.ColSpan = c.Index, c.Span
			}
		}
		b.Unplaced = b.ColIndex == 0
		p.Blocks = append(p.Blocks, b)
	}
	return p
}

// rows returns the inclusive slot rows of o, clamped to the grid.
func rows(slots timeutil.SlotConfig, n int, o model.Occurrence) (int, int) {
	if n == 0 {
		return 0, 0
	}
	start := clamp(slots.RowOf(o.Start), 0, n-1)
	endMin := timeutil.MinutesOf(o.Start) + int(o.End.Sub(o.Start)/time.Minute)
	end := (endMin - slots.DayStart + slots.Step - 1) / slots.Step
	end = clamp(end-1, 0, n-1)
	if end < start {
		end = start
	}
	return start, end
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
