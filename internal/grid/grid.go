// Package grid lays the field hierarchy out into calendar columns.
package grid

import (
	"sort"

	"fieldcal/internal/field"
	"fieldcal/internal/model"
)

// FirstColumn is the index of the first data column; column 1 holds the
// time axis.
const FirstColumn = 2

// Column is the placement of one field in the grid.
type Column struct {
	Index int `json:"col_index"`
	Span  int `json:"col_span"`
}

// Mapping maps field ids to their column placement.
type Mapping map[int64]Column

// TotalColumns returns the number of data columns covered by m.
func (m Mapping) TotalColumns() int {
	last := FirstColumn
	for _, c := range m {
		if end := c.Index + c.Span; end > last {
			last = end
		}
	}
	return last - FirstColumn
}

// Map assigns columns to the given full fields and all their descendants,
// depth first in the given order. Ids that are unknown or not full fields
// are skipped. The result depends only on the order and the hierarchy.
func Map(h *field.Hierarchy, fullIDs []int64) Mapping {
	m := make(Mapping)
	col := FirstColumn
	for _, id := range fullIDs {
		f := h.Get(id)
		if f == nil || f.Kind != model.NodeFull {
			continue
		}
		if _, seen := m[id]; seen {
			continue
		}
		span := h.ColumnCount(id)
		m[id] = Column{Index: col, Span: span}

		sub := col
		for _, half := range f.Halves {
			hs := h.ColumnCount(half.ID)
			m[half.ID] = Column{Index: sub, Span: hs}
			for i, q := range half.Quarters {
				m[q.ID] = Column{Index: sub + i, Span: 1}
			}
			sub += hs
		}
		col += span
	}
	return m
}

// HeaderCell labels one leaf column.
type HeaderCell struct {
	FieldID  int64  `json:"field_id"`
	RootID   int64  `json:"root_id"`
	Label    string `json:"label"`
	ColIndex int    `json:"col_index"`
	Level    int    `json:"level"`
}

// Headers returns one cell per leaf column, labelled with the deepest
// populated node covering it.
func Headers(h *field.Hierarchy, fullIDs []int64) []HeaderCell {
	m := Map(h, fullIDs)
	var out []HeaderCell
	seen := make(map[int64]bool)
	for _, id := range fullIDs {
		f := h.Get(id)
		if f == nil || f.Kind != model.NodeFull || seen[id] {
			continue
		}
		seen[id] = true
		if len(f.Halves) == 0 {
			out = append(out, headerFor(f, f, m))
			continue
		}
		for _, half := range f.Halves {
			if len(half.Quarters) == 0 {
				out = append(out, headerFor(f, half, m))
				continue
			}
			for _, q := range half.Quarters {
				out = append(out, headerFor(f, q, m))
			}
		}
	}
	return out
}

func headerFor(root, f *model.Field, m Mapping) HeaderCell {
	return HeaderCell{
		FieldID:  f.ID,
		RootID:   root.ID,
		Label:    f.Name,
		ColIndex: m[f.ID].Index,
		Level:    field.Level(f),
	}
}

// Candidate is one placement option for a block dragged within a main
// field.
type Candidate struct {
	FieldID  int64 `json:"field_id"`
	ColIndex int   `json:"col_index"`
	Width    int   `json:"width"`
	Level    int   `json:"level"`
}

// Candidates lists the placements available inside a full field: the
// field itself, its halves and its quarters, sorted by column index then
// width.
func Candidates(h *field.Hierarchy, m Mapping, fullID int64) []Candidate {
	f := h.Get(fullID)
	if f == nil || f.Kind != model.NodeFull {
		return nil
	}
	col, ok := m[fullID]
	if !ok {
		return nil
	}
	out := []Candidate{{FieldID: f.ID, ColIndex: col.Index, Width: col.Span, Level: 0}}
	for _, half := range f.Halves {
		hc := m[half.ID]
		out = append(out, Candidate{FieldID: half.ID, ColIndex: hc.Index, Width: hc.Span, Level: 1})
		for _, q := range half.Quarters {
			qc := m[q.ID]
			out = append(out, Candidate{FieldID: q.ID, ColIndex: qc.Index, Width: qc.Span, Level: 2})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ColIndex != out[j].ColIndex {
			return out[i].ColIndex < out[j].ColIndex
		}
		return out[i].Width < out[j].Width
	})
	return out
}
