// Package field assembles the full → half → quarter containment tree of
// playing surfaces and answers hierarchy queries over it.
package field

import (
	"time"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
	"fieldcal/internal/timeutil"
)

// Hierarchy is a read-only forest of fields with depth at most 3.
type Hierarchy struct {
	byID  map[int64]*model.Field
	roots []*model.Field
}

// Build assembles the forest from flat records. Records that break the
// full → half → quarter chain, or whose parent is unknown, are dropped
// with a warning. Children keep record order.
func Build(records []model.FieldRecord) *Hierarchy {
	h := &Hierarchy{byID: make(map[int64]*model.Field, len(records))}

	// Parents must exist before their children regardless of record order.
	for _, level := range []model.NodeKind{model.NodeFull, model.NodeHalf, model.NodeQuarter} {
		for _, rec := range records {
			if rec.Kind != level {
				continue
			}
			if _, dup := h.byID[rec.ID]; dup {
				appLog.Warn("field: duplicate id dropped", "field_id", rec.ID)
				continue
			}
			h.attach(rec)
		}
	}

	for _, rec := range records {
		switch rec.Kind {
		case model.NodeFull, model.NodeHalf, model.NodeQuarter:
		default:
			appLog.Warn("field: unknown node kind dropped", "field_id", rec.ID, "kind", rec.Kind)
		}
	}

	// Derived quarter descendants of each full field.
	for _, root := range h.roots {
		for _, half := range root.Halves {
			root.Quarters = append(root.Quarters, half.Quarters...)
		}
	}

	return h
}

func (h *Hierarchy) attach(rec model.FieldRecord) {
	f := &model.Field{
		ID:           rec.ID,
		Name:         rec.Name,
		Size:         rec.Size,
		Kind:         rec.Kind,
		Availability: append([]model.Window(nil), rec.Availability...),
	}
	if rec.ParentID != nil {
		pid := *rec.ParentID
		f.ParentID = &pid
	}

	if f.Kind == model.NodeFull {
		if f.ParentID != nil {
			appLog.Warn("field: full field with parent dropped", "field_id", f.ID, "parent_id", *f.ParentID)
			return
		}
		h.byID[f.ID] = f
		h.roots = append(h.roots, f)
		return
	}

	if f.ParentID == nil {
		appLog.Warn("field: sub-field without parent dropped", "field_id", f.ID, "kind", f.Kind)
		return
	}
	parent, ok := h.byID[*f.ParentID]
	if !ok {
		appLog.Warn("field: unknown parent reference dropped", "field_id", f.ID, "parent_id", *f.ParentID)
		return
	}

	switch {
	case f.Kind == model.NodeHalf && parent.Kind == model.NodeFull:
		parent.Halves = append(parent.Halves, f)
	case f.Kind == model.NodeQuarter && parent.Kind == model.NodeHalf:
		parent.Quarters = append(parent.Quarters, f)
	default:
		appLog.Warn("field: invalid parent kind dropped", "field_id", f.ID, "kind", f.Kind, "parent_kind", parent.Kind)
		return
	}
	h.byID[f.ID] = f
}

// Get returns the field with id, or nil.
func (h *Hierarchy) Get(id int64) *model.Field {
	return h.byID[id]
}

// Roots returns the full fields in record order.
func (h *Hierarchy) Roots() []*model.Field {
	return h.roots
}

// Root returns the enclosing full field of id, or nil for unknown ids.
func (h *Hierarchy) Root(id int64) *model.Field {
	f := h.byID[id]
	for f != nil && f.ParentID != nil {
		f = h.byID[*f.ParentID]
	}
	return f
}

// Related reports whether a and b are the same field or one contains the
// other. Nil and unknown ids are unrelated to everything.
func (h *Hierarchy) Related(a, b *int64) bool {
	if a == nil || b == nil {
		return false
	}
	fa, fb := h.byID[*a], h.byID[*b]
	if fa == nil || fb == nil {
		return false
	}
	if fa.ID == fb.ID {
		return true
	}
	return h.contains(fa, fb) || h.contains(fb, fa)
}

// contains reports whether outer is an ancestor of inner.
func (h *Hierarchy) contains(outer, inner *model.Field) bool {
	for p := inner; p.ParentID != nil; {
		p = h.byID[*p.ParentID]
		if p == nil {
			return false
		}
		if p.ID == outer.ID {
			return true
		}
	}
	return false
}

// ColumnCount returns the number of grid columns a field occupies. A
// half without quarters still counts as one column.
func (h *Hierarchy) ColumnCount(id int64) int {
	f := h.byID[id]
	if f == nil {
		return 0
	}
	switch f.Kind {
	case model.NodeFull:
		if len(f.Halves) == 0 {
			return 1
		}
		n := 0
		for _, half := range f.Halves {
			n += max(1, len(half.Quarters))
		}
		return n
	case model.NodeHalf:
		return max(1, len(f.Quarters))
	default:
		return 1
	}
}

// Quarters returns the quarter descendants of id.
func (h *Hierarchy) Quarters(id int64) []*model.Field {
	f := h.byID[id]
	if f == nil || f.Kind == model.NodeQuarter {
		return nil
	}
	return f.Quarters
}

// Level returns 0 for full, 1 for half and 2 for quarter fields.
func Level(f *model.Field) int {
	switch f.Kind {
	case model.NodeHalf:
		return 1
	case model.NodeQuarter:
		return 2
	default:
		return 0
	}
}

// Available reports whether [start, end) lies within one of the field's
// availability windows for start's weekday. Fields without windows are
// always available; unknown fields never are.
func (h *Hierarchy) Available(id int64, start, end time.Time) bool {
	f := h.byID[id]
	if f == nil {
		return false
	}
	if len(f.Availability) == 0 {
		return true
	}
	if !timeutil.SameDate(start, end) && !end.Equal(timeutil.DayOf(start).AddDate(0, 0, 1)) {
		return false
	}
	wd := timeutil.Weekday(start)
	from := timeutil.MinutesOf(start)
	to := from + int(end.Sub(start)/time.Minute)
	for _, w := range f.Availability {
		if w.Weekday == wd && w.From <= from && to <= w.To {
			return true
		}
	}
	return false
}
