// Package edit turns pointer gestures on an occurrence block into store
// mutations.
package edit

import (
	"context"
	"errors"
	"time"

	"fieldcal/internal/field"
	"fieldcal/internal/grid"
	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
	"fieldcal/internal/overlap"
	"fieldcal/internal/store"
	"fieldcal/internal/timeutil"
)

// DefaultSensitivity is the number of row heights the pointer has to
// travel for the block to move by one slot.
const DefaultSensitivity = 2.0

var (
	// ErrGeometryUnavailable aborts a gesture whose container bounds could
	// not be read.
	ErrGeometryUnavailable = errors.New("edit: geometry unavailable")
	// ErrNotPlaced aborts a column drag on an occurrence without a field.
	ErrNotPlaced = errors.New("edit: occurrence has no column")
)

type Gesture int

const (
	GestureResizeTop Gesture = iota
	GestureResizeBottom
	GestureMove
	GestureColumn
)

func (g Gesture) String() string {
	switch g {
	case GestureResizeTop:
		return "resize-top"
	case GestureResizeBottom:
		return "resize-bottom"
	case GestureMove:
		return "move"
	case GestureColumn:
		return "column"
	default:
		return "unknown"
	}
}

type State int

const (
	StateIdle State = iota
	StateDragging
	StateCommitted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDragging:
		return "dragging"
	case StateCommitted:
		return "committed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Rect is a container's bounding rectangle in client coordinates.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// Geometry reads the bounds of the day grid's container.
type Geometry interface {
	Bounds() (Rect, bool)
}

// GeometryFunc adapts a function to Geometry.
type GeometryFunc func() (Rect, bool)

func (f GeometryFunc) Bounds() (Rect, bool) { return f() }

// Pointer is one pointer event. Interactive marks events whose target is a
// control nested inside the block (input, select, button).
type Pointer struct {
	X, Y        float64
	Interactive bool
}

// Committer writes a finished gesture. *store.Store satisfies it.
type Committer interface {
	Commit(ctx context.Context, m store.Mutation) (*model.Entry, error)
}

// Preview is the ephemeral state of a block while it is dragged.
type Preview struct {
	Occurrence model.Occurrence
	StartRow   int
	EndRow     int
	Column     grid.Candidate
	Conflicts  []string
	Available  bool
	Valid      bool
}

// Result reports how a gesture ended.
type Result struct {
	State State
	// Click is set when the pointer was released without movement.
	Click bool
	Entry *model.Entry
}

// Config wires a Controller to one rendered day.
type Config struct {
	ScheduleID  int64
	Slots       timeutil.SlotConfig
	Sensitivity float64
	Hierarchy   *field.Hierarchy
	Mapping     grid.Mapping
	Geometry    Geometry
	Store       Committer

	// Occurrences returns the day's occurrences for conflict checks.
	Occurrences func() []model.Occurrence
	// OnPreview receives every intermediate state. May be nil.
	OnPreview func(Preview)
}

type drag struct {
	gesture Gesture
	occ     model.Occurrence
	origin  Pointer

	rowHeight float64
	colWidth  float64
	slots     int

	startRow, endRow int
	curStart, curEnd int

	column     grid.Candidate
	siblings   []grid.Candidate
	curColumn  grid.Candidate
	hasColumns bool
}

// Controller is the gesture state machine. It is not safe for concurrent
// use; one gesture is active at a time.
type Controller struct {
	cfg   Config
	state State
	drag  *drag
}

func NewController(cfg Config) *Controller {
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = DefaultSensitivity
	}
	return &Controller{cfg: cfg}
}

func (c *Controller) State() State { return c.state }

// Down starts a gesture on occ. It is ignored while another gesture is
// active and suppressed when the event targets an interactive control.
func (c *Controller) Down(occ model.Occurrence, g Gesture, p Pointer) error {
	if c.state == StateDragging {
		appLog.Debug("edit: pointer down during active gesture ignored", "uiid", occ.UIID)
		return nil
	}
	if p.Interactive {
		return nil
	}

	var (
		bounds Rect
		ok     bool
	)
	if c.cfg.Geometry != nil {
		bounds, ok = c.cfg.Geometry.Bounds()
	}
	slots := c.cfg.Slots.Count()
	if !ok || bounds.Height <= 0 || bounds.Width <= 0 || slots == 0 {
		appLog.Warn("edit: gesture aborted, no container geometry", "uiid", occ.UIID, "gesture", g.String())
		return ErrGeometryUnavailable
	}

	d := &drag{
		gesture:   g,
		occ:       occ,
		origin:    p,
		slots:     slots,
		rowHeight: bounds.Height / float64(slots),
	}
	if cols := c.cfg.Mapping.TotalColumns(); cols > 0 {
		d.colWidth = bounds.Width / float64(cols)
	}

	d.startRow, d.endRow = c.rowsOf(occ)
	d.curStart, d.curEnd = d.startRow, d.endRow

	if occ.FieldID != nil {
		if col, found := c.cfg.Mapping[*occ.FieldID]; found {
			d.column = grid.Candidate{FieldID: *occ.FieldID, ColIndex: col.Index, Width: col.Span}
			if c.cfg.Hierarchy != nil {
				if f := c.cfg.Hierarchy.Get(*occ.FieldID); f != nil {
					d.column.Level = field.Level(f)
				}
			}
			d.hasColumns = true
		}
	}
	d.curColumn = d.column

	if g == GestureColumn {
		if !d.hasColumns || c.cfg.Hierarchy == nil {
			appLog.Warn("edit: column drag on unplaced occurrence", "uiid", occ.UIID)
			return ErrNotPlaced
		}
		if d.colWidth <= 0 {
			appLog.Warn("edit: gesture aborted, no columns", "uiid", occ.UIID)
			return ErrGeometryUnavailable
		}
		d.siblings = c.siblings(d.column)
	}

	c.drag = d
	c.state = StateDragging
	return nil
}

// Move updates the preview for the current pointer position.
func (c *Controller) Move(p Pointer) {
	if c.state != StateDragging || c.drag == nil {
		return
	}
	d := c.drag

	switch d.gesture {
	case GestureResizeTop:
		s := clamp(d.startRow+c.rowDelta(p), 0, d.slots-1)
		if s > d.endRow {
			s = d.endRow
		}
		d.curStart, d.curEnd = s, d.endRow
	case GestureResizeBottom:
		e := clamp(d.endRow+c.rowDelta(p), 0, d.slots-1)
		if e < d.startRow {
			e = d.startRow
		}
		d.curStart, d.curEnd = d.startRow, e
	case GestureMove:
		span := d.endRow - d.startRow
		s := clamp(d.startRow+c.rowDelta(p), 0, max(d.slots-1-span, 0))
		d.curStart, d.curEnd = s, s+span
	case GestureColumn:
		d.curColumn = snap(d.siblings, d.column, p.X-d.origin.X, d.colWidth)
	}

	if c.cfg.OnPreview != nil {
		c.cfg.OnPreview(c.preview())
	}
}

// Up ends the gesture. A gesture that changed rows or column is committed
// once through the store, addressed by the occurrence's pre-drag
// recurrence identity; anything else is a click.
func (c *Controller) Up(ctx context.Context) (Result, error) {
	if c.state != StateDragging || c.drag == nil {
		return Result{State: c.state}, nil
	}
	d := c.drag
	c.drag = nil

	rowsChanged := d.curStart != d.startRow || d.curEnd != d.endRow
	fieldChanged := d.curColumn.FieldID != d.column.FieldID
	if !rowsChanged && !fieldChanged {
		c.state = StateCancelled
		return Result{State: StateCancelled, Click: true}, nil
	}

	start, end := c.times(d)
	m := store.Mutation{
		Op:           store.OpUpdate,
		ScheduleID:   c.cfg.ScheduleID,
		UID:          d.occ.UID,
		RecurrenceID: d.occ.RecurrenceRef(),
	}
	if rowsChanged {
		m.Changes.Start, m.Changes.End = &start, &end
	}
	if fieldChanged {
		m.Changes.FieldID = model.ID(d.curColumn.FieldID)
		m.Changes.SetField = true
	}

	if c.cfg.Store == nil {
		c.state = StateCancelled
		return Result{State: StateCancelled}, errors.New("edit: no store configured")
	}
	entry, err := c.cfg.Store.Commit(ctx, m)
	if err != nil {
		c.state = StateCancelled
		return Result{State: StateCancelled}, err
	}
	c.state = StateCommitted
	appLog.Debug("edit: gesture committed", "uid", d.occ.UID, "gesture", d.gesture.String())
	return Result{State: StateCommitted, Entry: entry}, nil
}

// Cancel drops the active gesture without a mutation.
func (c *Controller) Cancel() {
	if c.state != StateDragging {
		return
	}
	c.drag = nil
	c.state = StateCancelled
}

// rowDelta converts vertical travel into slots, truncating toward zero.
func (c *Controller) rowDelta(p Pointer) int {
	d := c.drag
	return int((p.Y - d.origin.Y) / (d.rowHeight * c.cfg.Sensitivity))
}

// rowsOf returns the inclusive slot rows covered by occ, clamped to the
// grid.
func (c *Controller) rowsOf(occ model.Occurrence) (int, int) {
	n := c.cfg.Slots.Count()
	step := c.cfg.Slots.Step
	startMin := timeutil.MinutesOf(occ.Start)
	endMin := startMin + int(occ.End.Sub(occ.Start)/time.Minute)

	s := clamp(c.cfg.Slots.RowOf(occ.Start), 0, n-1)
	e := endMin - c.cfg.Slots.DayStart
	e = (e+step-1)/step - 1
	if endMin-c.cfg.Slots.DayStart <= 0 {
		e = 0
	}
	e = clamp(e, 0, n-1)
	if e < s {
		e = s
	}
	return s, e
}

// times resolves the dragged rows back to timestamps. Untouched edges keep
// their exact time and a move keeps the exact duration.
func (c *Controller) times(d *drag) (time.Time, time.Time) {
	step := time.Duration(c.cfg.Slots.Step) * time.Minute
	switch d.gesture {
	case GestureMove:
		shift := time.Duration(d.curStart-d.startRow) * step
		return d.occ.Start.Add(shift), d.occ.End.Add(shift)
	case GestureResizeTop:
		if d.curStart == d.startRow {
			return d.occ.Start, d.occ.End
		}
		return c.cfg.Slots.StartOf(d.occ.Date, d.curStart), d.occ.End
	case GestureResizeBottom:
		if d.curEnd == d.endRow {
			return d.occ.Start, d.occ.End
		}
		return d.occ.Start, c.cfg.Slots.EndOf(d.occ.Date, d.curEnd)
	default:
		return d.occ.Start, d.occ.End
	}
}

func (c *Controller) preview() Preview {
	d := c.drag
	o := d.occ
	o.Start, o.End = c.times(d)
	if d.hasColumns {
		o.FieldID = model.ID(d.curColumn.FieldID)
	}

	var others []model.Occurrence
	if c.cfg.Occurrences != nil {
		others = c.cfg.Occurrences()
	}
	var conflicts []string
	if c.cfg.Hierarchy != nil {
		conflicts = overlap.ConflictsWith(c.cfg.Hierarchy, o, others)
	}
	available := true
	if o.FieldID != nil && c.cfg.Hierarchy != nil {
		available = c.cfg.Hierarchy.Available(*o.FieldID, o.Start, o.End)
	}
	o.Conflicts = conflicts

	return Preview{
		Occurrence: o,
		StartRow:   d.curStart,
		EndRow:     d.curEnd,
		Column:     d.curColumn,
		Conflicts:  conflicts,
		Available:  available,
		Valid:      len(conflicts) == 0 && available,
	}
}

// siblings returns the placements of the same level and width as cur
// within cur's main field, ordered by column.
func (c *Controller) siblings(cur grid.Candidate) []grid.Candidate {
	root := c.cfg.Hierarchy.Root(cur.FieldID)
	if root == nil {
		return []grid.Candidate{cur}
	}
	var out []grid.Candidate
	for _, cand := range grid.Candidates(c.cfg.Hierarchy, c.cfg.Mapping, root.ID) {
		if cand.Level == cur.Level && cand.Width == cur.Width {
			out = append(out, cand)
		}
	}
	if len(out) == 0 {
		out = append(out, cur)
	}
	return out
}

// snap picks the target column for horizontal travel dx: the rightmost
// sibling whose left edge was crossed when dragging right, the leftmost
// when dragging left.
func snap(siblings []grid.Candidate, cur grid.Candidate, dx, colWidth float64) grid.Candidate {
	best := cur
	switch {
	case dx > 0:
		for _, s := range siblings {
			if s.ColIndex <= cur.ColIndex {
				continue
			}
			if float64(s.ColIndex-cur.ColIndex)*colWidth <= dx {
				best = s
			}
		}
	case dx < 0:
		for i := len(siblings) - 1; i >= 0; i-- {
			s := siblings[i]
			if s.ColIndex >= cur.ColIndex {
				continue
			}
			if float64(cur.ColIndex-s.ColIndex)*colWidth <= -dx {
				best = s
			}
		}
	}
	return best
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
