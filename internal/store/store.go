// Package store owns the in-memory collection of schedules and applies
// entry mutations with master/exception branching.
package store

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
	"fieldcal/internal/recur"
	"fieldcal/internal/timeutil"
)

var (
	// ErrDanglingReference is reported when a mutation targets an entry or
	// schedule that does not exist. The mutation is a no-op.
	ErrDanglingReference = errors.New("store: dangling reference")
	// ErrSyncFailed is returned by Commit when the durable side rejected
	// the change. Local state has been rolled back.
	ErrSyncFailed = errors.New("store: sync failed")
)

// Changes lists the attributes an update touches. Nil pointers are left
// alone; SetField and SetTeam allow clearing an assignment.
type Changes struct {
	Title    *string
	Start    *time.Time
	End      *time.Time
	FieldID  *int64
	SetField bool
	TeamID   *int64
	SetTeam  bool
}

func (c Changes) empty() bool {
	return c.Title == nil && c.Start == nil && c.End == nil && !c.SetField && !c.SetTeam
}

type scheduleState struct {
	sched          *model.Schedule
	unsaved        bool
	pendingDeletes []int64
}

func (st *scheduleState) clone() *scheduleState {
	return &scheduleState{
		sched:          st.sched.Clone(),
		unsaved:        st.unsaved,
		pendingDeletes: append([]int64(nil), st.pendingDeletes...),
	}
}

// Summary describes a schedule without its entries.
type Summary struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	ActiveFrom  *time.Time `json:"active_from,omitempty"`
	ActiveUntil *time.Time `json:"active_until,omitempty"`
	Draft       bool       `json:"draft"`
	Unsaved     bool       `json:"unsaved"`
	Entries     int        `json:"entries"`
}

// Store is the authoritative entry collection. Readers get deep copies;
// all writes go through its mutation methods.
//
// commitMu serializes writers, including a Commit's round trip to the
// syncer. mu guards the in-memory state only, so readers never wait on
// the durable side.
type Store struct {
	commitMu  sync.Mutex
	mu        sync.RWMutex
	schedules []*scheduleState
	selected  int64
	ids       *IDMap
	syncer    Syncer
	subs      []func(*model.Schedule)
}

// New returns an empty store. syncer may be nil, in which case Commit only
// applies changes locally.
func New(syncer Syncer) *Store {
	return &Store{ids: NewIDMap(), syncer: syncer}
}

// IDs returns the store's temporary id bookkeeping.
func (s *Store) IDs() *IDMap {
	return s.ids
}

// Subscribe registers fn to receive the selected schedule after every
// change. fn must not call back into the store synchronously.
func (s *Store) Subscribe(fn func(*model.Schedule)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Load replaces all schedules and clears their unsaved flags. The current
// selection survives when its id is still present. Deletions still queued
// for a reloaded schedule stay queued and their entries stay hidden.
func (s *Store) Load(schedules []*model.Schedule) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	loaded := make([]*scheduleState, 0, len(schedules))
	for _, sc := range schedules {
		var queued []int64
		if old := s.findLocked(sc.ID); old != nil {
			queued = old.pendingDeletes
		}
		loaded = append(loaded, &scheduleState{sched: withoutQueued(sc, queued), pendingDeletes: queued})
	}
	s.schedules = loaded
	s.reselectLocked()
	sel, subs := s.publishLocked()
	s.mu.Unlock()
	notify(subs, sel)
}

// Replace swaps one schedule's contents, clearing its unsaved flag. The
// schedule is added when unknown. Entries whose durable id is still queued
// for deletion are left out.
func (s *Store) Replace(sc *model.Schedule) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if st := s.findLocked(sc.ID); st != nil {
		st.sched = withoutQueued(sc, st.pendingDeletes)
		st.unsaved = false
	} else {
		s.schedules = append(s.schedules, &scheduleState{sched: sc.Clone()})
	}
	s.reselectLocked()
	sel, subs := s.publishLocked()
	s.mu.Unlock()
	notify(subs, sel)
}

// Select changes the selected schedule. It reports false for unknown ids.
func (s *Store) Select(id int64) bool {
	s.mu.Lock()
	if s.findLocked(id) == nil {
		s.mu.Unlock()
		return false
	}
	s.selected = id
	sel, subs := s.publishLocked()
	s.mu.Unlock()
	notify(subs, sel)
	return true
}

// Selected returns a copy of the selected schedule, or nil.
func (s *Store) Selected() *model.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st := s.findLocked(s.selected); st != nil {
		return st.sched.Clone()
	}
	return nil
}

// Schedule returns a copy of the schedule with id, or nil.
func (s *Store) Schedule(id int64) *model.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st := s.findLocked(id); st != nil {
		return st.sched.Clone()
	}
	return nil
}

// Summaries lists all schedules in load order.
func (s *Store) Summaries() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.schedules))
	for _, st := range s.schedules {
		out = append(out, Summary{
			ID:          st.sched.ID,
			Name:        st.sched.Name,
			ActiveFrom:  st.sched.ActiveFrom,
			ActiveUntil: st.sched.ActiveUntil,
			Draft:       st.sched.Draft(),
			Unsaved:     st.unsaved,
			Entries:     len(st.sched.Entries),
		})
	}
	return out
}

// Unsaved reports whether the schedule changed since it was loaded.
func (s *Store) Unsaved(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.findLocked(id)
	return st != nil && st.unsaved
}

// MarkSaved clears the schedule's unsaved flag.
func (s *Store) MarkSaved(id int64) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.mu.Lock()
	if st := s.findLocked(id); st != nil {
		st.unsaved = false
	}
	s.mu.Unlock()
}

// PendingDeletes returns the durable ids waiting for deletion.
func (s *Store) PendingDeletes(id int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st := s.findLocked(id); st != nil {
		return append([]int64(nil), st.pendingDeletes...)
	}
	return nil
}

// Create appends e to the schedule with a temporary id and returns a copy
// of the stored entry. A missing uid is generated.
func (s *Store) Create(scheduleID int64, e *model.Entry) (*model.Entry, error) {
	out, err := s.mutate(Mutation{Op: OpCreate, ScheduleID: scheduleID, Entry: e})
	if err != nil {
		return nil, err
	}
	return out.entry, nil
}

// Update applies ch to the entry addressed by uid and recurrenceID.
func (s *Store) Update(scheduleID int64, uid string, recurrenceID *time.Time, ch Changes) (*model.Entry, error) {
	out, err := s.mutate(Mutation{Op: OpUpdate, ScheduleID: scheduleID, UID: uid, RecurrenceID: recurrenceID, Changes: ch})
	if err != nil {
		return nil, err
	}
	return out.entry, nil
}

// Delete removes the entry or the single occurrence addressed by uid and
// recurrenceID.
func (s *Store) Delete(scheduleID int64, uid string, recurrenceID *time.Time) error {
	_, err := s.mutate(Mutation{Op: OpDelete, ScheduleID: scheduleID, UID: uid, RecurrenceID: recurrenceID})
	return err
}

// Duplicate copies a master (rule and exdates, not exceptions) under a new
// uid.
func (s *Store) Duplicate(scheduleID int64, uid string) (*model.Entry, error) {
	out, err := s.mutate(Mutation{Op: OpDuplicate, ScheduleID: scheduleID, UID: uid})
	if err != nil {
		return nil, err
	}
	return out.entry, nil
}

func (s *Store) mutate(m Mutation) (applied, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	st := s.findLocked(m.ScheduleID)
	if st == nil {
		s.mu.Unlock()
		appLog.Warn("store: unknown schedule", "schedule_id", m.ScheduleID, "op", m.Op)
		return applied{}, fmt.Errorf("%w: schedule %d", ErrDanglingReference, m.ScheduleID)
	}
	out, err := s.applyLocked(st, m)
	if err != nil {
		s.mu.Unlock()
		return applied{}, err
	}
	if out.entry != nil {
		out.entry = out.entry.Clone()
	}
	s.reselectLocked()
	sel, subs := s.publishLocked()
	s.mu.Unlock()
	notify(subs, sel)
	return out, nil
}

// applied describes the records a mutation touched. entry points into the
// store while the lock is held; related lists further entries that changed
// along with it and need persisting too.
type applied struct {
	entry   *model.Entry
	isNew   bool
	related []*model.Entry
}

func (s *Store) applyLocked(st *scheduleState, m Mutation) (applied, error) {
	var (
		out applied
		err error
	)
	switch m.Op {
	case OpCreate:
		out, err = s.createLocked(st, m.Entry)
	case OpUpdate:
		out, err = s.updateLocked(st, m.UID, m.RecurrenceID, m.Changes)
	case OpDelete:
		out, err = s.deleteLocked(st, m.UID, m.RecurrenceID)
	case OpDuplicate:
		out, err = s.duplicateLocked(st, m.UID)
	default:
		err = fmt.Errorf("store: unknown op %q", m.Op)
	}
	if err != nil {
		return applied{}, err
	}
	st.unsaved = true
	return out, nil
}

func (s *Store) createLocked(st *scheduleState, e *model.Entry) (applied, error) {
	if e == nil {
		return applied{}, errors.New("store: create without entry")
	}
	ne := e.Clone()
	if ne.UID == "" {
		ne.UID = uuid.NewString()
	}
	switch ne.Kind {
	case model.KindStandalone, model.KindMaster:
		ne.Kind = model.KindStandalone
		if ne.RRule != "" {
			ne.Kind = model.KindMaster
		}
	case model.KindException:
		if findMaster(st.sched, ne.UID) == nil {
			return applied{}, dangling("create exception", st.sched.ID, ne.UID, &ne.RecurrenceID)
		}
		if findException(st.sched, ne.UID, ne.RecurrenceID) != nil {
			return applied{}, fmt.Errorf("store: exception %s@%s already exists", ne.UID, ne.RecurrenceID.Format(time.RFC3339))
		}
	}
	ne.ID = s.ids.NextTemp()
	st.sched.Entries = append(st.sched.Entries, ne)
	return applied{entry: ne, isNew: true}, nil
}

func (s *Store) updateLocked(st *scheduleState, uid string, rid *time.Time, ch Changes) (applied, error) {
	if rid == nil {
		e := findBase(st.sched, uid)
		if e == nil {
			return applied{}, dangling("update", st.sched.ID, uid, nil)
		}
		switch e.Kind {
		case model.KindMaster:
			// The series keeps its anchor date; only clock time moves.
			old := e.Start
			applyChanges(e, anchored(ch, e))
			return applied{entry: e, related: shiftSeries(st.sched, e, old)}, nil
		case model.KindStandalone:
			if st.sched.Draft() {
				ch = anchored(ch, e)
			}
			applyChanges(e, ch)
		case model.KindException:
			return applied{}, dangling("update", st.sched.ID, uid, nil)
		}
		return applied{entry: e}, nil
	}

	if st.sched.Draft() {
		// Drafts render masters by weekday and carry no exceptions.
		return s.updateLocked(st, uid, nil, ch)
	}

	if ex := findException(st.sched, uid, *rid); ex != nil {
		applyChanges(ex, ch)
		return applied{entry: ex}, nil
	}

	master := findMaster(st.sched, uid)
	if master == nil {
		return applied{}, dangling("update", st.sched.ID, uid, rid)
	}
	if !recur.Produces(master, *rid) {
		appLog.Warn("store: recurrence id not produced by master rule", "uid", uid, "recurrence_id", rid.Format(time.RFC3339))
	}

	ex := master.Clone()
	ex.Kind = model.KindException
	ex.RRule = ""
	ex.ExDates = nil
	ex.ID = s.ids.NextTemp()
	ex.RecurrenceID = rid.UTC()
	ex.Start = rid.UTC()
	ex.End = ex.Start.Add(master.End.Sub(master.Start))
	applyChanges(ex, ch)
	st.sched.Entries = append(st.sched.Entries, ex)
	return applied{entry: ex, isNew: true}, nil
}

func (s *Store) deleteLocked(st *scheduleState, uid string, rid *time.Time) (applied, error) {
	if rid != nil && st.sched.Draft() {
		// Drafts never read exdates; an occurrence stands for its entry.
		return s.deleteLocked(st, uid, nil)
	}
	if rid == nil {
		e := findBase(st.sched, uid)
		if e == nil {
			return applied{}, dangling("delete", st.sched.ID, uid, nil)
		}
		switch e.Kind {
		case model.KindStandalone:
			st.remove(func(x *model.Entry) bool { return x == e })
		case model.KindMaster:
			st.remove(func(x *model.Entry) bool { return x.UID == uid })
		case model.KindException:
			return applied{}, dangling("delete", st.sched.ID, uid, nil)
		}
		return applied{}, nil
	}

	master := findMaster(st.sched, uid)
	ex := findException(st.sched, uid, *rid)
	if master == nil && ex == nil {
		return applied{}, dangling("delete", st.sched.ID, uid, rid)
	}
	if ex != nil {
		st.remove(func(x *model.Entry) bool { return x == ex })
	}
	if master == nil {
		appLog.Warn("store: removed exception without master", "uid", uid, "recurrence_id", rid.Format(time.RFC3339))
		return applied{}, nil
	}
	if !hasExDate(master, *rid) {
		master.ExDates = append(master.ExDates, rid.UTC())
	}
	return applied{entry: master}, nil
}

func (s *Store) duplicateLocked(st *scheduleState, uid string) (applied, error) {
	master := findMaster(st.sched, uid)
	if master == nil {
		return applied{}, dangling("duplicate", st.sched.ID, uid, nil)
	}
	dup := master.Clone()
	dup.UID = uuid.NewString()
	dup.ID = s.ids.NextTemp()
	st.sched.Entries = append(st.sched.Entries, dup)
	return applied{entry: dup, isNew: true}, nil
}

// remove drops matching entries and queues their durable ids for
// deletion.
func (st *scheduleState) remove(match func(*model.Entry) bool) {
	kept := st.sched.Entries[:0]
	for _, e := range st.sched.Entries {
		if !match(e) {
			kept = append(kept, e)
			continue
		}
		if e.Durable() {
			st.pendingDeletes = append(st.pendingDeletes, e.ID)
		}
	}
	// Clear the tail so removed entries can be collected.
	for i := len(kept); i < len(st.sched.Entries); i++ {
		st.sched.Entries[i] = nil
	}
	st.sched.Entries = kept
}

// shiftSeries moves master's exception recurrence ids, and its exdates
// that sat on the old clock time, by the distance the master moved from
// old. It returns the exceptions it touched.
func shiftSeries(s *model.Schedule, master *model.Entry, old time.Time) []*model.Entry {
	delta := master.Start.Sub(old)
	if delta == 0 {
		return nil
	}
	for i, x := range master.ExDates {
		if timeutil.MinutesOf(x) == timeutil.MinutesOf(old) {
			master.ExDates[i] = x.Add(delta)
		}
	}
	var moved []*model.Entry
	for _, e := range s.Entries {
		if e.UID == master.UID && e.Kind == model.KindException {
			e.RecurrenceID = e.RecurrenceID.Add(delta)
			moved = append(moved, e)
		}
	}
	return moved
}

// withoutQueued copies sc, leaving out entries whose durable id is waiting
// for deletion.
func withoutQueued(sc *model.Schedule, queued []int64) *model.Schedule {
	c := sc.Clone()
	if len(queued) == 0 {
		return c
	}
	kept := c.Entries[:0]
	for _, e := range c.Entries {
		if e.Durable() && slices.Contains(queued, e.ID) {
			appLog.Debug("store: skipping entry queued for deletion", "schedule_id", sc.ID, "id", e.ID, "uid", e.UID)
			continue
		}
		kept = append(kept, e)
	}
	c.Entries = kept
	return c
}

// anchored rewrites start/end changes onto e's own date, keeping the new
// duration.
func anchored(ch Changes, e *model.Entry) Changes {
	if ch.Start == nil && ch.End == nil {
		return ch
	}
	start, end := e.Start, e.End
	if ch.Start != nil {
		start = *ch.Start
	}
	if ch.End != nil {
		end = *ch.End
	}
	dur := end.Sub(start)
	ns := timeutil.Project(start, e.Start)
	ne := ns.Add(dur)
	ch.Start, ch.End = &ns, &ne
	return ch
}

func applyChanges(e *model.Entry, ch Changes) {
	if ch.empty() {
		return
	}
	if ch.Title != nil {
		e.Title = *ch.Title
	}
	if ch.Start != nil {
		e.Start = ch.Start.UTC()
	}
	if ch.End != nil {
		e.End = ch.End.UTC()
	}
	if ch.SetField {
		e.FieldID = model.CloneID(ch.FieldID)
	}
	if ch.SetTeam {
		e.TeamID = model.CloneID(ch.TeamID)
	}
}

func findBase(s *model.Schedule, uid string) *model.Entry {
	for _, e := range s.Entries {
		if e.UID == uid && e.Kind != model.KindException {
			return e
		}
	}
	return nil
}

func findMaster(s *model.Schedule, uid string) *model.Entry {
	for _, e := range s.Entries {
		if e.UID == uid && e.Kind == model.KindMaster {
			return e
		}
	}
	return nil
}

func findException(s *model.Schedule, uid string, rid time.Time) *model.Entry {
	for _, e := range s.Entries {
		if e.UID == uid && e.Kind == model.KindException && timeutil.SameClock(e.RecurrenceID, rid) {
			return e
		}
	}
	return nil
}

func hasExDate(master *model.Entry, rid time.Time) bool {
	for _, x := range master.ExDates {
		if timeutil.SameDate(x, rid) {
			return true
		}
	}
	return false
}

func dangling(op string, scheduleID int64, uid string, rid *time.Time) error {
	kv := []any{"op", op, "schedule_id", scheduleID, "uid", uid}
	if rid != nil {
		kv = append(kv, "recurrence_id", rid.Format(time.RFC3339))
	}
	appLog.Warn("store: dangling reference", kv...)
	return fmt.Errorf("%w: %s %q", ErrDanglingReference, op, uid)
}

func (s *Store) findLocked(id int64) *scheduleState {
	for _, st := range s.schedules {
		if st.sched.ID == id {
			return st
		}
	}
	return nil
}

// reselectLocked keeps the selection when it still exists, otherwise
// falls back to the newest schedule.
func (s *Store) reselectLocked() {
	if s.findLocked(s.selected) != nil {
		return
	}
	s.selected = 0
	if len(s.schedules) == 0 {
		return
	}
	newest := make([]*model.Schedule, 0, len(s.schedules))
	for _, st := range s.schedules {
		newest = append(newest, st.sched)
	}
	sort.SliceStable(newest, func(i, j int) bool {
		if !newest[i].CreatedAt.Equal(newest[j].CreatedAt) {
			return newest[i].CreatedAt.After(newest[j].CreatedAt)
		}
		return newest[i].ID > newest[j].ID
	})
	s.selected = newest[0].ID
}

func (s *Store) publishLocked() (*model.Schedule, []func(*model.Schedule)) {
	if len(s.subs) == 0 {
		return nil, nil
	}
	var sel *model.Schedule
	if st := s.findLocked(s.selected); st != nil {
		sel = st.sched.Clone()
	}
	return sel, slices.Clone(s.subs)
}

func notify(subs []func(*model.Schedule), sel *model.Schedule) {
	for _, fn := range subs {
		fn(sel)
	}
}
