package store

import (
	"context"
	"fmt"
	"time"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
)

// Op names a mutation.
type Op string

const (
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpDuplicate Op = "duplicate"
)

// Mutation is one write against a schedule. Entry is used by OpCreate;
// UID and RecurrenceID address the target of the other ops.
type Mutation struct {
	Op           Op
	ScheduleID   int64
	UID          string
	RecurrenceID *time.Time
	Entry        *model.Entry
	Changes      Changes
}

// Commit applies m optimistically and confirms it with the syncer. When
// the syncer reports failure the schedule is restored to its state before
// m and the error wraps ErrSyncFailed. Commits are serialized; readers see
// the optimistic state while the syncer works.
//
// The returned entry is a copy of the record that was submitted, or nil
// when nothing needed submitting (a removed standalone entry). Exceptions
// that moved along with their master are submitted after it.
func (s *Store) Commit(ctx context.Context, m Mutation) (*model.Entry, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	st := s.findLocked(m.ScheduleID)
	if st == nil {
		s.mu.Unlock()
		appLog.Warn("store: unknown schedule", "schedule_id", m.ScheduleID, "op", m.Op)
		return nil, fmt.Errorf("%w: schedule %d", ErrDanglingReference, m.ScheduleID)
	}

	snapshot := st.clone()
	out, err := s.applyLocked(st, m)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var batch []submit
	if out.entry != nil && s.syncer != nil {
		batch = append(batch, submit{target: out.entry, sent: out.entry.Clone(), isNew: out.isNew || out.entry.ID <= 0})
		for _, e := range out.related {
			batch = append(batch, submit{target: e, sent: e.Clone(), isNew: e.ID <= 0})
		}
	}
	s.mu.Unlock()

	for i := range batch {
		b := &batch[i]
		res := s.syncer.Submit(ctx, b.sent, m.ScheduleID, b.isNew)
		if !res.Success {
			s.mu.Lock()
			*st = *snapshot
			s.reselectLocked()
			sel, subs := s.publishLocked()
			s.mu.Unlock()
			notify(subs, sel)

			appLog.Error("store: sync failed, rolled back", res.Err,
				"op", m.Op, "schedule_id", m.ScheduleID, "uid", b.sent.UID, "submitted", i)
			if res.Err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSyncFailed, res.Err)
			}
			return nil, ErrSyncFailed
		}
		b.durable = res.DurableID
	}

	s.mu.Lock()
	for _, b := range batch {
		if b.durable > 0 && b.target.ID <= 0 {
			s.ids.Bind(b.target.ID, b.durable)
			b.target.ID = b.durable
		}
	}
	var result *model.Entry
	if out.entry != nil {
		result = out.entry.Clone()
	}
	s.reselectLocked()
	sel, subs := s.publishLocked()
	s.mu.Unlock()
	notify(subs, sel)
	return result, nil
}

// submit is one entry of a Commit on its way to the syncer. target points
// into the store; sent is the copy handed over.
type submit struct {
	target  *model.Entry
	sent    *model.Entry
	isNew   bool
	durable int64
}

// FlushDeletions hands every queued durable id to the syncer. Ids stay
// queued when the syncer fails.
func (s *Store) FlushDeletions(ctx context.Context) error {
	if s.syncer == nil {
		return nil
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	queued := make(map[int64][]int64)
	var ids []int64
	for _, st := range s.schedules {
		if len(st.pendingDeletes) == 0 {
			continue
		}
		queued[st.sched.ID] = st.pendingDeletes
		ids = append(ids, st.pendingDeletes...)
		st.pendingDeletes = nil
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	if err := s.syncer.Delete(ctx, ids); err != nil {
		s.mu.Lock()
		for sid, list := range queued {
			if st := s.findLocked(sid); st != nil {
				st.pendingDeletes = append(list, st.pendingDeletes...)
			}
		}
		s.mu.Unlock()
		appLog.Error("store: deferred deletion failed", err, "count", len(ids))
		return fmt.Errorf("store: flush deletions: %w", err)
	}

	appLog.Info("store: deferred deletions flushed", "count", len(ids))
	return nil
}
