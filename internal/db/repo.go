package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
	"fieldcal/internal/store"
)

// Repo reads and writes the domain through GORM. It implements
// store.Syncer.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

var _ store.Syncer = (*Repo)(nil)

// LoadFields returns all field records in position order.
func (r *Repo) LoadFields(ctx context.Context) ([]model.FieldRecord, error) {
	var rows []FieldRow
	if err := r.db.WithContext(ctx).Order("position, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: load fields: %w", err)
	}
	out := make([]model.FieldRecord, 0, len(rows))
	for _, row := range rows {
		rec := model.FieldRecord{
			ID:       row.ID,
			ParentID: row.ParentID,
			Name:     row.Name,
			Size:     model.SizeClass(row.Size),
			Kind:     model.NodeKind(row.Kind),
		}
		if row.Availability != "" {
			if err := json.Unmarshal([]byte(row.Availability), &rec.Availability); err != nil {
				appLog.Warn("db: field availability unreadable", "field_id", row.ID)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// SaveField inserts or updates a field record and returns its id.
func (r *Repo) SaveField(ctx context.Context, rec model.FieldRecord, position int) (int64, error) {
	avail, err := marshalJSON(rec.Availability)
	if err != nil {
		return 0, fmt.Errorf("db: marshal availability for field %q: %w", rec.Name, err)
	}
	row := FieldRow{
		ID:           rec.ID,
		ParentID:     rec.ParentID,
		Name:         rec.Name,
		Size:         string(rec.Size),
		Kind:         string(rec.Kind),
		Position:     position,
		Availability: avail,
	}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return 0, fmt.Errorf("db: save field %q: %w", rec.Name, err)
	}
	return row.ID, nil
}

// CreateSchedule inserts an empty schedule. Nil bounds make a draft.
func (r *Repo) CreateSchedule(ctx context.Context, name string, from, until *time.Time) (*model.Schedule, error) {
	row := ScheduleRow{Name: name, ActiveFrom: utcPtr(from), ActiveUntil: utcPtr(until)}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("db: create schedule %q: %w", name, err)
	}
	return scheduleFromRow(row, nil), nil
}

// LoadSchedules returns every schedule with its entries.
func (r *Repo) LoadSchedules(ctx context.Context) ([]*model.Schedule, error) {
	var rows []ScheduleRow
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: load schedules: %w", err)
	}
	var entries []EntryRow
	if err := r.db.WithContext(ctx).Order("id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("db: load entries: %w", err)
	}
	bySchedule := make(map[int64][]EntryRow)
	for _, e := range entries {
		bySchedule[e.ScheduleID] = append(bySchedule[e.ScheduleID], e)
	}

	out := make([]*model.Schedule, 0, len(rows))
	for _, row := range rows {
		out = append(out, scheduleFromRow(row, bySchedule[row.ID]))
	}
	return out, nil
}

// LoadSchedule returns one schedule with its entries.
func (r *Repo) LoadSchedule(ctx context.Context, id int64) (*model.Schedule, error) {
	var row ScheduleRow
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, fmt.Errorf("db: load schedule %d: %w", id, err)
	}
	var entries []EntryRow
	if err := r.db.WithContext(ctx).Where("schedule_id = ?", id).Order("id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("db: load entries of schedule %d: %w", id, err)
	}
	return scheduleFromRow(row, entries), nil
}

// Submit persists one entry. New entries are inserted and get their
// durable id; existing ones are updated in place.
func (r *Repo) Submit(ctx context.Context, e *model.Entry, scheduleID int64, isNew bool) store.SyncResult {
	row, err := rowFromRecord(e.Record(scheduleID))
	if err != nil {
		return store.SyncResult{Err: err}
	}

	if isNew {
		row.ID = 0
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return store.SyncResult{Err: fmt.Errorf("db: insert entry %s: %w", e.UID, err)}
		}
		return store.SyncResult{Success: true, DurableID: row.ID}
	}

	res := r.db.WithContext(ctx).Model(&EntryRow{}).Where("id = ?", row.ID).Select("*").Omit("id").Updates(&row)
	if res.Error != nil {
		return store.SyncResult{Err: fmt.Errorf("db: update entry %d: %w", row.ID, res.Error)}
	}
	if res.RowsAffected == 0 {
		return store.SyncResult{Err: fmt.Errorf("db: update entry %d: %w", row.ID, gorm.ErrRecordNotFound)}
	}
	return store.SyncResult{Success: true, DurableID: row.ID}
}

// Delete removes entries by durable id. Missing ids are ignored.
func (r *Repo) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&EntryRow{}).Error; err != nil {
		return fmt.Errorf("db: delete entries: %w", err)
	}
	return nil
}

// Import upserts records into scheduleID, matching on uid and recurrence
// id. It returns the number of records written.
func (r *Repo) Import(ctx context.Context, scheduleID int64, recs []model.EntryRecord) (int, error) {
	written := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sched ScheduleRow
		if err := tx.First(&sched, scheduleID).Error; err != nil {
			return fmt.Errorf("db: import into schedule %d: %w", scheduleID, err)
		}
		for _, rec := range recs {
			rec.ScheduleID = scheduleID
			row, err := rowFromRecord(rec)
			if err != nil {
				return err
			}

			q := tx.Where("schedule_id = ? AND uid = ?", scheduleID, rec.UID)
			if rec.RecurrenceID != nil {
				q = q.Where("recurrence_id = ?", rec.RecurrenceID.UTC())
			} else {
				q = q.Where("recurrence_id IS NULL")
			}
			var existing EntryRow
			err = q.First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				row.ID = 0
			case err != nil:
				return fmt.Errorf("db: import lookup %s: %w", rec.UID, err)
			default:
				row.ID = existing.ID
			}
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("db: import %s: %w", rec.UID, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func scheduleFromRow(row ScheduleRow, entries []EntryRow) *model.Schedule {
	s := &model.Schedule{
		ID:          row.ID,
		Name:        row.Name,
		ActiveFrom:  utcPtr(row.ActiveFrom),
		ActiveUntil: utcPtr(row.ActiveUntil),
		CreatedAt:   row.CreatedAt.UTC(),
	}
	for _, er := range entries {
		rec, err := recordFromRow(er)
		if err != nil {
			appLog.Warn("db: entry skipped", "entry_id", er.ID, "error", err.Error())
			continue
		}
		s.Entries = append(s.Entries, model.EntryFromRecord(rec))
	}
	return s
}

func recordFromRow(row EntryRow) (model.EntryRecord, error) {
	rec := model.EntryRecord{
		ID:           row.ID,
		ScheduleID:   row.ScheduleID,
		UID:          row.UID,
		Title:        row.Title,
		Start:        row.Start.UTC(),
		End:          row.End.UTC(),
		FieldID:      row.FieldID,
		TeamID:       row.TeamID,
		RRule:        row.RRule,
		RecurrenceID: utcPtr(row.RecurrenceID),
		Deleted:      row.Deleted,
	}
	if row.ExDates != "" {
		if err := json.Unmarshal([]byte(row.ExDates), &rec.ExDates); err != nil {
			return rec, fmt.Errorf("exdates: %w", err)
		}
	}
	return rec, nil
}

func rowFromRecord(rec model.EntryRecord) (EntryRow, error) {
	exdates := ""
	if len(rec.ExDates) > 0 {
		utc := make([]time.Time, 0, len(rec.ExDates))
		for _, x := range rec.ExDates {
			utc = append(utc, x.UTC())
		}
		var err error
		if exdates, err = marshalJSON(utc); err != nil {
			return EntryRow{}, fmt.Errorf("db: marshal exdates for %s: %w", rec.UID, err)
		}
	}
	return EntryRow{
		ID:           rec.ID,
		ScheduleID:   rec.ScheduleID,
		UID:          rec.UID,
		Title:        rec.Title,
		Start:        rec.Start.UTC(),
		End:          rec.End.UTC(),
		FieldID:      rec.FieldID,
		TeamID:       rec.TeamID,
		RRule:        rec.RRule,
		ExDates:      exdates,
		RecurrenceID: utcPtr(rec.RecurrenceID),
		Deleted:      rec.Deleted,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// marshalJSON returns "" for nil or empty values.
func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if s := string(data); s != "null" && s != "[]" {
		return s, nil
	}
	return "", nil
}
