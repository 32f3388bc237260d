package db

import (
	"time"
)

// FieldRow is one playing surface. Availability holds JSON-encoded
// []model.Window.
type FieldRow struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	ParentID     *int64 `gorm:"index"`
	Name         string `gorm:"size:128"`
	Size         string `gorm:"size:16"`
	Kind         string `gorm:"size:16"`
	Position     int
	Availability string `gorm:"type:text"`
}

func (FieldRow) TableName() string { return "fields" }

// ScheduleRow is a season or draft plan.
type ScheduleRow struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:128"`
	ActiveFrom  *time.Time
	ActiveUntil *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ScheduleRow) TableName() string { return "schedules" }

// EntryRow is one flat schedule entry. ExDates holds a JSON array of
// RFC 3339 timestamps.
type EntryRow struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	ScheduleID   int64     `gorm:"index:idx_entry_schedule_uid"`
	UID          string    `gorm:"size:255;index:idx_entry_schedule_uid"`
	Title        string    `gorm:"size:255"`
	Start        time.Time `gorm:"column:starts_at"`
	End          time.Time `gorm:"column:ends_at"`
	FieldID      *int64    `gorm:"index"`
	TeamID       *int64
	RRule        string `gorm:"size:255"`
	ExDates      string `gorm:"type:text"`
	RecurrenceID *time.Time
	Deleted      bool
	UpdatedAt    time.Time
}

func (EntryRow) TableName() string { return "entries" }

// AllModels returns the GORM models to migrate.
func AllModels() []interface{} {
	return []interface{}{
		&FieldRow{},
		&ScheduleRow{},
		&EntryRow{},
	}
}
