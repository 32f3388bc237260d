package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fieldcal/internal/model"
	"fieldcal/internal/recur"
	"fieldcal/internal/store"
	"fieldcal/internal/timeutil"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	// Every pooled connection would get its own in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, AutoMigrate(db))
	return db
}

func ts(day, hour, minute int) time.Time {
	return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("postgres", "")
	assert.Error(t, err)
}

func TestFields_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	rootID, err := repo.SaveField(ctx, model.FieldRecord{Name: "Main", Kind: model.NodeFull, Size: model.SizeLarge}, 0)
	require.NoError(t, err)
	_, err = repo.SaveField(ctx, model.FieldRecord{
		Name: "Main A", Kind: model.NodeHalf, Size: model.SizeMedium, ParentID: &rootID,
		Availability: []model.Window{{Weekday: time.Monday, From: 16 * 60, To: 22 * 60}},
	}, 1)
	require.NoError(t, err)

	recs, err := repo.LoadFields(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.NodeFull, recs[0].Kind)
	require.NotNil(t, recs[1].ParentID)
	assert.Equal(t, rootID, *recs[1].ParentID)
	require.Len(t, recs[1].Availability, 1)
	assert.Equal(t, 22*60, recs[1].Availability[0].To)
	assert.Empty(t, recs[0].Availability)
}

func TestSubmit_InsertUpdateDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	from, until := timeutil.Date(2024, 1, 1), timeutil.Date(2024, 6, 30)
	sched, err := repo.CreateSchedule(ctx, "Spring", &from, &until)
	require.NoError(t, err)

	master := &model.Entry{
		UID: "u15", ID: -1, Kind: model.KindMaster, Title: "U15",
		Start: ts(1, 16, 0), End: ts(1, 17, 30), FieldID: model.ID(10),
		RRule: "FREQ=WEEKLY;BYDAY=MO", ExDates: []time.Time{ts(8, 16, 0)},
	}
	res := repo.Submit(ctx, master, sched.ID, true)
	require.True(t, res.Success, "%v", res.Err)
	require.Positive(t, res.DurableID)

	master.ID = res.DurableID
	master.Title = "U15 boys"
	res = repo.Submit(ctx, master, sched.ID, false)
	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, master.ID, res.DurableID)

	ex := &model.Entry{
		UID: "u15", Kind: model.KindException,
		Start: ts(15, 18, 0), End: ts(15, 19, 30), RecurrenceID: ts(15, 16, 0),
	}
	res = repo.Submit(ctx, ex, sched.ID, true)
	require.True(t, res.Success, "%v", res.Err)
	exID := res.DurableID

	loaded, err := repo.LoadSchedule(ctx, sched.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 2)
	assert.Equal(t, "Spring", loaded.Name)
	assert.False(t, loaded.Draft())

	m := loaded.Entries[0]
	assert.Equal(t, model.KindMaster, m.Kind)
	assert.Equal(t, "U15 boys", m.Title)
	assert.Equal(t, []time.Time{ts(8, 16, 0)}, m.ExDates)
	assert.Equal(t, int64(10), *m.FieldID)
	assert.Equal(t, model.KindException, loaded.Entries[1].Kind)
	assert.Equal(t, ts(15, 16, 0), loaded.Entries[1].RecurrenceID)

	require.NoError(t, repo.Delete(ctx, []int64{exID, 9999}))
	loaded, err = repo.LoadSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Entries, 1)
}

func TestSubmit_UpdateUnknownFails(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	sched, err := repo.CreateSchedule(ctx, "Draft", nil, nil)
	require.NoError(t, err)
	assert.True(t, sched.Draft())

	res := repo.Submit(ctx, &model.Entry{UID: "x", ID: 77, Start: ts(1, 9, 0), End: ts(1, 10, 0)}, sched.ID, false)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, gorm.ErrRecordNotFound)
}

func TestImport_UpsertsByUIDAndRecurrenceID(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	sched, err := repo.CreateSchedule(ctx, "League", nil, nil)
	require.NoError(t, err)

	rid := ts(8, 16, 0)
	recs := []model.EntryRecord{
		{UID: "u15", Start: ts(1, 16, 0), End: ts(1, 17, 30), RRule: "FREQ=WEEKLY"},
		{UID: "u15", Start: ts(8, 18, 0), End: ts(8, 19, 0), RecurrenceID: &rid},
	}
	n, err := repo.Import(ctx, sched.ID, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs[0].Title = "renamed"
	n, err = repo.Import(ctx, sched.ID, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	loaded, err := repo.LoadSchedule(ctx, sched.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 2)
	assert.Equal(t, "renamed", loaded.Entries[0].Title)

	_, err = repo.Import(ctx, 404, recs)
	assert.Error(t, err)
}

func TestRepo_AsStoreSyncer(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	from, until := timeutil.Date(2024, 1, 1), timeutil.Date(2024, 1, 31)
	sched, err := repo.CreateSchedule(ctx, "Winter", &from, &until)
	require.NoError(t, err)

	s := store.New(repo)
	all, err := repo.LoadSchedules(ctx)
	require.NoError(t, err)
	s.Load(all)

	created, err := s.Commit(ctx, store.Mutation{
		Op: store.OpCreate, ScheduleID: sched.ID,
		Entry: &model.Entry{
			UID: "u15", Start: ts(1, 16, 0), End: ts(1, 17, 30),
			RRule: "FREQ=WEEKLY;BYDAY=MO",
		},
	})
	require.NoError(t, err)
	require.True(t, created.Durable())

	rid := ts(8, 16, 0)
	_, err = s.Commit(ctx, store.Mutation{Op: store.OpDelete, ScheduleID: sched.ID, UID: "u15", RecurrenceID: &rid})
	require.NoError(t, err)

	fresh, err := repo.LoadSchedule(ctx, sched.ID)
	require.NoError(t, err)
	require.Len(t, fresh.Entries, 1)
	spans := recur.Expand(fresh.Entries[0], recur.Window{From: timeutil.Date(2024, 1, 1), Until: timeutil.Date(2024, 1, 15)}, ts(3, 0, 0))
	require.Len(t, spans, 1)
	assert.Equal(t, ts(1, 16, 0), spans[0].Start)

	require.NoError(t, s.Delete(sched.ID, "u15", nil))
	require.NoError(t, s.FlushDeletions(ctx))
	fresh, err = repo.LoadSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.Entries)
}
