package field

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldcal/internal/model"
)

// testRecords describes two pitches:
//
//	1 (full) ─ 10 (half) ─ 100, 101 (quarters)
//	         └ 11 (half)
//	2 (full, undivided)
func testRecords() []model.FieldRecord {
	return []model.FieldRecord{
		{ID: 100, ParentID: model.ID(10), Name: "A1", Kind: model.NodeQuarter, Size: model.SizeMini},
		{ID: 1, Name: "Main", Kind: model.NodeFull, Size: model.SizeLarge},
		{ID: 10, ParentID: model.ID(1), Name: "A", Kind: model.NodeHalf, Size: model.SizeMedium},
		{ID: 11, ParentID: model.ID(1), Name: "B", Kind: model.NodeHalf, Size: model.SizeMedium},
		{ID: 101, ParentID: model.ID(10), Name: "A2", Kind: model.NodeQuarter, Size: model.SizeMini},
		{ID: 2, Name: "Training", Kind: model.NodeFull, Size: model.SizeSmall},
	}
}

func TestBuild_OutOfOrderRecords(t *testing.T) {
	h := Build(testRecords())

	root := h.Get(1)
	require.NotNil(t, root)
	require.Len(t, root.Halves, 2)
	assert.Equal(t, int64(10), root.Halves[0].ID)
	assert.Equal(t, int64(11), root.Halves[1].ID)
	require.Len(t, h.Get(10).Quarters, 2)
	assert.Equal(t, int64(100), h.Get(10).Quarters[0].ID)

	// Derived quarter descendants on the full field.
	assert.Len(t, h.Quarters(1), 2)
	assert.Len(t, h.Roots(), 2)
}

func TestBuild_DropsInvalidRecords(t *testing.T) {
	recs := append(testRecords(),
		model.FieldRecord{ID: 50, ParentID: model.ID(999), Kind: model.NodeHalf},
		model.FieldRecord{ID: 51, ParentID: model.ID(1), Kind: model.NodeQuarter},
		model.FieldRecord{ID: 52, ParentID: model.ID(1), Kind: model.NodeFull},
		model.FieldRecord{ID: 53, Kind: model.NodeHalf},
		model.FieldRecord{ID: 54, ParentID: model.ID(50), Kind: model.NodeQuarter},
		model.FieldRecord{ID: 55, Kind: "pitch"},
	)
	h := Build(recs)
	for _, id := range []int64{50, 51, 52, 53, 54, 55} {
		assert.Nil(t, h.Get(id), "field %d should be dropped", id)
	}
	assert.Len(t, h.Get(1).Halves, 2)
}

func TestRoot(t *testing.T) {
	h := Build(testRecords())
	assert.Equal(t, int64(1), h.Root(101).ID)
	assert.Equal(t, int64(1), h.Root(11).ID)
	assert.Equal(t, int64(2), h.Root(2).ID)
	assert.Nil(t, h.Root(404))
}

func TestRelated(t *testing.T) {
	h := Build(testRecords())
	tests := []struct {
		name string
		a, b *int64
		want bool
	}{
		{"identical", model.ID(10), model.ID(10), true},
		{"quarter in full", model.ID(100), model.ID(1), true},
		{"full contains quarter", model.ID(1), model.ID(101), true},
		{"half contains quarter", model.ID(10), model.ID(100), true},
		{"sibling quarters", model.ID(100), model.ID(101), false},
		{"sibling halves", model.ID(10), model.ID(11), false},
		{"quarter and other half", model.ID(100), model.ID(11), false},
		{"different roots", model.ID(1), model.ID(2), false},
		{"unknown id", model.ID(404), model.ID(1), false},
		{"unassigned", nil, model.ID(1), false},
		{"both unassigned", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Related(tt.a, tt.b))
			assert.Equal(t, tt.want, h.Related(tt.b, tt.a))
		})
	}
}

func TestColumnCount(t *testing.T) {
	h := Build(testRecords())
	assert.Equal(t, 3, h.ColumnCount(1))
	assert.Equal(t, 2, h.ColumnCount(10))
	assert.Equal(t, 1, h.ColumnCount(11))
	assert.Equal(t, 1, h.ColumnCount(100))
	assert.Equal(t, 1, h.ColumnCount(2))
	assert.Equal(t, 0, h.ColumnCount(404))
}

func TestAvailable(t *testing.T) {
	recs := []model.FieldRecord{{
		ID: 1, Kind: model.NodeFull,
		Availability: []model.Window{{Weekday: time.Monday, From: 16 * 60, To: 22 * 60}},
	}, {ID: 2, Kind: model.NodeFull}}
	h := Build(recs)

	mon := func(hh, mm int) time.Time { return time.Date(2024, 1, 8, hh, mm, 0, 0, time.UTC) }
	assert.True(t, h.Available(1, mon(16, 0), mon(17, 30)))
	assert.True(t, h.Available(1, mon(20, 0), mon(22, 0)))
	assert.False(t, h.Available(1, mon(15, 45), mon(17, 0)))
	assert.False(t, h.Available(1, mon(21, 0), mon(22, 15)))
	// Tuesday has no window.
	assert.False(t, h.Available(1, mon(16, 0).AddDate(0, 0, 1), mon(17, 0).AddDate(0, 0, 1)))
	assert.True(t, h.Available(2, mon(6, 0), mon(7, 0)))
	assert.False(t, h.Available(404, mon(16, 0), mon(17, 0)))
}
