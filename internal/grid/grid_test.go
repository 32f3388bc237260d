package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldcal/internal/field"
	"fieldcal/internal/model"
)

func testHierarchy() *field.Hierarchy {
	return field.Build([]model.FieldRecord{
		{ID: 1, Name: "Main", Kind: model.NodeFull},
		{ID: 10, ParentID: model.ID(1), Name: "A", Kind: model.NodeHalf},
		{ID: 11, ParentID: model.ID(1), Name: "B", Kind: model.NodeHalf},
		{ID: 100, ParentID: model.ID(10), Name: "A1", Kind: model.NodeQuarter},
		{ID: 101, ParentID: model.ID(10), Name: "A2", Kind: model.NodeQuarter},
		{ID: 2, Name: "Training", Kind: model.NodeFull},
	})
}

func TestMap_QuarteredAndPlainHalves(t *testing.T) {
	h := testHierarchy()
	m := Map(h, []int64{1, 2})

	assert.Equal(t, Column{Index: 2, Span: 3}, m[1])
	assert.Equal(t, Column{Index: 2, Span: 2}, m[10])
	assert.Equal(t, Column{Index: 2, Span: 1}, m[100])
	assert.Equal(t, Column{Index: 3, Span: 1}, m[101])
	assert.Equal(t, Column{Index: 4, Span: 1}, m[11])
	assert.Equal(t, Column{Index: 5, Span: 1}, m[2])
	assert.Equal(t, 4, m.TotalColumns())
}

func TestMap_OrderMattersAndIsDeterministic(t *testing.T) {
	h := testHierarchy()
	a := Map(h, []int64{2, 1})
	b := Map(h, []int64{2, 1})
	assert.Equal(t, a, b)
	assert.Equal(t, Column{Index: 2, Span: 1}, a[2])
	assert.Equal(t, Column{Index: 3, Span: 3}, a[1])
}

func TestMap_SkipsUnknownAndSubFields(t *testing.T) {
	h := testHierarchy()
	m := Map(h, []int64{404, 10, 2, 2})
	assert.Len(t, m, 1)
	assert.Equal(t, Column{Index: 2, Span: 1}, m[2])
}

func TestHeaders(t *testing.T) {
	h := testHierarchy()
	cells := Headers(h, []int64{1, 2})
	require.Len(t, cells, 4)

	labels := make([]string, 0, len(cells))
	cols := make([]int, 0, len(cells))
	for _, c := range cells {
		labels = append(labels, c.Label)
		cols = append(cols, c.ColIndex)
	}
	assert.Equal(t, []string{"A1", "A2", "B", "Training"}, labels)
	assert.Equal(t, []int{2, 3, 4, 5}, cols)
	assert.Equal(t, 2, cells[0].Level)
	assert.Equal(t, 1, cells[2].Level)
	assert.Equal(t, int64(1), cells[2].RootID)
}

func TestCandidates(t *testing.T) {
	h := testHierarchy()
	m := Map(h, []int64{1, 2})
	got := Candidates(h, m, 1)

	want := []Candidate{
		{FieldID: 100, ColIndex: 2, Width: 1, Level: 2},
		{FieldID: 10, ColIndex: 2, Width: 2, Level: 1},
		{FieldID: 1, ColIndex: 2, Width: 3, Level: 0},
		{FieldID: 101, ColIndex: 3, Width: 1, Level: 2},
		{FieldID: 11, ColIndex: 4, Width: 1, Level: 1},
	}
	assert.Equal(t, want, got)

	assert.Nil(t, Candidates(h, m, 10))
	assert.Nil(t, Candidates(h, Mapping{}, 1))
}
