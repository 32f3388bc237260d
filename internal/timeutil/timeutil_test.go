package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayOfAndProject(t *testing.T) {
	ts := time.Date(2024, 1, 8, 16, 30, 0, 0, time.UTC)
	assert.Equal(t, Date(2024, 1, 8), DayOf(ts))
	assert.Equal(t, time.Monday, Weekday(ts))

	moved := Project(ts, Date(2024, 3, 4))
	assert.Equal(t, time.Date(2024, 3, 4, 16, 30, 0, 0, time.UTC), moved)
	assert.True(t, SameClock(moved, time.Date(2024, 3, 4, 16, 30, 59, 0, time.UTC)))
	assert.False(t, SameClock(moved, ts))
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "09:15", want: 555},
		{in: "00:00", want: 0},
		{in: "24:00", want: 1440},
		{in: "24:30", wantErr: true},
		{in: "9", wantErr: true},
		{in: "ab:00", wantErr: true},
		{in: "10:75", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, FormatMinutes(got))
		})
	}
}

func TestSlotConfig(t *testing.T) {
	c := SlotConfig{DayStart: 8 * 60, DayEnd: 10 * 60, Step: 15}
	require.Equal(t, 8, c.Count())
	assert.Equal(t, []string{"08:00", "08:15", "08:30", "08:45", "09:00", "09:15", "09:30", "09:45"}, c.Times())

	day := Date(2024, 1, 8)
	assert.Equal(t, 4, c.RowOf(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 4, c.RowOf(time.Date(2024, 1, 8, 9, 14, 0, 0, time.UTC)))
	assert.Equal(t, -1, c.RowOf(time.Date(2024, 1, 8, 7, 50, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), c.StartOf(day, 4))
	assert.Equal(t, time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC), c.EndOf(day, 4))

	assert.Zero(t, SlotConfig{}.Count())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, Date(2024, 1, 15), d)

	_, err = ParseDate("15/01/2024")
	assert.Error(t, err)
}
