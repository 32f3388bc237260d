// Package timeutil holds the calendar arithmetic shared by the scheduling
// packages. All values are UTC.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// Date returns midnight UTC of the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DayOf truncates t to midnight UTC of its calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return Date(u.Year(), u.Month(), u.Day())
}

func SameDate(a, b time.Time) bool {
	return DayOf(a).Equal(DayOf(b))
}

func Weekday(t time.Time) time.Weekday {
	return t.UTC().Weekday()
}

// SameClock reports whether a and b share date, hour and minute.
func SameClock(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return SameDate(a, b) && a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

// MinutesOf returns the minutes after midnight of t's UTC clock time.
func MinutesOf(t time.Time) int {
	u := t.UTC()
	return u.Hour()*60 + u.Minute()
}

// At places a clock time, given in minutes after midnight, on date.
func At(date time.Time, minutes int) time.Time {
	return DayOf(date).Add(time.Duration(minutes) * time.Minute)
}

// Project moves t onto date keeping its clock time.
func Project(t, date time.Time) time.Time {
	u := t.UTC()
	d := DayOf(date)
	return time.Date(d.Year(), d.Month(), d.Day(), u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), time.UTC)
}

func FormatClock(t time.Time) string {
	return t.UTC().Format("15:04")
}

func FormatMinutes(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseClock parses "HH:MM" into minutes after midnight. "24:00" is accepted
// as the end of the day.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("timeutil: invalid clock %q", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("timeutil: invalid hour in %q: %w", s, err)
	}
	mm, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("timeutil: invalid minute in %q: %w", s, err)
	}
	if hh < 0 || mm < 0 || mm > 59 || hh > 24 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("timeutil: clock out of range %q", s)
	}
	return hh*60 + mm, nil
}

// ParseDate parses YYYY-MM-DD into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid date %q: %w", s, err)
	}
	return t, nil
}

// SlotConfig describes the rows of a calendar day. DayStart and DayEnd are
// minutes after midnight, Step is the slot length in minutes.
type SlotConfig struct {
	DayStart int
	DayEnd   int
	Step     int
}

// DefaultSlots covers 08:00 to 23:00 in quarter hours.
func DefaultSlots() SlotConfig {
	return SlotConfig{DayStart: 8 * 60, DayEnd: 23 * 60, Step: 15}
}

func (c SlotConfig) Count() int {
	if c.Step <= 0 || c.DayEnd <= c.DayStart {
		return 0
	}
	return (c.DayEnd - c.DayStart) / c.Step
}

// Times returns one "HH:MM" label per slot.
func (c SlotConfig) Times() []string {
	n := c.Count()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, FormatMinutes(c.DayStart+i*c.Step))
	}
	return out
}

// RowOf returns the row whose slot contains t's clock time. Values before
// the first or after the last slot are not clamped.
func (c SlotConfig) RowOf(t time.Time) int {
	if c.Step <= 0 {
		return 0
	}
	d := MinutesOf(t) - c.DayStart
	if d < 0 {
		return -((-d + c.Step - 1) / c.Step)
	}
	return d / c.Step
}

// StartOf returns the time at the top edge of row on date.
func (c SlotConfig) StartOf(date time.Time, row int) time.Time {
	return At(date, c.DayStart+row*c.Step)
}

// EndOf returns the time at the bottom edge of row on date.
func (c SlotConfig) EndOf(date time.Time, row int) time.Time {
	return At(date, c.DayStart+(row+1)*c.Step)
}
