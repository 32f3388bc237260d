package recur

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
	"fieldcal/internal/timeutil"
)

const (
	defaultMaxOccurrences = 5000
	defaultHorizon        = 365 * 24 * time.Hour
)

// ErrRecurrenceParse is reported when a master's rule text cannot be parsed.
var ErrRecurrenceParse = errors.New("recur: malformed recurrence rule")

// Window bounds an expansion. A zero bound defaults to one year before or
// after now.
type Window struct {
	From  time.Time
	Until time.Time
}

// Span is one concrete occurrence of a master.
type Span struct {
	Start time.Time
	End   time.Time
}

// Expand returns the ordered, deduplicated occurrences of master that
// intersect w. Occurrences falling on an exdate's calendar day are
// dropped. A malformed rule is logged and yields no occurrences.
func Expand(master *model.Entry, w Window, now time.Time) []Span {
	if master == nil || master.Kind != model.KindMaster {
		return nil
	}
	w = w.resolve(now)
	if w.Until.Before(w.From) {
		return nil
	}

	r, err := parseRule(master.RRule, master.Start)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", master.UID, "rrule", master.RRule)
		return nil
	}

	// Duration is taken once from the master and reapplied to every start.
	dur := master.End.Sub(master.Start)
	if dur < 0 {
		dur = 0
	}

	// Pull the lower bound back by one duration so occurrences that began
	// before the window but still run into it are included.
	times := r.Between(w.From.Add(-dur), w.Until, true)
	if len(times) > defaultMaxOccurrences {
		appLog.Warn("expand: truncated occurrences", "uid", master.UID, "cap", defaultMaxOccurrences)
		times = times[:defaultMaxOccurrences]
	}

	excluded := make(map[time.Time]bool, len(master.ExDates))
	for _, ex := range master.ExDates {
		excluded[timeutil.DayOf(ex)] = true
	}

	out := make([]Span, 0, len(times))
	seen := make(map[time.Time]bool, len(times))
	for _, t := range times {
		t = t.UTC()
		end := t.Add(dur)
		if !end.After(w.From) && !(dur == 0 && t.Equal(w.From)) {
			continue
		}
		if excluded[timeutil.DayOf(t)] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, Span{Start: t, End: end})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Produces reports whether ts is one of master's occurrence starts. It is
// used to validate exception recurrence ids.
func Produces(master *model.Entry, ts time.Time) bool {
	if master == nil || master.Kind != model.KindMaster {
		return false
	}
	r, err := parseRule(master.RRule, master.Start)
	if err != nil {
		return false
	}
	ts = ts.UTC()
	for _, t := range r.Between(ts.Add(-time.Minute), ts.Add(time.Minute), true) {
		if timeutil.SameClock(t, ts) {
			return true
		}
	}
	return false
}

func (w Window) resolve(now time.Time) Window {
	if w.From.IsZero() {
		w.From = now.Add(-defaultHorizon)
	}
	if w.Until.IsZero() {
		w.Until = now.Add(defaultHorizon)
	}
	w.From = w.From.UTC()
	w.Until = w.Until.UTC()
	return w
}

// parseRule normalises rule text and builds the rule anchored at dtstart.
// Stored rules come in several shapes: bare "FREQ=WEEKLY;BYDAY=MO",
// prefixed "RRULE:...", or a full block with a leading DTSTART line. The
// entry's own start always wins over an embedded DTSTART.
func parseRule(text string, dtstart time.Time) (*rrule.RRule, error) {
	norm := Normalize(text)
	if norm == "" {
		return nil, fmt.Errorf("%w: empty rule", ErrRecurrenceParse)
	}
	opt, err := rrule.StrToROption(norm)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrRecurrenceParse, text, err)
	}
	opt.Dtstart = dtstart.UTC()
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrRecurrenceParse, text, err)
	}
	return r, nil
}

// Normalize reduces rule text to the bare "KEY=VALUE;..." form.
func Normalize(text string) string {
	var rule string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "DTSTART") {
			continue
		}
		rule = strings.TrimPrefix(upper, "RRULE:")
	}
	return strings.Trim(rule, "; ")
}

// Validate reports whether text parses as a recurrence rule.
func Validate(text string) error {
	_, err := parseRule(text, time.Now())
	return err
}
