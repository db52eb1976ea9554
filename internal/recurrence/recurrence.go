// Package recurrence computes the next occurrence of a repeating event.
//
// Wall-clock arithmetic happens in the calendar's location so a weekly 18:00
// event stays at 18:00 across DST changes. A time of day that falls into a
// spring-forward gap moves past the gap for that occurrence only; the intended
// time of day rides along in Occurrence.WallClock.
//
// Month and year steps clamp the day of month to the target month's length
// (Jan 31 -> Feb 28/29, Feb 29 -> Feb 28).
// Each step is seeded from the previous result, so clamping compounds.
package recurrence

import (
	"errors"
	"time"

	"schedbot/internal/model"
)

var ErrNotRecurring = errors.New("recurrence: cadence does not repeat")

// maxCatchUp bounds Following; a daily event would need ~270 years to hit it.
const maxCatchUp = 100_000

// Next returns the occurrence after o. The duration End-Start and the
// Start-Reminder offset are carried over exactly.
func Next(o model.Occurrence, c model.Cadence, loc *time.Location) (model.Occurrence, error) {
	if !c.Recurring() {
		return o, ErrNotRecurring
	}
	if loc == nil {
		loc = time.UTC
	}

	local := o.Start.In(loc)
	wall := clock(local)
	if w := o.WallClock; w != nil && onDay(local.Year(), local.Month(), local.Day(), *w, loc).Equal(o.Start) {
		wall = *w
	}

	y, m, d := step(local, c)
	start := onDay(y, m, d, wall, loc)
	next := model.Occurrence{
		Start: start,
		End:   start.Add(o.End.Sub(o.Start)),
	}
	if clock(start) != wall {
		next.WallClock = &wall
	}
	if o.Reminder != nil {
		r := start.Add(-o.Start.Sub(*o.Reminder))
		next.Reminder = &r
	}
	return next, nil
}

// Following applies Next until the start is after now and reports how many
// occurrences were passed over on the way.
func Following(o model.Occurrence, c model.Cadence, loc *time.Location, now time.Time) (model.Occurrence, int, error) {
	cur := o
	for i := 0; i < maxCatchUp; i++ {
		n, err := Next(cur, c, loc)
		if err != nil {
			return o, 0, err
		}
		cur = n
		if cur.Start.After(now) {
			return cur, i, nil
		}
	}
	return cur, maxCatchUp, errors.New("recurrence: catch-up limit reached")
}

// step returns the calendar date of the next occurrence after t.
func step(t time.Time, c model.Cadence) (int, time.Month, int) {
	y, m, d := t.Date()
	switch c {
	case model.CadenceDaily:
		return y, m, d + 1
	case model.CadenceWeekly:
		return y, m, d + 7
	case model.CadenceMonthly:
		return addMonthsClamped(y, m, d, 1, t.Location())
	case model.CadenceYearly:
		return addMonthsClamped(y, m, d, 12, t.Location())
	default:
		return y, m, d
	}
}

func addMonthsClamped(y int, m time.Month, d, months int, loc *time.Location) (int, time.Month, int) {
	target := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, loc)
	ty, tm, _ := target.Date()
	return ty, tm, min(d, daysIn(ty, tm, loc))
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}

// clock is the time of day of t in its own location.
func clock(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

// onDay is wall on the given date in loc. A wall time inside a DST gap does
// not exist; it resolves to the same distance past the start of the gap, so
// 02:30 on a 02:00->03:00 night is 03:30.
func onDay(y int, m time.Month, d int, wall time.Duration, loc *time.Location) time.Time {
	h := int(wall / time.Hour)
	mi := int(wall % time.Hour / time.Minute)
	sec := int(wall % time.Minute / time.Second)
	ns := int(wall % time.Second)
	t := time.Date(y, m, d, h, mi, sec, ns, loc)

	// time.Date may resolve a gap with either offset; only the earlier
	// reading needs moving forward.
	want := time.Date(y, m, d, h, mi, sec, ns, time.UTC)
	got := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	if shift := want.Sub(got); shift > 0 {
		t = t.Add(shift)
	}
	return t
}
