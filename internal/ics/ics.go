// Package ics renders a calendar's events as an iCalendar document.
package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"schedbot/internal/model"
)

const productID = "-//schedbot//event calendar//EN"

// FileName is the attachment name used for a calendar export.
func FileName(cal model.Calendar) string {
	return fmt.Sprintf("calendar-%d.ics", cal.ID)
}

// Export serializes events as one VCALENDAR. Times are written in UTC; the
// calendar timezone is advertised through X-WR-TIMEZONE for clients that
// display it.
func Export(cal model.Calendar, events []model.Event, now time.Time) ([]byte, error) {
	c := ical.NewCalendar()
	c.SetMethod(ical.MethodPublish)
	c.SetProductId(productID)
	c.SetName(fmt.Sprintf("Events %d", cal.ID))
	if tz := strings.TrimSpace(cal.Timezone); tz != "" {
		c.SetXWRTimezone(tz)
	}

	for _, e := range events {
		if err := addEvent(c, e, now); err != nil {
			return nil, fmt.Errorf("export event %s: %w", e.ID, err)
		}
	}
	return []byte(c.Serialize()), nil
}

func addEvent(c *ical.Calendar, e model.Event, now time.Time) error {
	ve := c.AddEvent(e.ID)
	ve.SetDtStampTime(now.UTC())
	if !e.CreatedAt.IsZero() {
		ve.SetCreatedTime(e.CreatedAt.UTC())
	}
	if !e.UpdatedAt.IsZero() {
		ve.SetModifiedAt(e.UpdatedAt.UTC())
	}
	ve.SetStartAt(e.Start.UTC())
	ve.SetEndAt(e.End.UTC())
	ve.SetSummary(e.Name)
	if d := strings.TrimSpace(e.Description); d != "" {
		ve.SetDescription(d)
	}

	if e.Repeat.Recurring() {
		rule, err := RRule(e.Repeat)
		if err != nil {
			return err
		}
		ve.AddRrule(rule)
	}

	if e.Reminder != nil && !e.Reminder.After(e.Start) {
		alarm := ve.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger(trigger(e.Start.Sub(*e.Reminder)))
		alarm.SetProperty(ical.ComponentPropertyDescription, e.Name)
	}
	return nil
}

var freqs = map[model.Cadence]rrule.Frequency{
	model.CadenceDaily:   rrule.DAILY,
	model.CadenceWeekly:  rrule.WEEKLY,
	model.CadenceMonthly: rrule.MONTHLY,
	model.CadenceYearly:  rrule.YEARLY,
}

// RRule returns the RRULE value (without the "RRULE:" prefix) for c.
func RRule(c model.Cadence) (string, error) {
	freq, ok := freqs[c]
	if !ok {
		return "", fmt.Errorf("cadence %s does not repeat", c)
	}
	opt := rrule.ROption{Freq: freq}
	if _, err := rrule.NewRRule(opt); err != nil {
		return "", fmt.Errorf("build rrule: %w", err)
	}
	return opt.RRuleString(), nil
}

// trigger renders a negative RFC 5545 duration, e.g. -PT1H30M.
func trigger(before time.Duration) string {
	if before <= 0 {
		return "PT0S"
	}
	before = before.Round(time.Second)
	days := before / (24 * time.Hour)
	before -= days * 24 * time.Hour
	h := before / time.Hour
	before -= h * time.Hour
	m := before / time.Minute
	s := (before - m*time.Minute) / time.Second

	var b strings.Builder
	b.WriteString("-P")
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if h > 0 || m > 0 || s > 0 {
		b.WriteByte('T')
		if h > 0 {
			fmt.Fprintf(&b, "%dH", h)
		}
		if m > 0 {
			fmt.Fprintf(&b, "%dM", m)
		}
		if s > 0 {
			fmt.Fprintf(&b, "%dS", s)
		}
	}
	return b.String()
}
