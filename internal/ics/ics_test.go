package ics

import (
	"bytes"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"schedbot/internal/model"
)

func TestExportWritesEventsAlarmsAndRules(t *testing.T) {
	start := time.Date(2030, 1, 7, 18, 0, 0, 0, time.UTC)
	remind := start.Add(-90 * time.Minute)
	cal := model.Calendar{ID: -1001, Timezone: "Europe/Berlin"}
	events := []model.Event{
		{ID: "ev-1", CalendarID: cal.ID, Name: "Board games", Description: "Bring snacks", Start: start, End: start.Add(3 * time.Hour), Reminder: &remind, Repeat: model.CadenceWeekly},
		{ID: "ev-2", CalendarID: cal.ID, Name: "Launch", Start: start.Add(48 * time.Hour), End: start.Add(49 * time.Hour)},
	}

	out, err := Export(cal, events, start.Add(-time.Hour))
	require.NoError(t, err)

	parsed, err := ical.ParseCalendar(bytes.NewReader(out))
	require.NoError(t, err)
	require.Len(t, parsed.Events(), 2)
	assert.Contains(t, string(out), "X-WR-TIMEZONE:Europe/Berlin")

	first := parsed.Events()[0]
	assert.Equal(t, "ev-1", first.Id())
	assert.Equal(t, "Board games", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "Bring snacks", first.GetProperty(ical.ComponentPropertyDescription).Value)
	assert.Equal(t, "20300107T180000Z", first.GetProperty(ical.ComponentPropertyDtStart).Value)
	assert.Equal(t, "20300107T210000Z", first.GetProperty(ical.ComponentPropertyDtEnd).Value)

	rr := first.GetProperty(ical.ComponentPropertyRrule)
	require.NotNil(t, rr)
	rule, err := rrule.StrToRRule(rr.Value)
	require.NoError(t, err)
	assert.Equal(t, rrule.WEEKLY, rule.OrigOptions.Freq)

	alarms := first.Alarms()
	require.Len(t, alarms, 1)
	assert.Equal(t, "-PT1H30M", alarms[0].GetProperty(ical.ComponentPropertyTrigger).Value)

	second := parsed.Events()[1]
	assert.Nil(t, second.GetProperty(ical.ComponentPropertyRrule))
	assert.Empty(t, second.Alarms())
}

func TestRRule(t *testing.T) {
	cases := map[model.Cadence]string{
		model.CadenceDaily:   "FREQ=DAILY",
		model.CadenceWeekly:  "FREQ=WEEKLY",
		model.CadenceMonthly: "FREQ=MONTHLY",
		model.CadenceYearly:  "FREQ=YEARLY",
	}
	for c, want := range cases {
		got, err := RRule(c)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := RRule(model.CadenceNone)
	assert.Error(t, err)
}

func TestTrigger(t *testing.T) {
	assert.Equal(t, "-PT30M", trigger(30*time.Minute))
	assert.Equal(t, "-P1DT2H", trigger(26*time.Hour))
	assert.Equal(t, "-P2D", trigger(48*time.Hour))
	assert.Equal(t, "PT0S", trigger(0))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "calendar--1001.ics", FileName(model.Calendar{ID: -1001}))
}
