package model

import (
	"slices"
	"time"
)

// Event is a scheduled community event. Start, End and Reminder are absolute
// instants; the calendar timezone only matters for display and recurrence.
type Event struct {
	ID          string
	CalendarID  int64
	Name        string
	Description string
	Start       time.Time
	End         time.Time
	Reminder    *time.Time
	WallClock   *time.Duration
	Repeat      Cadence
	RSVPs       []int64
	Mentions    []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Occurrence is the time triple the recurrence calculator works on.
//
// WallClock is the time of day (since local midnight) Start was meant to fall
// on when a DST gap pushed it later. It is nil when Start already shows it.
type Occurrence struct {
	Start     time.Time
	End       time.Time
	Reminder  *time.Time
	WallClock *time.Duration
}

func (e *Event) Occurrence() Occurrence {
	return Occurrence{Start: e.Start, End: e.End, Reminder: e.Reminder, WallClock: e.WallClock}
}

func (e *Event) SetOccurrence(o Occurrence) {
	e.Start, e.End, e.Reminder, e.WallClock = o.Start, o.End, o.Reminder, o.WallClock
}

// InProgress reports whether now falls in [Start, End).
func (e *Event) InProgress(now time.Time) bool {
	return !now.Before(e.Start) && now.Before(e.End)
}

func (e *Event) HasStarted(now time.Time) bool { return !now.Before(e.Start) }

func (e *Event) HasRSVP(userID int64) bool { return slices.Contains(e.RSVPs, userID) }

// ToggleRSVP adds or removes userID and reports whether the user is now attending.
func (e *Event) ToggleRSVP(userID int64) bool {
	if i := slices.Index(e.RSVPs, userID); i >= 0 {
		e.RSVPs = slices.Delete(e.RSVPs, i, i+1)
		return false
	}
	e.RSVPs = append(e.RSVPs, userID)
	return true
}
