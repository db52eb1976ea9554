package model

import (
	"fmt"
	"time"
)

// TimerPurpose selects what happens when a pending timer fires.
type TimerPurpose string

const (
	PurposeReminder TimerPurpose = "reminder"
	PurposeStart    TimerPurpose = "start"
	PurposeEnd      TimerPurpose = "end"
)

func (p TimerPurpose) Valid() bool {
	switch p {
	case PurposeReminder, PurposeStart, PurposeEnd:
		return true
	}
	return false
}

// TimerKey identifies at most one live timer.
type TimerKey struct {
	EventID string
	Purpose TimerPurpose
}

func (k TimerKey) String() string { return fmt.Sprintf("%s/%s", k.EventID, k.Purpose) }

// DeliveryTarget is where notifications for an event go. It is resolved when
// the event is scheduled and carried by every timer so firings never re-derive it.
type DeliveryTarget struct {
	Client     string
	ChatID     int64
	ThreadID   int
	CalendarID int64
}

// PendingTimer is a durable one-shot timer. Repeat marks an end timer that
// renews the event instead of expiring it. Version changes on every
// registration so a stale firing can be told apart.
type PendingTimer struct {
	Key     TimerKey
	FireAt  time.Time
	Target  DeliveryTarget
	Repeat  bool
	Version int64
}
