package eventsched

import (
	"context"
	"errors"
	"time"

	"schedbot/internal/model"
	"schedbot/internal/task/engine"
)

var (
	ErrEventInPast         = errors.New("event is in the past")
	ErrEventEndBeforeStart = errors.New("event ends before it starts")
	// ErrAlreadyScheduled is a caller bug: Schedule on an event with live timers.
	ErrAlreadyScheduled = errors.New("event already has live timers")
)

// Repository is the event store the engine reads back on every firing.
type Repository interface {
	LoadEvent(ctx context.Context, id string) (model.Event, error)
	// SaveEventIfUnchanged fails with storage.ErrConflict when the row changed
	// since e was loaded.
	SaveEventIfUnchanged(ctx context.Context, e *model.Event) error
	DeleteEvent(ctx context.Context, id string) error
	ListAllEvents(ctx context.Context) ([]model.Event, error)
	GetCalendar(ctx context.Context, id int64) (model.Calendar, error)
}

// TimerStore is the durable timer capability.
type TimerStore interface {
	Replace(ctx context.Context, eventID string, timers []model.PendingTimer) ([]model.PendingTimer, error)
	CancelEvent(ctx context.Context, eventID string) (int, error)
	Pending(ctx context.Context, eventID string) ([]model.PendingTimer, error)
}

// Dispatcher delivers notifications. Errors are logged, never propagated.
type Dispatcher interface {
	SendReminder(ctx context.Context, target model.DeliveryTarget, e model.Event) error
	SendStart(ctx context.Context, target model.DeliveryTarget, e model.Event) error
}

// Executor runs repeat jobs; the engine's overlap gate keeps one per event.
type Executor interface {
	Enqueue(t engine.Task) error
}

type Config struct {
	// Client names the adapter used for targets built by Reconcile.
	Client string
	// KeepRSVPsOnRepeat carries attendees over to the renewed occurrence.
	KeepRSVPsOnRepeat bool
	// RepeatTimeout bounds one renewal attempt; zero uses the executor default.
	RepeatTimeout time.Duration
}

// RenewedEvent is the bus payload of event.renewed.
type RenewedEvent struct {
	EventID    string    `json:"event_id"`
	CalendarID int64     `json:"calendar_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Skipped    int       `json:"skipped,omitempty"`
}

// ExpiredEvent is the bus payload of event.expired.
type ExpiredEvent struct {
	EventID    string `json:"event_id"`
	CalendarID int64  `json:"calendar_id"`
	Name       string `json:"name"`
}

// ReconcileReport counts what Reconcile repaired.
type ReconcileReport struct {
	Checked int
	Rearmed int
	Renewed int
	Expired int
	Failed  int
}
