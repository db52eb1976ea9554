package eventsched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/internal/model"
	"schedbot/internal/recurrence"
	"schedbot/internal/storage"
	"schedbot/internal/task/engine"
	"schedbot/pkg/logx"
)

const (
	busyRetryDelay       = 2 * time.Second
	renewConflictRetries = 3
)

// HandleFire is installed as the timer store's fire handler. It runs after the
// timer was claimed, so returning an error only retries the handler.
func (e *Engine) HandleFire(ctx context.Context, t model.PendingTimer) error {
	switch t.Key.Purpose {
	case model.PurposeReminder:
		return e.notify(ctx, t, e.disp.SendReminder)
	case model.PurposeStart:
		return e.notify(ctx, t, e.disp.SendStart)
	case model.PurposeEnd:
		if t.Repeat {
			return e.enqueueRepeat(t)
		}
		_, err := e.Expire(ctx, t)
		return err
	}
	e.log.Warn("timer with unknown purpose ignored", logx.String("key", t.Key.String()))
	return nil
}

func (e *Engine) notify(ctx context.Context, t model.PendingTimer, send func(context.Context, model.DeliveryTarget, model.Event) error) error {
	ev, ok, err := e.load(ctx, t.Key.EventID)
	if !ok {
		return err
	}
	due := ev.Start
	if t.Key.Purpose == model.PurposeReminder {
		if ev.Reminder == nil {
			e.dropStale(t, "reminder removed")
			return nil
		}
		due = *ev.Reminder
	}
	if !due.Equal(t.FireAt) {
		e.dropStale(t, "time changed")
		return nil
	}
	if err := send(ctx, t.Target, ev); err != nil {
		e.log.Warn("notification not dispatched",
			logx.String("key", t.Key.String()),
			logx.Int64("chat_id", t.Target.ChatID),
			logx.Err(err),
		)
	}
	return nil
}

func (e *Engine) enqueueRepeat(t model.PendingTimer) error {
	err := e.exec.Enqueue(engine.Task{
		Name:    "event.repeat",
		Key:     "repeat:" + t.Key.EventID,
		Timeout: e.config().RepeatTimeout,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			_, _, err := e.Renew(ctx, t)
			return err
		},
	})
	if errors.Is(err, engine.ErrOverlapSkip) {
		e.log.Debug("repeat already running", logx.String("event_id", t.Key.EventID))
		return nil
	}
	return err
}

// Renew is the repeat job: it moves the event fired by t to its next
// occurrence and schedules it for the same target. It reports false when the
// event is gone or the firing no longer matches the stored occurrence.
func (e *Engine) Renew(ctx context.Context, t model.PendingTimer) (model.Event, bool, error) {
	mu := e.lockFor(t.Key.EventID)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 0; ; attempt++ {
		ev, ok, err := e.load(ctx, t.Key.EventID)
		if !ok {
			return model.Event{}, false, err
		}
		if !ev.End.Equal(t.FireAt) {
			e.dropStale(t, "occurrence already moved")
			return ev, false, nil
		}
		if !ev.Repeat.Recurring() {
			// Cadence cleared after the timer was set; the occurrence is simply over.
			return ev, false, e.expireLocked(ctx, ev)
		}
		renewed, err := e.renewLocked(ctx, &ev, t.Target)
		if errors.Is(err, storage.ErrConflict) && attempt < renewConflictRetries {
			// an edit landed between load and save; renew from the edited row
			e.log.Debug("event edited during renewal; reloading", logx.String("event_id", ev.ID))
			continue
		}
		return ev, renewed, err
	}
}

func (e *Engine) renewLocked(ctx context.Context, ev *model.Event, target model.DeliveryTarget) (bool, error) {
	now := e.now()
	next, skipped, err := recurrence.Following(ev.Occurrence(), ev.Repeat, e.location(ctx, ev.CalendarID), now)
	if err != nil {
		return false, engine.NoRetry(fmt.Errorf("renew event %s: %w", ev.ID, err))
	}
	ev.SetOccurrence(next)
	if !e.config().KeepRSVPsOnRepeat {
		ev.RSVPs = nil
	}
	if err := e.repo.SaveEventIfUnchanged(ctx, ev); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.log.Debug("event deleted during renewal", logx.String("event_id", ev.ID))
			return false, nil
		}
		if storage.IsBusy(err) {
			return false, engine.RetryAfter(fmt.Errorf("renew event %s: %w", ev.ID, err), busyRetryDelay)
		}
		return false, fmt.Errorf("renew event %s: %w", ev.ID, err)
	}
	if err := e.replaceLocked(ctx, *ev, target, now); err != nil {
		return false, err
	}

	if skipped > 0 {
		e.log.Info("missed occurrences skipped", logx.String("event_id", ev.ID), logx.Int("skipped", skipped))
	}
	e.log.Info("event renewed",
		logx.String("event_id", ev.ID),
		logx.String("repeat", ev.Repeat.String()),
		logx.Time("start", ev.Start),
	)
	e.publish(eventbus.TopicEventRenewed, RenewedEvent{EventID: ev.ID, CalendarID: ev.CalendarID, Start: ev.Start, End: ev.End, Skipped: skipped})
	return true, nil
}

// Expire removes the one-off event whose end timer t fired. It reports
// whether the event was deleted.
func (e *Engine) Expire(ctx context.Context, t model.PendingTimer) (bool, error) {
	mu := e.lockFor(t.Key.EventID)
	mu.Lock()
	defer mu.Unlock()

	ev, ok, err := e.load(ctx, t.Key.EventID)
	if !ok {
		return false, err
	}
	if !ev.End.Equal(t.FireAt) || ev.Repeat.Recurring() {
		e.dropStale(t, "event changed")
		return false, nil
	}
	if err := e.expireLocked(ctx, ev); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) expireLocked(ctx context.Context, ev model.Event) error {
	if err := e.repo.DeleteEvent(ctx, ev.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("expire event %s: %w", ev.ID, err)
	}
	e.log.Info("event expired", logx.String("event_id", ev.ID), logx.String("name", ev.Name))
	e.publish(eventbus.TopicEventExpired, ExpiredEvent{EventID: ev.ID, CalendarID: ev.CalendarID, Name: ev.Name})
	return nil
}

// load reports ok=false with a nil error for deleted events.
func (e *Engine) load(ctx context.Context, id string) (model.Event, bool, error) {
	ev, err := e.repo.LoadEvent(ctx, id)
	switch {
	case err == nil:
		return ev, true, nil
	case errors.Is(err, storage.ErrNotFound):
		e.log.Debug("timer for deleted event ignored", logx.String("event_id", id))
		return model.Event{}, false, nil
	default:
		return model.Event{}, false, fmt.Errorf("load event %s: %w", id, err)
	}
}

func (e *Engine) dropStale(t model.PendingTimer, reason string) {
	e.log.Debug("stale timer dropped", logx.String("key", t.Key.String()), logx.String("reason", reason))
}

func (e *Engine) location(ctx context.Context, calendarID int64) *time.Location {
	var loc *time.Location
	cal, err := e.repo.GetCalendar(ctx, calendarID)
	if err == nil {
		loc, err = cal.Location()
	}
	if err != nil {
		e.log.Warn("calendar timezone unavailable, stepping in UTC", logx.Int64("calendar_id", calendarID), logx.Err(err))
		return time.UTC
	}
	return loc
}
