package eventsched

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/internal/model"
	"schedbot/pkg/logx"
)

const lockStripes = 64

// Engine is the scheduling engine and repeat job handler.
type Engine struct {
	repo   Repository
	timers TimerStore
	disp   Dispatcher
	exec   Executor
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	cfgMu sync.RWMutex
	cfg   Config

	locks [lockStripes]sync.Mutex
}

func New(cfg Config, repo Repository, timers TimerStore, disp Dispatcher, exec Executor, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{repo: repo, timers: timers, disp: disp, exec: exec, log: log, bus: bus, now: time.Now}
	e.Apply(cfg)
	return e
}

// Apply swaps the live-reloadable settings.
func (e *Engine) Apply(cfg Config) {
	if cfg.Client == "" {
		cfg.Client = "telegram"
	}
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
}

func (e *Engine) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Target is the delivery target for events of cal.
func (e *Engine) Target(cal model.Calendar) model.DeliveryTarget {
	return model.DeliveryTarget{
		Client:     e.config().Client,
		ChatID:     cal.DefaultChannel.ChatID,
		ThreadID:   cal.DefaultChannel.ThreadID,
		CalendarID: cal.ID,
	}
}

// Schedule registers the timers of ev's current occurrence. ev must already
// be saved and must not have live timers.
func (e *Engine) Schedule(ctx context.Context, ev model.Event, target model.DeliveryTarget) error {
	now := e.now()
	if err := validate(ev, now); err != nil {
		return err
	}
	mu := e.lockFor(ev.ID)
	mu.Lock()
	defer mu.Unlock()

	live, err := e.timers.Pending(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("schedule event %s: %w", ev.ID, err)
	}
	if len(live) > 0 {
		return fmt.Errorf("schedule event %s: %w", ev.ID, ErrAlreadyScheduled)
	}
	return e.replaceLocked(ctx, ev, target, now)
}

// Reschedule replaces every timer of ev with the timers of its current data.
// Cancel and re-create commit together; on error the old set is kept.
func (e *Engine) Reschedule(ctx context.Context, ev model.Event, target model.DeliveryTarget) error {
	now := e.now()
	if err := validate(ev, now); err != nil {
		return err
	}
	mu := e.lockFor(ev.ID)
	mu.Lock()
	defer mu.Unlock()
	return e.replaceLocked(ctx, ev, target, now)
}

// Unschedule cancels every timer of eventID. Unknown ids are not an error.
func (e *Engine) Unschedule(ctx context.Context, eventID string) (int, error) {
	mu := e.lockFor(eventID)
	mu.Lock()
	defer mu.Unlock()
	n, err := e.timers.CancelEvent(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("unschedule event %s: %w", eventID, err)
	}
	if n > 0 {
		e.log.Debug("event unscheduled", logx.String("event_id", eventID), logx.Int("timers", n))
	}
	return n, nil
}

func (e *Engine) replaceLocked(ctx context.Context, ev model.Event, target model.DeliveryTarget, now time.Time) error {
	timers := timersFor(ev, target, now)
	if _, err := e.timers.Replace(ctx, ev.ID, timers); err != nil {
		return fmt.Errorf("schedule event %s: %w", ev.ID, err)
	}
	e.log.Debug("event scheduled",
		logx.String("event_id", ev.ID),
		logx.Int("timers", len(timers)),
		logx.Time("start", ev.Start),
		logx.String("repeat", ev.Repeat.String()),
	)
	return nil
}

func validate(ev model.Event, now time.Time) error {
	if !ev.End.After(ev.Start) {
		return ErrEventEndBeforeStart
	}
	if ev.Start.Before(now) {
		return fmt.Errorf("%w: starts %s", ErrEventInPast, ev.Start.UTC().Format(time.RFC3339))
	}
	return nil
}

// timersFor builds the timers not yet due: reminder, start and end. A timer
// due exactly now is kept and fires as soon as it is armed.
func timersFor(ev model.Event, target model.DeliveryTarget, now time.Time) []model.PendingTimer {
	var out []model.PendingTimer
	add := func(p model.TimerPurpose, at time.Time, repeat bool) {
		if at.Before(now) {
			return
		}
		out = append(out, model.PendingTimer{
			Key:    model.TimerKey{EventID: ev.ID, Purpose: p},
			FireAt: at,
			Target: target,
			Repeat: repeat,
		})
	}
	if ev.Reminder != nil {
		add(model.PurposeReminder, *ev.Reminder, false)
	}
	add(model.PurposeStart, ev.Start, false)
	add(model.PurposeEnd, ev.End, ev.Repeat.Recurring())
	return out
}

func (e *Engine) lockFor(eventID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(eventID))
	return &e.locks[h.Sum32()%lockStripes]
}

func (e *Engine) publish(topic string, data any) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: topic, Time: e.now(), Data: data})
	}
}
