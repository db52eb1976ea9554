package eventsched

import (
	"context"
	"fmt"

	"schedbot/internal/model"
	"schedbot/pkg/logx"
)

// Reconcile repairs every stored event that has no live timer: a future end
// gets its remaining timers back, a passed recurring event is renewed past
// now, and an ended one-off event is removed. Events that still hold a live
// timer are left alone. Per-event failures are counted and logged; the pass
// continues.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport
	events, err := e.repo.ListAllEvents(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile: %w", err)
	}

	cals := map[int64]model.Calendar{}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Checked++

		cal, ok := cals[ev.CalendarID]
		if !ok {
			if cal, err = e.repo.GetCalendar(ctx, ev.CalendarID); err != nil {
				rep.Failed++
				e.log.Warn("reconcile: calendar unavailable", logx.String("event_id", ev.ID), logx.Int64("calendar_id", ev.CalendarID), logx.Err(err))
				continue
			}
			cals[ev.CalendarID] = cal
		}

		outcome, err := e.reconcileOne(ctx, ev.ID, e.Target(cal))
		if err != nil {
			rep.Failed++
			e.log.Warn("reconcile: event not repaired", logx.String("event_id", ev.ID), logx.Err(err))
			continue
		}
		switch outcome {
		case outcomeRearmed:
			rep.Rearmed++
		case outcomeRenewed:
			rep.Renewed++
		case outcomeExpired:
			rep.Expired++
		}
	}

	if rep.Rearmed+rep.Renewed+rep.Expired+rep.Failed > 0 {
		e.log.Info("reconcile finished",
			logx.Int("checked", rep.Checked),
			logx.Int("rearmed", rep.Rearmed),
			logx.Int("renewed", rep.Renewed),
			logx.Int("expired", rep.Expired),
			logx.Int("failed", rep.Failed),
		)
	}
	return rep, nil
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeRearmed
	outcomeRenewed
	outcomeExpired
)

func (e *Engine) reconcileOne(ctx context.Context, id string, target model.DeliveryTarget) (outcome, error) {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock: a firing or a command may have raced the listing.
	live, err := e.timers.Pending(ctx, id)
	if err != nil {
		return outcomeNone, err
	}
	if len(live) > 0 {
		return outcomeNone, nil
	}
	ev, ok, err := e.load(ctx, id)
	if !ok {
		return outcomeNone, err
	}

	now := e.now()
	switch {
	case ev.End.After(now):
		return outcomeRearmed, e.replaceLocked(ctx, ev, target, now)
	case ev.Repeat.Recurring():
		renewed, err := e.renewLocked(ctx, &ev, target)
		if !renewed {
			return outcomeNone, err
		}
		return outcomeRenewed, nil
	default:
		return outcomeExpired, e.expireLocked(ctx, ev)
	}
}
