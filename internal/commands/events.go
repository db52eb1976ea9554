package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schedbot/internal/eventsched"
	"schedbot/internal/model"
	"schedbot/internal/storage"
	"schedbot/internal/transport/telegram/router"
	"schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

// validateEvent checks what the command layer owns before the engine is
// called. checkReminder is false when an unchanged reminder may have passed.
func validateEvent(e model.Event, now time.Time, checkReminder bool) error {
	if !e.End.After(e.Start) {
		return eventsched.ErrEventEndBeforeStart
	}
	if e.Start.Before(now) || e.End.Before(now) {
		return eventsched.ErrEventInPast
	}
	if e.Reminder != nil {
		if e.Reminder.After(e.Start) {
			return ErrReminderAfterStart
		}
		if checkReminder && e.Reminder.Before(now) {
			return eventsched.ErrEventInPast
		}
	}
	return nil
}

func (s *Service) cmdEventCreate(ctx context.Context, req *router.Request) error {
	cal, loc, err := s.calendar(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	f, err := readFields(strings.Join(req.Args, " "), req.Flag, loc)
	if err != nil {
		return err
	}
	if f.name == nil {
		return parseErr("the event needs a name")
	}
	if f.start == nil {
		return parseErr("missing --start")
	}

	ev := model.Event{CalendarID: cal.ID, Name: *f.name, Start: *f.start, End: f.start.Add(s.cfg.DefaultDuration)}
	if f.end != nil {
		ev.End = *f.end
	}
	if f.desc != nil {
		ev.Description = *f.desc
	}
	if f.repeat != nil {
		ev.Repeat = *f.repeat
	}
	if f.mentions != nil {
		ev.Mentions = *f.mentions
	}
	if f.remind != nil {
		if ev.Reminder, err = parseReminder(*f.remind, ev.Start, loc); err != nil {
			return err
		}
	}
	if err := validateEvent(ev, s.now(), true); err != nil {
		return err
	}

	ev, err = s.store.CreateEvent(ctx, ev)
	if err != nil {
		return err
	}
	if err := s.sched.Schedule(ctx, ev, s.sched.Target(cal)); err != nil {
		// An event without timers would never fire; do not keep it.
		if derr := s.store.DeleteEvent(ctx, ev.ID); derr != nil {
			req.Logger.Error("rollback of unscheduled event failed", logx.String("event_id", ev.ID), logx.Err(derr))
		}
		return err
	}
	req.Logger.Info("event created", logx.String("event_id", ev.ID), logx.Time("start", ev.Start))
	_, err = eventCard("New event created", ev, loc).Send(ctx, req.Adapter, req.Chat)
	return err
}

// eventAt returns the n-th (1-based) event of the calendar in list order.
func (s *Service) eventAt(ctx context.Context, calendarID int64, arg string) (model.Event, error) {
	n, err := parseIndex(arg)
	if err != nil {
		return model.Event{}, err
	}
	events, err := s.store.ListEvents(ctx, calendarID)
	if err != nil {
		return model.Event{}, err
	}
	if n > len(events) {
		return model.Event{}, ErrEventNotFound
	}
	return events[n-1], nil
}

func (s *Service) cmdEventList(ctx context.Context, req *router.Request) error {
	cal, loc, err := s.calendar(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(req.Args) > 0 {
		ev, err := s.eventAt(ctx, cal.ID, req.Args[0])
		if err != nil {
			return err
		}
		_, err = eventCard("Event", ev, loc).Send(ctx, req.Adapter, req.Chat)
		return err
	}

	events, err := s.store.ListEvents(ctx, cal.ID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return req.Reply(ctx, "No events found. Create one with /event create.")
	}
	page := 0
	if v, ok := req.Flag("page", "p"); ok {
		n, err := parseIndex(v)
		if err != nil {
			return parseErr("page must be greater than 0")
		}
		page = n - 1
	}
	_, err = eventListPage(events, page, s.cfg.PageSize, loc, s.now()).Send(ctx, req.Adapter, req.Chat)
	return err
}

func (s *Service) cmdEventUpdate(ctx context.Context, req *router.Request) error {
	cal, loc, err := s.calendar(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(req.Args) == 0 {
		return parseErr("usage: /event update <number> [flags]")
	}
	ev, err := s.eventAt(ctx, cal.ID, req.Args[0])
	if err != nil {
		return err
	}
	now := s.now()
	if ev.InProgress(now) {
		return fmt.Errorf("update %s: %w", ev.ID, ErrEventAlreadyStarted)
	}
	f, err := readFields(strings.Join(req.Args[1:], " "), req.Flag, loc)
	if err != nil {
		return err
	}
	if f.empty() {
		return parseErr("nothing to update, pass a new name or flags")
	}

	offset := time.Duration(-1)
	if ev.Reminder != nil {
		offset = ev.Start.Sub(*ev.Reminder)
	}
	if f.name != nil {
		ev.Name = *f.name
	}
	if f.desc != nil {
		ev.Description = *f.desc
	}
	if f.repeat != nil {
		ev.Repeat = *f.repeat
	}
	if f.mentions != nil {
		ev.Mentions = *f.mentions
	}
	if f.start != nil {
		// A moved start keeps the duration unless --end is given too.
		ev.End = f.start.Add(ev.End.Sub(ev.Start))
		ev.Start = *f.start
		ev.WallClock = nil
		if offset >= 0 {
			r := ev.Start.Add(-offset)
			ev.Reminder = &r
		}
	}
	if f.end != nil {
		ev.End = *f.end
	}
	if f.remind != nil {
		if ev.Reminder, err = parseReminder(*f.remind, ev.Start, loc); err != nil {
			return err
		}
	}
	if err := validateEvent(ev, now, f.remind != nil || f.start != nil); err != nil {
		return err
	}

	if err := s.store.SaveEvent(ctx, &ev); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrEventNotFound
		}
		return err
	}
	if err := s.sched.Reschedule(ctx, ev, s.sched.Target(cal)); err != nil {
		return err
	}
	_, err = eventCard("Event updated", ev, loc).Send(ctx, req.Adapter, req.Chat)
	return err
}

func (s *Service) cmdEventRSVP(ctx context.Context, req *router.Request) error {
	cal, _, err := s.calendar(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(req.Args) == 0 {
		return parseErr("usage: /event rsvp <number>")
	}
	ev, err := s.eventAt(ctx, cal.ID, req.Args[0])
	if err != nil {
		return err
	}
	if ev.InProgress(s.now()) {
		return fmt.Errorf("rsvp %s: %w", ev.ID, ErrEventAlreadyStarted)
	}
	going := ev.ToggleRSVP(req.FromID)
	if err := s.store.SaveEvent(ctx, &ev); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrEventNotFound
		}
		return err
	}
	if err := s.sched.Reschedule(ctx, ev, s.sched.Target(cal)); err != nil {
		return err
	}

	who := tgui.Mention(req.FromName, req.FromID)
	if req.FromName == "" {
		who = tgui.Mention(fmt.Sprint(req.FromID), req.FromID)
	}
	if going {
		return req.Reply(ctx, fmt.Sprintf("✅ Added RSVP for %s to %s.", who, tgui.B(ev.Name)))
	}
	return req.Reply(ctx, fmt.Sprintf("➖ Removed RSVP for %s from %s.", who, tgui.B(ev.Name)))
}

func (s *Service) cmdEventDelete(ctx context.Context, req *router.Request) error {
	cal, _, err := s.calendar(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(req.Args) == 0 {
		return parseErr("usage: /event delete <number|all>")
	}

	if strings.EqualFold(req.Args[0], "all") {
		deleted, err := s.store.DeleteAllEvents(ctx, cal.ID)
		if err != nil {
			return err
		}
		for _, e := range deleted {
			s.unschedule(ctx, e.ID)
		}
		req.Logger.Info("all events deleted", logx.Int("count", len(deleted)))
		return req.Reply(ctx, fmt.Sprintf("🗑 Deleted all events (%d).", len(deleted)))
	}

	ev, err := s.eventAt(ctx, cal.ID, req.Args[0])
	if err != nil {
		return err
	}
	if err := s.store.DeleteEvent(ctx, ev.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrEventNotFound
		}
		return err
	}
	s.unschedule(ctx, ev.ID)
	return req.Reply(ctx, fmt.Sprintf("🗑 Deleted event %s.", tgui.B(ev.Name)))
}

// unschedule disarms the timers of a deleted event. Their rows are already
// gone with the event, so a failure here only leaves inert runtime timers.
func (s *Service) unschedule(ctx context.Context, id string) {
	if _, err := s.sched.Unschedule(ctx, id); err != nil {
		s.log.Warn("unschedule failed", logx.String("event_id", id), logx.Err(err))
	}
}
