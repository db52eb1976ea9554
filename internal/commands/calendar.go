package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"schedbot/internal/model"
	"schedbot/internal/storage"
	"schedbot/internal/transport/telegram/router"
	"schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

const maxPrefixRunes = 8

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return nil, parseErr("give an IANA timezone such as Europe/Berlin")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, parseErr("unknown timezone %q", name)
	}
	return loc, nil
}

func (s *Service) cmdInit(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return parseErr("usage: /init <timezone>")
	}
	loc, err := loadLocation(req.Args[0])
	if err != nil {
		return err
	}
	channel := model.ChatTarget{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID}
	cal, err := s.store.InitialiseCalendar(ctx, req.Chat.ChatID, loc.String(), channel, s.cfg.DefaultPrefix)
	if err != nil {
		return err
	}
	s.prefixes.Invalidate(cal.ID)
	moved, err := s.retarget(ctx, cal)
	if err != nil {
		return err
	}
	req.Logger.Info("calendar initialised", logx.String("tz", cal.Timezone), logx.Int("retargeted", moved))
	return req.Reply(ctx, fmt.Sprintf("✅ Calendar initialised with timezone %s. Notifications go to this chat.", tgui.Code(cal.Timezone)))
}

func (s *Service) cmdTimezone(ctx context.Context, req *router.Request) error {
	cal, _, err := s.calendar(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(req.Args) == 0 {
		return req.Reply(ctx, fmt.Sprintf("🌍 Timezone: %s", tgui.Code(cal.Timezone)))
	}
	loc, err := loadLocation(req.Args[0])
	if err != nil {
		return err
	}
	if err := s.store.UpdateTimezone(ctx, cal.ID, loc.String()); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Timezone changed from %s to %s. Existing events keep their absolute times.",
		tgui.Code(cal.Timezone), tgui.Code(loc.String())))
}

func (s *Service) cmdChannel(ctx context.Context, req *router.Request) error {
	cal, _, err := s.calendar(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(req.Args) == 0 {
		return req.Reply(ctx, "📣 Notifications go to "+describeChannel(cal.DefaultChannel)+".")
	}
	if !strings.EqualFold(req.Args[0], "here") {
		return parseErr("usage: /channel here")
	}
	ch := model.ChatTarget{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID}
	if err := s.store.UpdateDefaultChannel(ctx, cal.ID, ch); err != nil {
		return err
	}
	cal.DefaultChannel = ch
	moved, err := s.retarget(ctx, cal)
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Notifications now go to %s (%d events moved).", describeChannel(ch), moved))
}

func describeChannel(ch model.ChatTarget) string {
	if ch.ThreadID != 0 {
		return fmt.Sprintf("chat %s, topic %s", tgui.Code(fmt.Sprint(ch.ChatID)), tgui.Code(fmt.Sprint(ch.ThreadID)))
	}
	return "chat " + tgui.Code(fmt.Sprint(ch.ChatID)).String()
}

// retarget reschedules every event of cal that has not started so pending
// timers carry the calendar's current delivery target. Running events keep
// their target until the next occurrence.
func (s *Service) retarget(ctx context.Context, cal model.Calendar) (int, error) {
	events, err := s.store.ListEvents(ctx, cal.ID)
	if err != nil {
		return 0, err
	}
	target := s.sched.Target(cal)
	now := s.now()
	n := 0
	for _, e := range events {
		if e.HasStarted(now) {
			continue
		}
		if err := s.sched.Reschedule(ctx, e, target); err != nil {
			s.log.Warn("retarget failed", logx.String("event_id", e.ID), logx.Err(err))
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) cmdPrefix(ctx context.Context, req *router.Request) error {
	cal, _, err := s.calendar(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(req.Args) == 0 {
		return req.Reply(ctx, fmt.Sprintf("⌨️ Command prefix: %s (%s always works)", tgui.Code(cal.Prefix), tgui.Code("/")))
	}
	p := req.Args[0]
	if err := validatePrefix(p); err != nil {
		return err
	}
	if err := s.store.UpdatePrefix(ctx, cal.ID, p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrCalendarNotInitialised
		}
		return err
	}
	s.prefixes.Invalidate(cal.ID)
	return req.Reply(ctx, fmt.Sprintf("✅ Command prefix set to %s.", tgui.Code(p)))
}

func validatePrefix(p string) error {
	n := utf8.RuneCountInString(p)
	if n == 0 || n > maxPrefixRunes {
		return parseErr("prefix must be 1 to %d characters", maxPrefixRunes)
	}
	for _, r := range p {
		if unicode.IsSpace(r) || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return parseErr("prefix may only contain symbols")
		}
	}
	return nil
}

func (s *Service) cmdPing(ctx context.Context, req *router.Request) error {
	up := s.now().Sub(s.started).Round(time.Second)
	return req.Reply(ctx, fmt.Sprintf("🏓 Pong! Up for %s.", up))
}
