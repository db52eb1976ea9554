package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"schedbot/internal/model"
	"schedbot/pkg/logx"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Path: memoryPath}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedEvent(t *testing.T, st *Store, calID int64, start time.Time) model.Event {
	t.Helper()
	ctx := context.Background()
	if _, err := st.GetCalendar(ctx, calID); errors.Is(err, ErrNotFound) {
		if _, err := st.InitialiseCalendar(ctx, calID, "UTC", model.ChatTarget{ChatID: calID}, ""); err != nil {
			t.Fatalf("InitialiseCalendar: %v", err)
		}
	}
	e, err := st.CreateEvent(ctx, model.Event{
		CalendarID: calID,
		Name:       "raid night",
		Start:      start,
		End:        start.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	return e
}

func TestCalendarLifecycle(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	if _, err := st.GetCalendar(ctx, -100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCalendar(missing) err = %v, want ErrNotFound", err)
	}
	c, err := st.InitialiseCalendar(ctx, -100, "Asia/Jakarta", model.ChatTarget{ChatID: -100, ThreadID: 7}, "!")
	if err != nil {
		t.Fatalf("InitialiseCalendar: %v", err)
	}
	if !c.Initialised() || c.Prefix != "!" || c.DefaultChannel.ThreadID != 7 {
		t.Fatalf("calendar = %+v", c)
	}

	if err := st.UpdatePrefix(ctx, -100, "?"); err != nil {
		t.Fatalf("UpdatePrefix: %v", err)
	}
	if err := st.UpdateTimezone(ctx, -100, "UTC"); err != nil {
		t.Fatalf("UpdateTimezone: %v", err)
	}
	if err := st.UpdateDefaultChannel(ctx, -100, model.ChatTarget{ChatID: -100}); err != nil {
		t.Fatalf("UpdateDefaultChannel: %v", err)
	}
	c, _ = st.GetCalendar(ctx, -100)
	if c.Prefix != "?" || c.Timezone != "UTC" || c.DefaultChannel.ThreadID != 0 {
		t.Fatalf("calendar after updates = %+v", c)
	}

	// Re-initialising keeps the prefix.
	c, _ = st.InitialiseCalendar(ctx, -100, "Europe/Paris", model.ChatTarget{ChatID: -100}, "")
	if c.Prefix != "?" || c.Timezone != "Europe/Paris" {
		t.Fatalf("calendar after re-init = %+v", c)
	}

	if err := st.UpdatePrefix(ctx, -5, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdatePrefix(missing) err = %v, want ErrNotFound", err)
	}
}

func TestEventRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	start := time.Date(2030, 5, 1, 18, 0, 0, 123456789, time.UTC)
	e := seedEvent(t, st, -1, start)
	rem := start.Add(-30 * time.Minute)
	e.Reminder = &rem
	e.Repeat = model.CadenceWeekly
	e.Mentions = []string{"@alice", "@bob"}
	e.RSVPs = []int64{42, 7}
	if err := st.SaveEvent(ctx, &e); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}

	got, err := st.LoadEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("LoadEvent: %v", err)
	}
	if !got.Start.Equal(start) || !got.End.Equal(start.Add(2*time.Hour)) {
		t.Fatalf("times = %v..%v", got.Start, got.End)
	}
	if got.Reminder == nil || !got.Reminder.Equal(rem) {
		t.Fatalf("reminder = %v, want %v", got.Reminder, rem)
	}
	if got.Repeat != model.CadenceWeekly {
		t.Fatalf("repeat = %v", got.Repeat)
	}
	if len(got.RSVPs) != 2 || got.RSVPs[0] != 42 || got.RSVPs[1] != 7 {
		t.Fatalf("rsvps = %v", got.RSVPs)
	}
	if len(got.Mentions) != 2 {
		t.Fatalf("mentions = %v", got.Mentions)
	}

	got.RSVPs = nil
	got.Reminder = nil
	if err := st.SaveEvent(ctx, &got); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	again, _ := st.LoadEvent(ctx, e.ID)
	if len(again.RSVPs) != 0 || again.Reminder != nil {
		t.Fatalf("cleared event = %+v", again)
	}
}

func TestListAndDeleteEvents(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	late := seedEvent(t, st, -1, base.Add(48*time.Hour))
	early := seedEvent(t, st, -1, base)
	other := seedEvent(t, st, -2, base)

	list, err := st.ListEvents(ctx, -1)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(list) != 2 || list[0].ID != early.ID || list[1].ID != late.ID {
		t.Fatalf("ListEvents order = %+v", list)
	}

	if err := st.DeleteEvent(ctx, early.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if err := st.DeleteEvent(ctx, early.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteEvent twice err = %v, want ErrNotFound", err)
	}
	if _, err := st.LoadEvent(ctx, early.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadEvent(deleted) err = %v", err)
	}

	removed, err := st.DeleteAllEvents(ctx, -1)
	if err != nil || len(removed) != 1 || removed[0].ID != late.ID {
		t.Fatalf("DeleteAllEvents = %v, %v", removed, err)
	}
	all, _ := st.ListAllEvents(ctx)
	if len(all) != 1 || all[0].ID != other.ID {
		t.Fatalf("ListAllEvents = %+v", all)
	}
}

func TestTimerClaimIsExactlyOnce(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	e := seedEvent(t, st, -1, time.Now().Add(time.Hour))
	key := model.TimerKey{EventID: e.ID, Purpose: model.PurposeStart}
	timer := model.PendingTimer{Key: key, FireAt: e.Start, Target: model.DeliveryTarget{Client: "telegram", ChatID: -1, CalendarID: -1}, Version: 1}

	if err := st.InsertTimer(ctx, timer); err != nil {
		t.Fatalf("InsertTimer: %v", err)
	}
	if err := st.InsertTimer(ctx, timer); !errors.Is(err, ErrTimerExists) {
		t.Fatalf("InsertTimer(live) err = %v, want ErrTimerExists", err)
	}

	if ok, _ := st.ClaimTimer(ctx, key, 99, time.Now()); ok {
		t.Fatalf("claim with wrong version succeeded")
	}
	if ok, err := st.ClaimTimer(ctx, key, 1, time.Now()); !ok || err != nil {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	if ok, _ := st.ClaimTimer(ctx, key, 1, time.Now()); ok {
		t.Fatalf("second claim succeeded")
	}

	pending, _ := st.ListPendingTimers(ctx)
	if len(pending) != 0 {
		t.Fatalf("pending after claim = %d, want 0", len(pending))
	}

	// A consumed row may be re-registered.
	timer.Version = 2
	if err := st.InsertTimer(ctx, timer); err != nil {
		t.Fatalf("InsertTimer over consumed: %v", err)
	}
	got, err := st.GetTimer(ctx, key)
	if err != nil || got.Version != 2 || got.Target.Client != "telegram" {
		t.Fatalf("GetTimer = %+v, %v", got, err)
	}
}

func TestReplaceAndDeleteTimers(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	e := seedEvent(t, st, -1, time.Now().Add(time.Hour))
	mk := func(p model.TimerPurpose, at time.Time, v int64) model.PendingTimer {
		return model.PendingTimer{Key: model.TimerKey{EventID: e.ID, Purpose: p}, FireAt: at, Version: v, Target: model.DeliveryTarget{Client: "telegram"}}
	}
	if err := st.ReplaceTimers(ctx, e.ID, []model.PendingTimer{mk(model.PurposeStart, e.Start, 1), mk(model.PurposeEnd, e.End, 2)}); err != nil {
		t.Fatalf("ReplaceTimers: %v", err)
	}
	if err := st.ReplaceTimers(ctx, e.ID, []model.PendingTimer{mk(model.PurposeEnd, e.End.Add(time.Hour), 3)}); err != nil {
		t.Fatalf("ReplaceTimers: %v", err)
	}
	got, _ := st.ListPendingTimersForEvent(ctx, e.ID)
	if len(got) != 1 || got[0].Version != 3 {
		t.Fatalf("after replace = %+v", got)
	}

	bad := mk(model.PurposeStart, e.Start, 4)
	bad.Key.EventID = "other"
	if err := st.ReplaceTimers(ctx, e.ID, []model.PendingTimer{bad}); err == nil {
		t.Fatalf("ReplaceTimers with foreign key succeeded")
	}
	got, _ = st.ListPendingTimersForEvent(ctx, e.ID)
	if len(got) != 1 {
		t.Fatalf("failed replace was not rolled back: %+v", got)
	}

	n, err := st.DeleteTimers(ctx, e.ID)
	if err != nil || n != 1 {
		t.Fatalf("DeleteTimers = %d, %v", n, err)
	}
	if n, _ := st.DeleteTimers(ctx, e.ID); n != 0 {
		t.Fatalf("second DeleteTimers = %d, want 0", n)
	}
}

func TestDeletingEventCascadesTimers(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	e := seedEvent(t, st, -1, time.Now().Add(time.Hour))
	key := model.TimerKey{EventID: e.ID, Purpose: model.PurposeEnd}
	if err := st.InsertTimer(ctx, model.PendingTimer{Key: key, FireAt: e.End, Version: 1}); err != nil {
		t.Fatalf("InsertTimer: %v", err)
	}
	if err := st.DeleteEvent(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if ok, _ := st.ClaimTimer(ctx, key, 1, time.Now()); ok {
		t.Fatalf("timer of deleted event was claimable")
	}
}

func TestPruneConsumed(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	e := seedEvent(t, st, -1, time.Now().Add(time.Hour))
	key := model.TimerKey{EventID: e.ID, Purpose: model.PurposeReminder}
	_ = st.InsertTimer(ctx, model.PendingTimer{Key: key, FireAt: e.Start, Version: 1})
	claimedAt := time.Now().Add(-2 * time.Hour)
	if ok, _ := st.ClaimTimer(ctx, key, 1, claimedAt); !ok {
		t.Fatalf("claim failed")
	}
	n, err := st.PruneConsumed(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PruneConsumed = %d, %v", n, err)
	}
}

func TestPermissions(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	if _, ok, err := st.Permission(ctx, -1, 5, model.NodeEventCreate); ok || err != nil {
		t.Fatalf("Permission(none) = %v, %v", ok, err)
	}
	_ = st.SetPermission(ctx, model.Permission{CalendarID: -1, Node: model.NodeEventCreate, UserID: 5, Denied: true})
	p, ok, _ := st.Permission(ctx, -1, 5, model.NodeEventCreate)
	if !ok || !p.Denied {
		t.Fatalf("Permission = %+v, %v", p, ok)
	}
	_ = st.SetPermission(ctx, model.Permission{CalendarID: -1, Node: model.NodeEventCreate, UserID: 5})
	list, _ := st.ListPermissions(ctx, -1, 5)
	if len(list) != 1 || list[0].Denied {
		t.Fatalf("ListPermissions = %+v", list)
	}
	_ = st.ClearPermission(ctx, -1, 5, model.NodeEventCreate)
	if _, ok, _ := st.Permission(ctx, -1, 5, model.NodeEventCreate); ok {
		t.Fatalf("permission survived clear")
	}
}

func TestAuditAndReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sched.db")

	st, err := Open(ctx, Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{ActorID: 1, ChatID: -1, Action: "event.create", Target: "x"}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	_ = st.Close()

	st, err = Open(ctx, Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if n, err := st.CountAudit(ctx, "event.create"); err != nil || n != 1 {
		t.Fatalf("CountAudit = %d, %v", n, err)
	}
}

func TestIsBusyIgnoresOtherErrors(t *testing.T) {
	t.Parallel()
	for _, err := range []error{nil, ErrNotFound, fmt.Errorf("save: %w", ErrClosed)} {
		if IsBusy(err) {
			t.Fatalf("IsBusy(%v) = true, want false", err)
		}
	}
}

func TestSaveEventIfUnchangedDetectsConcurrentEdit(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	e := seedEvent(t, st, -1, time.Date(2030, 5, 1, 18, 0, 0, 0, time.UTC))

	stale := e
	e.Name = "edited"
	if err := st.SaveEvent(ctx, &e); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	stale.Name = "renewed"
	if err := st.SaveEventIfUnchanged(ctx, &stale); !errors.Is(err, ErrConflict) {
		t.Fatalf("SaveEventIfUnchanged(stale) = %v, want ErrConflict", err)
	}
	if err := st.SaveEventIfUnchanged(ctx, &e); err != nil {
		t.Fatalf("SaveEventIfUnchanged(fresh) = %v", err)
	}
	got, _ := st.LoadEvent(ctx, e.ID)
	if got.Name != "edited" || !got.UpdatedAt.Equal(e.UpdatedAt) {
		t.Fatalf("stored = %q at %v, want %q at %v", got.Name, got.UpdatedAt, "edited", e.UpdatedAt)
	}

	if err := st.DeleteEvent(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if err := st.SaveEventIfUnchanged(ctx, &e); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveEventIfUnchanged(deleted) = %v, want ErrNotFound", err)
	}
}

func TestWallClockRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	e := seedEvent(t, st, -1, time.Date(2030, 5, 1, 18, 0, 0, 0, time.UTC))

	wall := 2*time.Hour + 30*time.Minute
	e.WallClock = &wall
	if err := st.SaveEvent(ctx, &e); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	got, err := st.LoadEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("LoadEvent: %v", err)
	}
	if got.WallClock == nil || *got.WallClock != wall {
		t.Fatalf("wall clock = %v, want %v", got.WallClock, wall)
	}
}
