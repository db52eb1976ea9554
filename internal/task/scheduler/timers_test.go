package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"schedbot/internal/model"
	"schedbot/internal/storage"
	"schedbot/internal/task/engine"
	"schedbot/pkg/logx"
)

type fireRecorder struct {
	mu    sync.Mutex
	fired []model.PendingTimer
	ch    chan model.PendingTimer
}

func newRecorder() *fireRecorder { return &fireRecorder{ch: make(chan model.PendingTimer, 16)} }

func (r *fireRecorder) handle(ctx context.Context, t model.PendingTimer) error {
	r.mu.Lock()
	r.fired = append(r.fired, t)
	r.mu.Unlock()
	r.ch <- t
	return nil
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func (r *fireRecorder) wait(t *testing.T, d time.Duration) model.PendingTimer {
	t.Helper()
	select {
	case got := <-r.ch:
		return got
	case <-time.After(d):
		t.Fatalf("timer did not fire within %v", d)
		return model.PendingTimer{}
	}
}

func openStore(t *testing.T, path string) *storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	return st
}

func seed(t *testing.T, st *storage.Store) model.Event {
	t.Helper()
	ctx := context.Background()
	if _, err := st.InitialiseCalendar(ctx, -1, "UTC", model.ChatTarget{ChatID: -1}, ""); err != nil {
		t.Fatalf("InitialiseCalendar: %v", err)
	}
	start := time.Now().Add(time.Hour)
	e, err := st.CreateEvent(ctx, model.Event{CalendarID: -1, Name: "meetup", Start: start, End: start.Add(time.Hour)})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	return e
}

func newEngine(t *testing.T) *engine.Service {
	t.Helper()
	eng := engine.New(engine.Config{Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})
	return eng
}

func newTimers(t *testing.T, st *storage.Store, eng *engine.Service, rec *fireRecorder) *Timers {
	t.Helper()
	tm := NewTimers(TimersConfig{}, st, eng, logx.Nop(), nil)
	tm.OnFire(rec.handle)
	if _, err := tm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(tm.Stop)
	return tm
}

func timerFor(e model.Event, p model.TimerPurpose, at time.Time) model.PendingTimer {
	return model.PendingTimer{
		Key:    model.TimerKey{EventID: e.ID, Purpose: p},
		FireAt: at,
		Target: model.DeliveryTarget{Client: "telegram", ChatID: -1, CalendarID: -1},
	}
}

func TestTimerFiresOnce(t *testing.T) {
	t.Parallel()
	st := openStore(t, ":memory:")
	defer st.Close()
	e := seed(t, st)
	rec := newRecorder()
	tm := newTimers(t, st, newEngine(t), rec)

	reg, err := tm.Register(context.Background(), timerFor(e, model.PurposeStart, time.Now().Add(30*time.Millisecond)))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	got := rec.wait(t, 2*time.Second)
	if got.Key != reg.Key || got.Version != reg.Version || got.Target.Client != "telegram" {
		t.Fatalf("fired %+v, want %+v", got, reg)
	}
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("fired %d times, want 1", rec.count())
	}
	pending, _ := tm.Pending(context.Background(), e.ID)
	if len(pending) != 0 {
		t.Fatalf("pending after fire = %d, want 0", len(pending))
	}
}

func TestRegisterRejectsLiveDuplicate(t *testing.T) {
	t.Parallel()
	st := openStore(t, ":memory:")
	defer st.Close()
	e := seed(t, st)
	tm := newTimers(t, st, newEngine(t), newRecorder())

	tmr := timerFor(e, model.PurposeEnd, time.Now().Add(time.Hour))
	if _, err := tm.Register(context.Background(), tmr); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := tm.Register(context.Background(), tmr); err == nil {
		t.Fatalf("second Register succeeded")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	t.Parallel()
	st := openStore(t, ":memory:")
	defer st.Close()
	e := seed(t, st)
	rec := newRecorder()
	tm := newTimers(t, st, newEngine(t), rec)
	ctx := context.Background()

	_, _ = tm.Register(ctx, timerFor(e, model.PurposeReminder, time.Now().Add(50*time.Millisecond)))
	_, _ = tm.Register(ctx, timerFor(e, model.PurposeStart, time.Now().Add(60*time.Millisecond)))
	if err := tm.Cancel(ctx, model.TimerKey{EventID: e.ID, Purpose: model.PurposeReminder}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if n, err := tm.CancelEvent(ctx, e.ID); err != nil || n != 1 {
		t.Fatalf("CancelEvent = %d, %v", n, err)
	}
	if tm.Armed() != 0 {
		t.Fatalf("armed = %d, want 0", tm.Armed())
	}
	time.Sleep(150 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("cancelled timers fired %d times", rec.count())
	}
}

func TestReplaceSupersedesOldTimers(t *testing.T) {
	t.Parallel()
	st := openStore(t, ":memory:")
	defer st.Close()
	e := seed(t, st)
	rec := newRecorder()
	tm := newTimers(t, st, newEngine(t), rec)
	ctx := context.Background()

	_, _ = tm.Register(ctx, timerFor(e, model.PurposeStart, time.Now().Add(40*time.Millisecond)))
	later := time.Now().Add(120 * time.Millisecond)
	if _, err := tm.Replace(ctx, e.ID, []model.PendingTimer{timerFor(e, model.PurposeEnd, later)}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got := rec.wait(t, 2*time.Second)
	if got.Key.Purpose != model.PurposeEnd || !got.FireAt.Equal(later) {
		t.Fatalf("fired %+v, want end timer at %v", got, later)
	}
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("fired %d times, want 1", rec.count())
	}
}

func TestTimersSurviveRestart(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "timers.db")
	ctx := context.Background()

	st := openStore(t, path)
	e := seed(t, st)
	// Never started: rows are persisted but nothing is armed in this process.
	first := NewTimers(TimersConfig{}, st, newEngine(t), logx.Nop(), nil)
	fireAt := time.Now().Add(250 * time.Millisecond)
	dueAt := time.Now().Add(20 * time.Millisecond)
	_, _ = first.Register(ctx, timerFor(e, model.PurposeStart, fireAt))
	_, _ = first.Register(ctx, timerFor(e, model.PurposeReminder, dueAt))
	if first.Armed() != 0 {
		t.Fatalf("stopped timers armed %d", first.Armed())
	}
	first.Stop()
	_ = st.Close()

	time.Sleep(60 * time.Millisecond) // the reminder is now past due

	st = openStore(t, path)
	defer st.Close()
	rec := newRecorder()
	second := newTimers(t, st, newEngine(t), rec)
	if second.Armed() != 2 {
		t.Fatalf("armed after restart = %d, want 2", second.Armed())
	}

	overdue := rec.wait(t, time.Second)
	if overdue.Key.Purpose != model.PurposeReminder || !overdue.FireAt.Equal(dueAt) {
		t.Fatalf("first firing = %+v, want overdue reminder", overdue)
	}
	onTime := rec.wait(t, 2*time.Second)
	if onTime.Key.Purpose != model.PurposeStart || !onTime.FireAt.Equal(fireAt) {
		t.Fatalf("second firing = %+v, want start at %v", onTime, fireAt)
	}
	if early := time.Until(fireAt); early > 5*time.Millisecond {
		t.Fatalf("start timer fired %v early", early)
	}
}

func TestCompetingProcessesClaimOnce(t *testing.T) {
	t.Parallel()
	st := openStore(t, ":memory:")
	defer st.Close()
	e := seed(t, st)
	ctx := context.Background()

	seedTimers := NewTimers(TimersConfig{}, st, newEngine(t), logx.Nop(), nil)
	_, _ = seedTimers.Register(ctx, timerFor(e, model.PurposeStart, time.Now().Add(50*time.Millisecond)))

	rec := newRecorder()
	newTimers(t, st, newEngine(t), rec)
	newTimers(t, st, newEngine(t), rec)

	rec.wait(t, 2*time.Second)
	time.Sleep(100 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("fired %d times, want exactly 1", rec.count())
	}
}
