package scheduler

import (
	"context"
	"testing"
	"time"

	"schedbot/pkg/logx"
)

func TestServiceRunsAndRemovesSchedules(t *testing.T) {
	t.Parallel()
	eng := newEngine(t)
	s := New(Config{Timezone: "UTC"}, eng, logx.Nop(), nil)

	ran := make(chan struct{}, 4)
	if err := s.AddSchedule("timers.prune", "1s", time.Second, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if err := s.AddSchedule("bad", "* * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("AddSchedule accepted an invalid cron spec")
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	infos := s.Schedules()
	if len(infos) != 1 || infos[0].Name != "timers.prune" || infos[0].Spec != "@every 1s" || infos[0].Next.IsZero() {
		t.Fatalf("Schedules() = %+v", infos)
	}

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatalf("interval schedule never ran")
	}

	if !s.Remove("timers.prune") {
		t.Fatalf("Remove reported nothing removed")
	}
	if s.Remove("timers.prune") {
		t.Fatalf("second Remove reported removal")
	}
	if len(s.Schedules()) != 0 {
		t.Fatalf("schedules left after Remove")
	}
}
