package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/internal/model"
	"schedbot/internal/task/engine"
	"schedbot/pkg/logx"
)

// TimerRepo is the durable side of Timers.
type TimerRepo interface {
	InsertTimer(ctx context.Context, t model.PendingTimer) error
	ReplaceTimers(ctx context.Context, eventID string, timers []model.PendingTimer) error
	DeleteTimer(ctx context.Context, key model.TimerKey) error
	DeleteTimers(ctx context.Context, eventID string) (int64, error)
	ClaimTimer(ctx context.Context, key model.TimerKey, version int64, at time.Time) (bool, error)
	ListPendingTimers(ctx context.Context) ([]model.PendingTimer, error)
	ListPendingTimersForEvent(ctx context.Context, eventID string) ([]model.PendingTimer, error)
	PruneConsumed(ctx context.Context, before time.Time) (int64, error)
}

// FireFunc handles a claimed timer. It runs on the task engine.
type FireFunc func(ctx context.Context, t model.PendingTimer) error

// FiredEvent is the bus payload for timer firings and drops.
type FiredEvent struct {
	Key    model.TimerKey
	FireAt time.Time
	Late   time.Duration
	Reason string `json:",omitempty"`
}

const requeueDelay = time.Second

type TimersConfig struct {
	// FireTimeout bounds one handler attempt; zero uses the engine default.
	FireTimeout time.Duration
}

// Timers arms persisted one-shot timers and hands claimed firings to a FireFunc.
type Timers struct {
	cfg  TimersConfig
	repo TimerRepo
	exec Enqueuer
	log  logx.Logger
	bus  eventbus.Bus
	now  func() time.Time

	version atomic.Int64

	mu      sync.Mutex
	running bool
	onFire  FireFunc
	armed   map[model.TimerKey]armedTimer
}

type armedTimer struct {
	timer   *time.Timer
	version int64
}

func NewTimers(cfg TimersConfig, repo TimerRepo, exec Enqueuer, log logx.Logger, bus eventbus.Bus) *Timers {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Timers{cfg: cfg, repo: repo, exec: exec, log: log, bus: bus, now: time.Now, armed: map[model.TimerKey]armedTimer{}}
	t.version.Store(time.Now().UnixNano())
	return t
}

// OnFire installs the handler. Call before Start.
func (s *Timers) OnFire(fn FireFunc) {
	s.mu.Lock()
	s.onFire = fn
	s.mu.Unlock()
}

// Start arms every live timer in the repository; past-due ones fire at once.
func (s *Timers) Start(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPendingTimers(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.running = true
	for _, t := range pending {
		s.armLocked(t)
	}
	s.mu.Unlock()

	overdue := 0
	now := s.now()
	for _, t := range pending {
		if !t.FireAt.After(now) {
			overdue++
		}
	}
	s.log.Info("timers restored", logx.Int("armed", len(pending)), logx.Int("overdue", overdue))
	return len(pending), nil
}

// Stop disarms runtime timers. Rows stay in the repository for the next Start.
func (s *Timers) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	for k, a := range s.armed {
		a.timer.Stop()
		delete(s.armed, k)
	}
}

// Register persists and arms one timer. It fails with the repository's
// "exists" error when a live timer already holds the key.
func (s *Timers) Register(ctx context.Context, t model.PendingTimer) (model.PendingTimer, error) {
	t.Version = s.version.Add(1)
	if err := s.repo.InsertTimer(ctx, t); err != nil {
		return model.PendingTimer{}, err
	}
	s.mu.Lock()
	s.armLocked(t)
	s.mu.Unlock()
	s.log.Debug("timer registered", logx.String("key", t.Key.String()), logx.Time("fire_at", t.FireAt))
	return t, nil
}

// Replace swaps every timer of eventID for timers in one repository transaction.
func (s *Timers) Replace(ctx context.Context, eventID string, timers []model.PendingTimer) ([]model.PendingTimer, error) {
	out := make([]model.PendingTimer, len(timers))
	for i, t := range timers {
		t.Version = s.version.Add(1)
		out[i] = t
	}
	if err := s.repo.ReplaceTimers(ctx, eventID, out); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.disarmEventLocked(eventID)
	for _, t := range out {
		s.armLocked(t)
	}
	s.mu.Unlock()
	s.log.Debug("timers replaced", logx.String("event_id", eventID), logx.Int("count", len(out)))
	return out, nil
}

func (s *Timers) Cancel(ctx context.Context, key model.TimerKey) error {
	if err := s.repo.DeleteTimer(ctx, key); err != nil {
		return err
	}
	s.mu.Lock()
	s.disarmLocked(key)
	s.mu.Unlock()
	return nil
}

// CancelEvent removes every timer of eventID and reports how many were live.
func (s *Timers) CancelEvent(ctx context.Context, eventID string) (int, error) {
	n, err := s.repo.DeleteTimers(ctx, eventID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.disarmEventLocked(eventID)
	s.mu.Unlock()
	return int(n), nil
}

// Pending returns the live timers of an event.
func (s *Timers) Pending(ctx context.Context, eventID string) ([]model.PendingTimer, error) {
	return s.repo.ListPendingTimersForEvent(ctx, eventID)
}

// Armed reports how many runtime timers are currently set.
func (s *Timers) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}

// Prune deletes consumed rows older than age.
func (s *Timers) Prune(ctx context.Context, age time.Duration) (int64, error) {
	n, err := s.repo.PruneConsumed(ctx, s.now().Add(-age))
	if err == nil && n > 0 {
		s.log.Debug("consumed timers pruned", logx.Int64("count", n))
	}
	return n, err
}

func (s *Timers) armLocked(t model.PendingTimer) {
	if !s.running {
		return
	}
	s.disarmLocked(t.Key)
	delay := max(t.FireAt.Sub(s.now()), 0)
	s.armed[t.Key] = armedTimer{version: t.Version, timer: time.AfterFunc(delay, func() { s.fire(t) })}
}

func (s *Timers) disarmLocked(key model.TimerKey) {
	if a, ok := s.armed[key]; ok {
		a.timer.Stop()
		delete(s.armed, key)
	}
}

func (s *Timers) disarmEventLocked(eventID string) {
	for k := range s.armed {
		if k.EventID == eventID {
			s.disarmLocked(k)
		}
	}
}

// fire runs on the timer goroutine; the real work is queued on the engine.
func (s *Timers) fire(t model.PendingTimer) {
	s.mu.Lock()
	a, ok := s.armed[t.Key]
	if !ok || a.version != t.Version || !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.armed, t.Key)
	handler := s.onFire
	s.mu.Unlock()

	claimed := false
	err := s.exec.Enqueue(engine.Task{
		Name:    "timer." + string(t.Key.Purpose),
		Key:     "timer:" + t.Key.String(),
		Timeout: s.cfg.FireTimeout,
		Run: func(ctx context.Context) error {
			if !claimed {
				ok, err := s.repo.ClaimTimer(ctx, t.Key, t.Version, s.now())
				if err != nil {
					return err
				}
				if !ok {
					s.publish(eventbus.TopicTimerDropped, t, "stale")
					s.log.Debug("timer firing dropped", logx.String("key", t.Key.String()), logx.Int64("version", t.Version))
					return nil
				}
				claimed = true
				s.publish(eventbus.TopicTimerFired, t, "")
			}
			if handler == nil {
				return nil
			}
			return handler(ctx, t)
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrQueueFull):
		s.log.Warn("timer requeued: engine busy", logx.String("key", t.Key.String()))
		s.mu.Lock()
		if s.running {
			if _, taken := s.armed[t.Key]; !taken {
				s.armed[t.Key] = armedTimer{version: t.Version, timer: time.AfterFunc(requeueDelay, func() { s.fire(t) })}
			}
		}
		s.mu.Unlock()
	default:
		// The row is still live and is re-armed on the next Start.
		s.log.Warn("timer not dispatched", logx.String("key", t.Key.String()), logx.Err(err))
	}
}

func (s *Timers) publish(topic string, t model.PendingTimer, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Data: FiredEvent{Key: t.Key, FireAt: t.FireAt, Late: max(s.now().Sub(t.FireAt), 0), Reason: reason}})
}
