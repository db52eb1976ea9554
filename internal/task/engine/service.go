package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/internal/runtime/supervisor"
	"schedbot/pkg/logx"
)

// Service is a bounded queue drained by a fixed worker pool.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu     sync.Mutex
	cfg    Config
	q      chan queuedTask
	sup    *supervisor.Supervisor
	stopCh chan struct{}

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	seq      atomic.Uint64
	inFlight atomic.Int64
	dropped  atomic.Uint64
	skipped  atomic.Uint64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions
	state      *RunState
	gated      bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log, bus: bus, states: map[string]*RunState{}}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))

	queue, stopCh := s.q, s.stopCh
	for i := 0; i < cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, stopCh, queue, i)
			if c.Err() != nil {
				return c.Err()
			}
			select {
			case <-stopCh:
				return context.Canceled
			default:
				return errors.New("worker exited")
			}
		})
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop stops accepting work and waits for running tasks, bounded by ctx.
// Queued tasks that never started are discarded.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	sup, q := s.sup, s.q
	s.stopCh, s.q, s.sup = nil, nil, nil
	s.mu.Unlock()

	// Workers finish their current task; cancelling would abort it mid-flight.
	err := waitWorkers(ctx, sup)
	if err != nil {
		sup.Cancel()
	}
	discarded := s.drain(q)
	if err != nil {
		s.log.Warn("task engine stop timed out", logx.Err(err), logx.Int("discarded", discarded))
		return
	}
	s.log.Info("task engine stopped", logx.Int("discarded", discarded))
}

// drain releases the overlap gates of tasks that never ran.
func (s *Service) drain(q chan queuedTask) int {
	n := 0
	for {
		select {
		case qt := <-q:
			if qt.gated {
				qt.state.release()
			}
			n++
		default:
			return n
		}
	}
}

func waitWorkers(ctx context.Context, sup *supervisor.Supervisor) error {
	err := sup.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	sup.Cancel()
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

// Enqueue adds t without blocking.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.seq.Add(1))
	}

	s.mu.Lock()
	cfg, q := s.cfg, s.q
	s.mu.Unlock()
	if q == nil {
		return ErrStopped
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	qt := queuedTask{task: t, enqueuedAt: now, timeout: timeout, opt: t.Opt.withDefaults(cfg)}

	if qt.opt.Overlap == OverlapSkipIfRunning {
		qt.state = t.State
		if qt.state == nil {
			qt.state = s.StateFor(firstNonEmpty(t.Key, t.Name))
		}
		if !qt.state.tryAcquire() {
			s.skipped.Add(1)
			s.publish(eventbus.TopicTaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Error: "overlap"})
			s.log.Debug("task skipped: overlap", logx.String("task", t.Name))
			return ErrOverlapSkip
		}
		qt.gated = true
	}

	select {
	case q <- qt:
		return nil
	default:
		if qt.gated {
			qt.state.release()
		}
		s.dropped.Add(1)
		s.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.Int("queue_cap", cap(q)))
		return ErrQueueFull
	}
}

// StateFor returns the shared overlap gate for key.
func (s *Service) StateFor(key string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[key]
	if st == nil {
		st = &RunState{}
		s.states[key] = st
	}
	return st
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q, running := s.cfg, s.q, s.stopCh != nil
	s.mu.Unlock()

	s.hmu.Lock()
	h := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	snap := Snapshot{
		Running:  running,
		Workers:  cfg.Workers,
		InFlight: s.inFlight.Load(),
		Dropped:  s.dropped.Load(),
		Skipped:  s.skipped.Load(),
		History:  h,
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	return snap
}

func (s *Service) publish(topic string, data TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: topic, Data: data})
	}
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
