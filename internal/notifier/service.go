package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"schedbot/internal/eventbus"
	"schedbot/internal/model"
	"schedbot/internal/runtime/supervisor"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

var (
	ErrQueueFull     = errors.New("notifier queue full")
	ErrStopped       = errors.New("notifier stopped")
	ErrUnknownClient = errors.New("notifier: no sender for client")
)

type job struct {
	kind    Kind
	eventID string
	target  model.DeliveryTarget
	text    string
}

// Service is the notification dispatcher. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	senders map[string]Sender

	log  logx.Logger
	bus  eventbus.Bus
	cals Calendars
	now  func() time.Time

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *supervisor.Supervisor
}

func New(cfg Config, cals Calendars, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cals: cals, log: log, bus: bus, now: time.Now, senders: map[string]Sender{}}
	s.Apply(cfg)
	return s
}

// Register routes targets whose Client equals sender.Name() to sender.
func (s *Service) Register(sender Sender) {
	s.mu.Lock()
	s.senders[sender.Name()] = sender
	s.mu.Unlock()
}

// Apply swaps limits and retry policy. Queue size and worker count apply on
// the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	// Burst equals the rate so short spikes pass without waiting.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// A failing worker must not take the app down with it.
		supervisor.WithCancelOnError(false),
	)
	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart0(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) { s.workerLoop(c, q) })
	}
	s.log.Info("notifier started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop refuses new messages and drains the queue until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	s.sendWG.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.log.Warn("notifier stop timed out", logx.Int("dropped", len(q)))
	}

	s.mu.Lock()
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
}

// SendReminder queues the reminder for e. The returned error only reports
// that nothing was queued.
func (s *Service) SendReminder(ctx context.Context, target model.DeliveryTarget, e model.Event) error {
	return s.enqueue(ctx, KindReminder, target, e, renderReminder(e, s.location(ctx, e.CalendarID), s.now()))
}

// SendStart queues the start announcement for e.
func (s *Service) SendStart(ctx context.Context, target model.DeliveryTarget, e model.Event) error {
	return s.enqueue(ctx, KindStart, target, e, renderStart(e, s.location(ctx, e.CalendarID)))
}

// Pending reports queued, unsent messages.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Service) location(ctx context.Context, calendarID int64) *time.Location {
	if s.cals == nil {
		return time.UTC
	}
	var loc *time.Location
	cal, err := s.cals.GetCalendar(ctx, calendarID)
	if err == nil {
		loc, err = cal.Location()
	}
	if err == nil {
		return loc
	}
	s.log.Warn("calendar timezone unavailable, rendering in UTC", logx.Int64("calendar_id", calendarID), logx.Err(err))
	return time.UTC
}

func (s *Service) enqueue(ctx context.Context, kind Kind, target model.DeliveryTarget, e model.Event, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j := job{kind: kind, eventID: e.ID, target: target, text: text}

	s.mu.Lock()
	if _, ok := s.senders[target.Client]; !ok {
		s.mu.Unlock()
		s.publish(eventbus.TopicNotifyDropped, j, 0, ErrUnknownClient)
		return fmt.Errorf("%w %q", ErrUnknownClient, target.Client)
	}
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- j:
		return nil
	default:
		s.publish(eventbus.TopicNotifyDropped, j, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.senders[j.target.Client]
	s.mu.Unlock()

	log := s.log.With(logx.String("kind", string(j.kind)), logx.String("event_id", j.eventID), logx.Int64("chat_id", j.target.ChatID))
	to := transport.ChatTarget{ChatID: j.target.ChatID, ThreadID: j.target.ThreadID}
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	attempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := sender.SendText(callCtx, to, j.text, opt)
		cancel()
		if err == nil {
			log.Debug("notification sent", logx.Int("attempt", attempt))
			s.publish(eventbus.TopicNotifySent, j, attempt, nil)
			return
		}
		lastErr = err
		if permanent(err) || attempt == attempts {
			break
		}
		log.Debug("notification send failed, retrying", logx.Int("attempt", attempt), logx.Err(err))

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	log.Warn("notification dropped", logx.Err(lastErr))
	s.publish(eventbus.TopicNotifyFailed, j, attempts, lastErr)
}

// permanent reports errors retrying cannot fix, such as a deleted chat or a
// bot removed from the group.
func permanent(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"chat not found", "bot was kicked", "forbidden", "not enough rights", "thread not found"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (s *Service) publish(topic string, j job, attempts int, err error) {
	if s.bus == nil {
		return
	}
	now := s.now()
	ev := NotificationEvent{Kind: j.kind, EventID: j.eventID, Client: j.target.Client, ChatID: j.target.ChatID, ThreadID: j.target.ThreadID, Attempts: attempts, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: now, Data: ev})
}

// retryDelay is base*2^(attempt-1) with 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
