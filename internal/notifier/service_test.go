package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"schedbot/internal/eventbus"
	"schedbot/internal/model"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

type sent struct {
	to   transport.ChatTarget
	text string
	opt  *transport.SendOptions
}

type fakeSender struct {
	mu    sync.Mutex
	fails []error
	calls int
	out   chan sent
}

func newSender(fails ...error) *fakeSender {
	return &fakeSender{fails: fails, out: make(chan sent, 8)}
}

func (f *fakeSender) Name() string { return "telegram" }

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.fails) > 0 {
		err, f.fails = f.fails[0], f.fails[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return transport.MessageRef{}, err
	}
	f.out <- sent{to: to, text: text, opt: opt}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type calendarsMock struct{ mock.Mock }

func (m *calendarsMock) GetCalendar(ctx context.Context, id int64) (model.Calendar, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Calendar), args.Error(1)
}

var (
	fixedNow = time.Date(2026, 1, 10, 17, 30, 0, 0, time.UTC)
	target   = model.DeliveryTarget{Client: "telegram", ChatID: -100, ThreadID: 7, CalendarID: -100}
)

func testEvent() model.Event {
	start := fixedNow.Add(30 * time.Minute)
	return model.Event{
		ID:          "ev-1",
		CalendarID:  -100,
		Name:        "Board <games>",
		Description: "Bring snacks",
		Start:       start,
		End:         start.Add(2 * time.Hour),
		RSVPs:       []int64{42},
		Mentions:    []string{"@alice"},
	}
}

func newService(t *testing.T, cfg Config, cals Calendars, bus eventbus.Bus, sender Sender) *Service {
	t.Helper()
	s := New(cfg, cals, logx.Nop(), bus)
	s.now = func() time.Time { return fixedNow }
	if sender != nil {
		s.Register(sender)
	}
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitSent(t *testing.T, f *fakeSender) sent {
	t.Helper()
	select {
	case m := <-f.out:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("nothing was sent")
		return sent{}
	}
}

func waitTopic(t *testing.T, ch <-chan eventbus.Event, topic string) NotificationEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == topic {
				return ev.Data.(NotificationEvent)
			}
		case <-deadline:
			t.Fatalf("no %s event", topic)
			return NotificationEvent{}
		}
	}
}

func TestSendReminderRendersInCalendarTimezone(t *testing.T) {
	t.Parallel()
	cals := &calendarsMock{}
	cals.On("GetCalendar", mock.Anything, int64(-100)).Return(model.Calendar{ID: -100, Timezone: "Europe/Berlin"}, nil).Once()
	sender := newSender()
	s := newService(t, Config{}, cals, nil, sender)

	require.NoError(t, s.SendReminder(context.Background(), target, testEvent()))
	m := waitSent(t, sender)

	assert.Equal(t, transport.ChatTarget{ChatID: -100, ThreadID: 7}, m.to)
	require.NotNil(t, m.opt)
	assert.Equal(t, "HTML", m.opt.ParseMode)
	assert.Contains(t, m.text, "<b>Board &lt;games&gt;</b>")
	assert.Contains(t, m.text, "<i>in 30m</i>")
	assert.Contains(t, m.text, "Sat 10 Jan 2026 19:00 CET")
	assert.Contains(t, m.text, "Bring snacks")
	assert.Contains(t, m.text, `<a href="tg://user?id=42">42</a>`)
	assert.Contains(t, m.text, "@alice")
	cals.AssertExpectations(t)
}

func TestSendStartFallsBackToUTC(t *testing.T) {
	t.Parallel()
	cals := &calendarsMock{}
	cals.On("GetCalendar", mock.Anything, int64(-100)).Return(model.Calendar{}, errors.New("not found"))
	sender := newSender()
	s := newService(t, Config{}, cals, nil, sender)

	e := testEvent()
	e.Repeat = model.CadenceWeekly
	require.NoError(t, s.SendStart(context.Background(), target, e))
	m := waitSent(t, sender)

	assert.Contains(t, m.text, "is starting now!")
	assert.Contains(t, m.text, "Sat 10 Jan 2026 18:00 UTC")
	assert.Contains(t, m.text, "Repeats weekly")
}

func TestTransientFailuresAreRetried(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	sender := newSender(errors.New("i/o timeout"), errors.New("i/o timeout"))
	s := newService(t, Config{RetryMax: 3, RetryBase: time.Millisecond, RatePerSec: 100}, nil, bus, sender)

	require.NoError(t, s.SendStart(context.Background(), target, testEvent()))
	waitSent(t, sender)
	ev := waitTopic(t, ch, eventbus.TopicNotifySent)

	assert.Equal(t, 3, ev.Attempts)
	assert.Equal(t, "ev-1", ev.EventID)
	assert.Equal(t, KindStart, ev.Kind)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	sender := newSender(errors.New("telegram: Forbidden: bot was kicked from the group chat (403)"))
	s := newService(t, Config{RetryMax: 5, RetryBase: time.Millisecond}, nil, bus, sender)

	require.NoError(t, s.SendReminder(context.Background(), target, testEvent()))
	ev := waitTopic(t, ch, eventbus.TopicNotifyFailed)

	assert.Contains(t, ev.Error, "bot was kicked")
	assert.Equal(t, 1, sender.Calls())
}

func TestUnknownClientIsRejected(t *testing.T) {
	t.Parallel()
	s := newService(t, Config{}, nil, nil, newSender())

	tgt := target
	tgt.Client = "discord"
	err := s.SendStart(context.Background(), tgt, testEvent())
	require.ErrorIs(t, err, ErrUnknownClient)
}

func TestStoppedServiceRefusesMessages(t *testing.T) {
	t.Parallel()
	sender := newSender()
	s := New(Config{}, nil, logx.Nop(), nil)
	s.Register(sender)
	s.Start(context.Background())
	s.Stop(context.Background())

	require.ErrorIs(t, s.SendStart(context.Background(), target, testEvent()), ErrStopped)
	assert.Zero(t, sender.Calls())
}

func TestQueueOverflowDrops(t *testing.T) {
	t.Parallel()
	s := New(Config{QueueSize: 1}, nil, logx.Nop(), nil)
	s.Register(newSender())
	// Accepting without workers keeps the queue full after one message.
	s.mu.Lock()
	s.queue = make(chan job, 1)
	s.accepting = true
	s.mu.Unlock()

	require.NoError(t, s.SendStart(context.Background(), target, testEvent()))
	require.ErrorIs(t, s.SendStart(context.Background(), target, testEvent()), ErrQueueFull)
	assert.Equal(t, 1, s.Pending())
}

func TestUntil(t *testing.T) {
	t.Parallel()
	cases := []struct {
		d    time.Duration
		want string
	}{
		{-time.Minute, "now"},
		{20 * time.Second, "now"},
		{30 * time.Minute, "in 30m"},
		{90 * time.Minute, "in 1h 30m"},
		{26*time.Hour + 29*time.Second, "in 1d 2h"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, until(tc.d), "until(%v)", tc.d)
	}
}
