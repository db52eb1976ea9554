package notifier

import (
	"context"
	"time"

	"schedbot/internal/model"
	"schedbot/internal/transport"
)

// Config controls the async delivery pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Sender is the outbound half of a transport adapter.
type Sender interface {
	Name() string
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Calendars resolves the calendar used to render local times.
type Calendars interface {
	GetCalendar(ctx context.Context, id int64) (model.Calendar, error)
}

type Kind string

const (
	KindReminder Kind = "reminder"
	KindStart    Kind = "start"
)

// NotificationEvent is the bus payload for delivery outcomes.
type NotificationEvent struct {
	Kind     Kind      `json:"kind"`
	EventID  string    `json:"event_id"`
	Client   string    `json:"client"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
