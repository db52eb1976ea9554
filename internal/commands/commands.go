package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schedbot/internal/eventsched"
	"schedbot/internal/model"
	"schedbot/internal/storage"
	"schedbot/internal/transport/telegram/router"
	"schedbot/pkg/logx"
)

var (
	ErrCalendarNotInitialised = errors.New("calendar not initialised")
	ErrEventAlreadyStarted    = errors.New("event already in progress")
	ErrEventNotFound          = errors.New("event not found")
	ErrReminderAfterStart     = errors.New("reminder after start")
	// ErrParse wraps every argument error; the wrapped text is shown to the user.
	ErrParse = errors.New("invalid arguments")
)

// Store is the subset of storage.Store the commands use.
type Store interface {
	GetCalendar(ctx context.Context, id int64) (model.Calendar, error)
	InitialiseCalendar(ctx context.Context, id int64, tz string, channel model.ChatTarget, prefix string) (model.Calendar, error)
	UpdatePrefix(ctx context.Context, id int64, prefix string) error
	UpdateTimezone(ctx context.Context, id int64, tz string) error
	UpdateDefaultChannel(ctx context.Context, id int64, ch model.ChatTarget) error

	CreateEvent(ctx context.Context, e model.Event) (model.Event, error)
	LoadEvent(ctx context.Context, id string) (model.Event, error)
	SaveEvent(ctx context.Context, e *model.Event) error
	DeleteEvent(ctx context.Context, id string) error
	DeleteAllEvents(ctx context.Context, calendarID int64) ([]model.Event, error)
	ListEvents(ctx context.Context, calendarID int64) ([]model.Event, error)

	SetPermission(ctx context.Context, p model.Permission) error
	ClearPermission(ctx context.Context, calendarID, userID int64, node model.PermissionNode) error
	ListPermissions(ctx context.Context, calendarID, userID int64) ([]model.Permission, error)
}

// Scheduler is implemented by *eventsched.Engine.
type Scheduler interface {
	Target(cal model.Calendar) model.DeliveryTarget
	Schedule(ctx context.Context, ev model.Event, target model.DeliveryTarget) error
	Reschedule(ctx context.Context, ev model.Event, target model.DeliveryTarget) error
	Unschedule(ctx context.Context, eventID string) (int, error)
}

type Config struct {
	DefaultPrefix   string
	DefaultDuration time.Duration
	PageSize        int
}

func (c Config) withDefaults() Config {
	if c.DefaultPrefix == "" {
		c.DefaultPrefix = model.DefaultPrefix
	}
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = time.Hour
	}
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	return c
}

type Service struct {
	cfg      Config
	store    Store
	sched    Scheduler
	prefixes *PrefixCache
	log      logx.Logger

	now     func() time.Time
	started time.Time
}

func New(cfg Config, store Store, sched Scheduler, prefixes *PrefixCache, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		sched:    sched,
		prefixes: prefixes,
		log:      log,
		now:      time.Now,
		started:  time.Now(),
	}
}

const defaultTimeout = 15 * time.Second

// Commands is the registry handed to router.Manager.SetRegistry.
func (s *Service) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "init",
			Description: "set up the calendar for this chat",
			Usage:       "/init <timezone>  e.g. /init Europe/Berlin",
			Node:        model.NodeCalendarInit,
			Audit:       true,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.cmdInit),
		},
		{
			Route:       "timezone",
			Aliases:     []string{"tz"},
			Description: "show or change the calendar timezone",
			Usage:       "/timezone [timezone]",
			Node:        model.NodeTimezoneShow,
			ModifyNode:  model.NodeTimezoneModify,
			Audit:       true,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.cmdTimezone),
		},
		{
			Route:       "channel",
			Description: "show or move the notification channel",
			Usage:       "/channel [here]",
			Node:        model.NodeChannelShow,
			ModifyNode:  model.NodeChannelModify,
			Audit:       true,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.cmdChannel),
		},
		{
			Route:       "prefix",
			Description: "show or change the command prefix",
			Usage:       "/prefix [prefix]",
			Node:        model.NodePrefixShow,
			ModifyNode:  model.NodePrefixModify,
			Audit:       true,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.cmdPrefix),
		},
		{
			Route:       "event create",
			Aliases:     []string{"new"},
			Description: "create an event",
			Usage:       `/event create "<name>" --start "YYYY-MM-DD HH:MM" [--end "..."] [--remind 30m|"YYYY-MM-DD HH:MM"] [--repeat daily|weekly|monthly|yearly] [--desc "..."] [--mention @a,@b]`,
			Node:        model.NodeEventCreate,
			Audit:       true,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.cmdEventCreate),
		},
		{
			Route:       "event list",
			Aliases:     []string{"events"},
			Description: "list events or show one",
			Usage:       "/event list [number] [--page n]",
			Node:        model.NodeEventList,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.cmdEventList),
		},
		{
			Route:       "event update",
			Description: "change an event",
			Usage:       `/event update <number> ["<new name>"] [--start ...] [--end ...] [--remind ...|off] [--repeat ...] [--desc ...] [--mention ...]`,
			Node:        model.NodeEventUpdate,
			Audit:       true,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.cmdEventUpdate),
		},
		{
			Route:       "event rsvp",
			Aliases:     []string{"rsvp"},
			Description: "toggle your RSVP for an event",
			Usage:       "/event rsvp <number>",
			Node:        model.NodeEventRSVP,
			Audit:       true,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.cmdEventRSVP),
		},
		{
			Route:       "event delete",
			Description: "delete an event, or all of them",
			Usage:       "/event delete <number|all>",
			Node:        model.NodeEventDelete,
			Audit:       true,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.cmdEventDelete),
		},
		{
			Route:       "perms show",
			Description: "show explicit permissions of a user",
			Usage:       "/perms show [user id]",
			Node:        model.NodePermsShow,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.cmdPermsShow),
		},
		{
			Route:       "perms allow",
			Description: "allow a user a permission node",
			Usage:       "/perms allow <node> <user id>",
			Node:        model.NodePermsModify,
			Audit:       true,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.permsSetter(false)),
		},
		{
			Route:       "perms deny",
			Description: "deny a user a permission node",
			Usage:       "/perms deny <node> <user id>",
			Node:        model.NodePermsModify,
			Audit:       true,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.permsSetter(true)),
		},
		{
			Route:       "perms clear",
			Description: "remove an explicit permission",
			Usage:       "/perms clear <node> <user id>",
			Node:        model.NodePermsModify,
			Audit:       true,
			Timeout:     defaultTimeout,
			Handle:      s.wrap(s.cmdPermsClear),
		},
		{
			Route:       "calendar export",
			Aliases:     []string{"export"},
			Description: "download the calendar as .ics",
			Usage:       "/calendar export",
			Node:        model.NodeEventExport,
			Timeout:     30 * time.Second,
			Handle:      s.wrap(s.cmdExport),
		},
		{
			Route:       "ping",
			Description: "check that the bot is alive",
			Node:        model.NodePing,
			Handle:      s.wrap(s.cmdPing),
		},
	}
}

// wrap turns user-facing errors into replies. Only unexpected errors reach
// the router, which logs them.
func (s *Service) wrap(h router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		err := h(ctx, req)
		if err == nil {
			return nil
		}
		msg, user := describe(err)
		if !user {
			msg = fmt.Sprintf("Something went wrong (ref %s).", req.ReqID)
		}
		if rerr := req.Reply(ctx, "⚠️ "+msg); rerr != nil {
			req.Logger.Warn("error reply failed", logx.Err(rerr))
		}
		if user {
			return nil
		}
		return err
	}
}

const initHint = "Calendar not initialised. Run <code>/init &lt;timezone&gt;</code> first."

func describe(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrCalendarNotInitialised):
		return initHint, true
	case errors.Is(err, ErrEventNotFound):
		return "Event not found.", true
	case errors.Is(err, ErrEventAlreadyStarted):
		return "That event is already in progress.", true
	case errors.Is(err, eventsched.ErrEventInPast):
		return "Cannot create an event that starts or ends in the past, or has a reminder in the past.", true
	case errors.Is(err, eventsched.ErrEventEndBeforeStart):
		return "Cannot create an event that ends before it starts.", true
	case errors.Is(err, ErrReminderAfterStart):
		return "The reminder must not be after the start.", true
	case errors.Is(err, ErrParse):
		return escape(err.Error()), true
	}
	return "", false
}

func parseErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrParse}, args...)...)
}

// calendar loads the chat's calendar and its location.
func (s *Service) calendar(ctx context.Context, chatID int64) (model.Calendar, *time.Location, error) {
	cal, err := s.store.GetCalendar(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !cal.Initialised()) {
		return model.Calendar{}, nil, ErrCalendarNotInitialised
	}
	if err != nil {
		return model.Calendar{}, nil, err
	}
	loc, err := cal.Location()
	if err != nil {
		return model.Calendar{}, nil, fmt.Errorf("calendar %d: %w", cal.ID, err)
	}
	return cal, loc, nil
}
