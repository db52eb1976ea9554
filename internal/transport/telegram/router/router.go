package router

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"schedbot/internal/model"
	"schedbot/internal/runtime/supervisor"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space-separated path such as "event create".
	Route       string
	Aliases     []string // root-level shortcuts, e.g. "rsvp"
	Description string
	Usage       string

	// Node is checked by MWPermission before Handle runs. Empty means public.
	Node model.PermissionNode
	// ModifyNode replaces Node when positional arguments are given, so
	// "/prefix" and "/prefix !" can be guarded separately.
	ModifyNode model.PermissionNode
	// Audit records every invocation in the audit log.
	Audit bool

	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Message  *transport.Message
	Chat     transport.ChatTarget
	FromID   int64
	FromName string
	IsOwner  bool

	Path    []string
	Command string
	Node    model.PermissionNode
	Args    []string // positionals after the route
	RawArgs []string

	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter transport.Adapter
	Logger  logx.Logger
}

// Reply sends HTML text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, html, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// Flag returns the first non-empty value among names.
func (r *Request) Flag(names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := r.Flags[n]; ok {
			return v, true
		}
	}
	return "", false
}

// Permissions looks up explicit grants. storage.Store implements it.
type Permissions interface {
	Permission(ctx context.Context, calendarID, userID int64, node model.PermissionNode) (model.Permission, bool, error)
}

// AdminChecker is implemented by adapters that can tell chat administrators apart.
type AdminChecker interface {
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Prefixes resolves the per-chat command prefix in addition to "/".
type Prefixes interface {
	Prefix(ctx context.Context, chatID int64) string
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Deps are the optional collaborators of the manager. Nil fields disable the
// matching feature.
type Deps struct {
	Permissions Permissions
	Prefixes    Prefixes
	Audit       Auditor
}

type Manager struct {
	mu     sync.RWMutex
	root   *cmdNode
	alias  map[string]*cmdNode
	owners []int64

	log     logx.Logger
	adapter transport.Adapter
	deps    Deps

	runMu   sync.Mutex
	running bool
	jobs    chan func()
}

func NewManager(log logx.Logger, adapter transport.Adapter, deps Deps, owners []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		owners:  slices.Clone(owners),
		log:     log,
		adapter: adapter,
		deps:    deps,
		jobs:    make(chan func(), 256),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *Manager) SetOwners(owners []int64) {
	m.mu.Lock()
	m.owners = slices.Clone(owners)
	m.mu.Unlock()
}

func (m *Manager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// SetRegistry installs cmds plus the built-in help command and publishes the
// Telegram menu when the adapter supports it.
func (m *Manager) SetRegistry(ctx context.Context, cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h", "start"},
		Description: "show help",
		Usage:       "/help [command] [subcommand]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	menu := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		menu = append(menu, c)

		leaf := root.find(route)
		// Multi-token routes get a Telegram-safe shortcut (/event_create).
		// A single-token route must not alias itself or its subcommands
		// would never be reached.
		if name, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || name != route[0]) {
			if _, exists := alias[name]; !exists {
				alias[name] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	m.mu.Lock()
	m.root, m.alias = root, alias
	m.mu.Unlock()

	if up, ok := m.adapter.(transport.CommandMenuUpdater); ok {
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, buildTelegramMenuCommands(root, menu)); err != nil {
				m.log.Warn("command menu update failed", logx.Err(err))
			}
		}()
	}
}

// DispatchLoop routes updates until ctx ends or updates closes. Handlers run
// on a bounded worker pool.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log.With(logx.String("comp", "router"))),
		supervisor.WithCancelOnError(false),
	)
	m.setRunning(true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("queue_cap", cap(m.jobs)))

	for i := range workers {
		sup.GoRestart0(fmt.Sprintf("router.worker.%d", i), func(c context.Context) { m.worker(c, i) },
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	defer func() {
		m.setRunning(false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message != nil {
				m.routeMessage(ctx, up.Message)
			}
		}
	}
}

func (m *Manager) worker(ctx context.Context, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-m.jobs:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (m *Manager) setRunning(v bool) {
	m.runMu.Lock()
	m.running = v
	m.runMu.Unlock()
}

// tryEnqueue never blocks the update loop.
func (m *Manager) tryEnqueue(fn func()) bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return false
	}
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// commandText strips "/" or the chat's custom prefix. ok is false for
// ordinary chat messages.
func (m *Manager) commandText(ctx context.Context, msg *transport.Message) (string, bool) {
	text := strings.TrimSpace(msg.Text)
	if rest, ok := strings.CutPrefix(text, "/"); ok {
		return rest, true
	}
	if m.deps.Prefixes == nil {
		return "", false
	}
	p := m.deps.Prefixes.Prefix(ctx, msg.ChatID)
	if p == "" || p == "/" {
		return "", false
	}
	rest, ok := strings.CutPrefix(text, p)
	return rest, ok && rest != ""
}

func (m *Manager) routeMessage(ctx context.Context, msg *transport.Message) {
	text, ok := m.commandText(ctx, msg)
	if !ok {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(parts[0])
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	m.mu.RLock()
	root, aliases := m.root, m.alias
	m.mu.RUnlock()

	if leaf, ok := aliases[word]; ok && leaf.cmd != nil {
		m.enqueueCommand(ctx, msg, *leaf.cmd, splitRoute(leaf.cmd.Route), args)
		return
	}

	cur, ok := root.child(word)
	if !ok {
		if !msg.IsGroup {
			_ = m.reply(ctx, msg, "Unknown command. Try /help")
		}
		return
	}
	path := []string{word}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		next, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = next
		path = append(path, next.name)
		args = args[1:]
	}

	if cur.cmd == nil {
		_ = m.reply(ctx, msg, m.helpText(path))
		return
	}
	m.enqueueCommand(ctx, msg, *cur.cmd, path, args)
}

func (m *Manager) enqueueCommand(ctx context.Context, msg *transport.Message, cmd Command, path []string, raw []string) {
	pos, flags, bools := parseFlags(raw)
	node := cmd.Node
	if len(pos) > 0 && cmd.ModifyNode != "" {
		node = cmd.ModifyNode
	}
	rid := newReqID()
	req := &Request{
		Message:   msg,
		Chat:      transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:    msg.FromID,
		FromName:  firstNonEmpty(msg.FromUsername, msg.FromName),
		IsOwner:   m.isOwner(msg.FromID),
		Path:      path,
		Command:   cmd.Route,
		Node:      node,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	mws := []Middleware{MWPanicRecover(m.log), MWRequestLog(m.log)}
	if cmd.Audit && m.deps.Audit != nil {
		mws = append(mws, MWAudit(m.deps.Audit))
	}
	if node != "" {
		admins, _ := m.adapter.(AdminChecker)
		mws = append(mws, MWPermission(m.deps.Permissions, admins))
	}
	mws = append(mws, MWTimeout(cmd.Timeout))
	final := Chain(cmd.Handle, mws...)

	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_ = req.Reply(ctx, "Busy, try again in a moment.")
	}
}

func (m *Manager) reply(ctx context.Context, msg *transport.Message, html string) error {
	_, err := m.adapter.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, html, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// ErrForbidden is returned by MWPermission when access is denied.
var ErrForbidden = errors.New("forbidden")

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
