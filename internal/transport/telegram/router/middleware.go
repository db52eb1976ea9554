package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"schedbot/internal/model"
	"schedbot/internal/storage"
	"schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWPermission enforces req.Node. Owners always pass; an explicit entry
// decides next, a deny winning over admin status; otherwise privileged nodes
// need a chat administrator and the rest are open.
func MWPermission(perms Permissions, admins AdminChecker) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if req.Node == "" || req.IsOwner {
				return next(ctx, req)
			}

			var explicit *model.Permission
			if perms != nil {
				p, ok, err := perms.Permission(ctx, req.Chat.ChatID, req.FromID, req.Node)
				if err != nil {
					return fmt.Errorf("permission lookup: %w", err)
				}
				if ok {
					explicit = &p
				}
			}

			elevated := false
			if explicit == nil && req.Node.Privileged() && admins != nil {
				ok, err := admins.IsChatAdmin(ctx, req.Chat.ChatID, req.FromID)
				if err != nil {
					req.Logger.Warn("admin lookup failed", logx.Err(err))
				}
				elevated = ok
			}

			if !model.Allowed(req.Node, explicit, elevated) {
				_ = req.Reply(ctx, "⛔ You are not allowed to use this command ("+tgui.Code(string(req.Node)).String()+").")
				return fmt.Errorf("%w: %s", ErrForbidden, req.Node)
			}
			return next(ctx, req)
		}
	}
}

// MWAudit appends one audit row per invocation, including denied ones.
func MWAudit(a Auditor) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			entry := storage.AuditEntry{
				At:            start,
				ActorID:       req.FromID,
				ActorUsername: req.FromName,
				ChatID:        req.Chat.ChatID,
				ThreadID:      req.Chat.ThreadID,
				Action:        req.Command,
				Target:        firstArg(req.Args),
				TookMS:        time.Since(start).Milliseconds(),
			}
			if err != nil {
				entry.Error = err.Error()
			}
			// Record the row even when shutdown cancelled the request.
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if aerr := a.AppendAudit(actx, entry); aerr != nil {
				req.Logger.Warn("audit append failed", logx.Err(aerr))
			}
			return err
		}
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
