package commands

import (
	"context"
	"fmt"

	"schedbot/internal/model"
	"schedbot/internal/transport/telegram/router"
	"schedbot/pkg/tgui"
)

func (s *Service) cmdPermsShow(ctx context.Context, req *router.Request) error {
	cal, _, err := s.calendar(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	user := req.FromID
	if len(req.Args) > 0 {
		if user, err = parseUserID(req.Args[0]); err != nil {
			return err
		}
	}
	perms, err := s.store.ListPermissions(ctx, cal.ID, user)
	if err != nil {
		return err
	}

	b := tgui.New().Title("🔐", fmt.Sprintf("Permissions of %d", user))
	if len(perms) == 0 {
		b.Line("No explicit entries. Privileged commands need a chat admin, the rest are open.")
		_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
		return err
	}
	for _, p := range perms {
		state := "✅ allow"
		if p.Denied {
			state = "⛔ deny"
		}
		b.HTML(tgui.Raw("• " + tgui.Code(string(p.Node)).String() + " " + state))
	}
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func permArgs(args []string) (model.PermissionNode, int64, error) {
	if len(args) < 2 {
		return "", 0, parseErr("usage: <node> <user id>")
	}
	node, err := model.ParsePermissionNode(args[0])
	if err != nil {
		return "", 0, parseErr("%v", err)
	}
	user, err := parseUserID(args[1])
	if err != nil {
		return "", 0, err
	}
	return node, user, nil
}

func (s *Service) permsSetter(deny bool) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		cal, _, err := s.calendar(ctx, req.Chat.ChatID)
		if err != nil {
			return err
		}
		node, user, err := permArgs(req.Args)
		if err != nil {
			return err
		}
		if err := s.store.SetPermission(ctx, model.Permission{CalendarID: cal.ID, Node: node, UserID: user, Denied: deny}); err != nil {
			return err
		}
		verb := "Allowed"
		if deny {
			verb = "Denied"
		}
		return req.Reply(ctx, fmt.Sprintf("✅ %s %s for %s.", verb, tgui.Code(string(node)), tgui.Mention(fmt.Sprint(user), user)))
	}
}

func (s *Service) cmdPermsClear(ctx context.Context, req *router.Request) error {
	cal, _, err := s.calendar(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	node, user, err := permArgs(req.Args)
	if err != nil {
		return err
	}
	if err := s.store.ClearPermission(ctx, cal.ID, user, node); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Cleared %s for %s.", tgui.Code(string(node)), tgui.Mention(fmt.Sprint(user), user)))
}
