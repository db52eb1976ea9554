package router

import (
	"sort"
	"strings"

	"schedbot/internal/transport"
)

const (
	maxMenuCommands = 100
	maxMenuDesc     = 256
)

// sanitizeTelegramCommand maps s onto Telegram's command alphabet
// [a-z0-9_]{1,32}. Separators collapse into one underscore, anything else is dropped.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_', r == '-', r == ' ', r == '\t', r == '/':
			pendingSep = true
		}
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// telegramCommandNameFromRoute joins a route for the menu:
//
//	["event", "create"] -> "event_create"
func telegramCommandNameFromRoute(route []string) (string, bool) {
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildTelegramMenuCommands lists top-level commands first, then shortcuts for
// subcommands, capped at Telegram's limit.
func buildTelegramMenuCommands(root *cmdNode, leafCmds []Command) []transport.BotCommand {
	type entry struct {
		cmd, desc string
		prio      int
	}
	byCmd := map[string]entry{}
	add := func(cmd, desc string, prio int) {
		if cmd = sanitizeTelegramCommand(cmd); cmd == "" {
			return
		}
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = cmd
		}
		if len(desc) > maxMenuDesc {
			desc = desc[:maxMenuDesc]
		}
		if cur, ok := byCmd[cmd]; ok && cur.prio <= prio {
			return
		}
		byCmd[cmd] = entry{cmd: cmd, desc: desc, prio: prio}
	}

	for _, name := range root.childNames() {
		n, _ := root.child(name)
		add(name, summarizeNodeDesc(n), 0)
	}
	for _, c := range leafCmds {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		name, ok := telegramCommandNameFromRoute(route)
		if !ok {
			continue
		}
		desc := c.Description
		if c.Node.Privileged() {
			desc = "🔒 " + desc
		}
		add(name, desc, 1)
	}

	entries := make([]entry, 0, len(byCmd))
	for _, e := range byCmd {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].prio != entries[j].prio {
			return entries[i].prio < entries[j].prio
		}
		return entries[i].cmd < entries[j].cmd
	})

	out := make([]transport.BotCommand, 0, min(len(entries), maxMenuCommands))
	for _, e := range entries {
		if len(out) == maxMenuCommands {
			break
		}
		out = append(out, transport.BotCommand{Command: e.cmd, Description: e.desc})
	}
	return out
}
