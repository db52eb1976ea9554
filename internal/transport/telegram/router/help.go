package router

import (
	"fmt"
	"html"
	"sort"
	"strings"
)

// helpText renders help for path in Telegram HTML.
func (m *Manager) helpText(path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTopHTML(root)
	}
	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		n, ok := cur.child(strings.TrimPrefix(p, "/"))
		if !ok {
			if leaf, ok := alias[strings.ToLower(strings.TrimPrefix(p, "/"))]; ok && leaf.cmd != nil {
				return helpNodeHTML(leaf, splitRoute(leaf.cmd.Route))
			}
			return "❓ <b>Unknown command</b>\nType <code>/help</code> for the list."
		}
		cur = n
		full = append(full, n.name)
	}
	return helpNodeHTML(cur, full)
}

func helpTopHTML(root *cmdNode) string {
	lines := []string{
		"📅 <b>Commands</b>",
		"Type <code>/help &lt;command&gt;</code> for details.",
		"",
	}
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		line := "• <code>/" + html.EscapeString(name) + "</code>"
		if d := summarizeNodeDesc(n); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpNodeHTML(cur *cmdNode, full []string) string {
	lines := []string{fmt.Sprintf("📅 <b>Help</b> <code>/%s</code>", html.EscapeString(strings.Join(full, " ")))}

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Node.Privileged() || c.ModifyNode.Privileged() {
			lines = append(lines, "🔒 <i>admins or explicitly allowed users</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if short := buildShortcuts(*c); len(short) > 0 {
			lines = append(lines, "", "<b>Shortcuts</b>")
			for _, s := range short {
				lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
			}
		}
	}

	if len(cur.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			line := "• <code>/" + html.EscapeString(strings.Join(append(append([]string(nil), full...), name), " ")) + "</code>"
			if d := summarizeNodeDesc(n); d != "" {
				line += " - " + html.EscapeString(d)
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// summarizeNodeDesc is the command description, or a hint listing the first
// subcommands of a group.
func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	show := min(len(kids), 4)
	s := strings.Join(kids[:show], ", ")
	if len(kids) > show {
		s += ", …"
	}
	return "subcommands: " + s
}

func buildShortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	if menu, ok := telegramCommandNameFromRoute(splitRoute(c.Route)); ok && strings.Contains(c.Route, " ") {
		seen[menu] = true
		out = append(out, menu)
	}
	for _, a := range c.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" && !strings.Contains(a, " ") && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}
