package tgui

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"
)

// H is HTML already safe for Telegram's HTML parse mode.
type H string

func (h H) String() string { return string(h) }

// Esc escapes user text.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks s as safe without escaping. Only for literals.
func Raw(s string) H { return H(s) }

func tag(name, s string) H { return H("<" + name + ">" + html.EscapeString(s) + "</" + name + ">") }

func B(s string) H     { return tag("b", s) }
func I(s string) H     { return tag("i", s) }
func Code(s string) H  { return tag("code", s) }
func Quote(s string) H { return tag("blockquote", s) }

// Mention links name to a Telegram user so the user is notified.
func Mention(name string, userID int64) H {
	return H(fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, userID, html.EscapeString(name)))
}

// Attendees renders RSVP'd user ids as comma-separated mentions.
func Attendees(userIDs []int64) H {
	parts := make([]H, len(userIDs))
	for i, id := range userIDs {
		parts[i] = Mention(fmt.Sprint(id), id)
	}
	return JoinH(", ", parts...)
}

// JoinH joins the non-blank parts with sep.
func JoinH(sep string, parts ...H) H {
	var sb strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(string(p))
	}
	return H(sb.String())
}

// TruncRunes cuts s to n runes, marking a cut with "…".
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "…"
		}
		i++
	}
	return s
}
