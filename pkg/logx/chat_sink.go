package logx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const (
	chatMessageLimit = 3500
	chatFieldLimit   = 600
)

// chatWriter forwards records at or above the configured level to the log chat.
// It never blocks: over-limit or queue-full records are dropped.
type chatWriter struct{ svc *Service }

func (w chatWriter) Write(p []byte) (int, error) { return w.WriteLevel(zerolog.InfoLevel, p) }

func (w chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	to, lim, minLvl, ok := s.chat, s.limiter, s.minLvl, s.sender != nil
	s.mu.Unlock()

	if !ok || to.ChatID == 0 || level < minLvl || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	text := renderChatLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case s.queue <- chatLine{to: to, text: text}:
	default:
	}
	return len(p), nil
}

// renderChatLine turns a zerolog JSON record into "[LEVEL] msg" plus sorted
// "- key=value" lines.
func renderChatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return clip(raw, chatMessageLimit)
	}

	var b strings.Builder
	if lvl, _ := rec["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case "level", "time", zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=")
		b.WriteString(clip(fmt.Sprint(rec[k]), chatFieldLimit))
	}
	return clip(b.String(), chatMessageLimit)
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
