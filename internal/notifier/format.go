package notifier

import (
	"fmt"
	"strings"
	"time"

	"schedbot/internal/model"
	"schedbot/pkg/tgui"
)

const timeLayout = "Mon 02 Jan 2006 15:04 MST"

func renderReminder(e model.Event, loc *time.Location, now time.Time) string {
	head := tgui.JoinH(" ", tgui.Raw("⏰"), tgui.B(e.Name), tgui.Esc("starts"), tgui.I(until(e.Start.Sub(now))))
	return render(head, e, loc)
}

func renderStart(e model.Event, loc *time.Location) string {
	head := tgui.JoinH(" ", tgui.Raw("🔔"), tgui.B(e.Name), tgui.Esc("is starting now!"))
	return render(head, e, loc)
}

func render(head tgui.H, e model.Event, loc *time.Location) string {
	lines := []tgui.H{
		head,
		tgui.Esc(fmt.Sprintf("🗓 %s – %s", e.Start.In(loc).Format(timeLayout), e.End.In(loc).Format(timeLayout))),
	}
	if e.Repeat.Recurring() {
		lines = append(lines, tgui.Esc("🔁 Repeats "+e.Repeat.String()))
	}
	if d := strings.TrimSpace(e.Description); d != "" {
		lines = append(lines, "", tgui.Esc(tgui.TruncRunes(d, 1500)))
	}
	if len(e.RSVPs) > 0 {
		lines = append(lines, "", tgui.JoinH(" ", tgui.B("Going:"), tgui.Attendees(e.RSVPs)))
	}
	if len(e.Mentions) > 0 {
		ms := make([]tgui.H, 0, len(e.Mentions))
		for _, m := range e.Mentions {
			ms = append(ms, tgui.Esc(m))
		}
		lines = append(lines, tgui.JoinH(" ", ms...))
	}

	ss := make([]string, len(lines))
	for i, l := range lines {
		ss[i] = l.String()
	}
	return strings.Join(ss, "\n")
}

// until renders d as "in 1h 30m", "in 5m" or "now".
func until(d time.Duration) string {
	d = d.Round(time.Minute)
	if d <= 0 {
		return "now"
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	m := (d - h*time.Hour) / time.Minute

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	return "in " + strings.Join(parts, " ")
}
