package commands

import (
	"fmt"
	"strings"
	"time"

	"schedbot/internal/model"
	"schedbot/pkg/tgui"
)

const (
	cardLayout = "Mon 02 Jan 2006 15:04"
	listLayout = "Mon 02 Jan 15:04"
)

func escape(s string) string { return tgui.Esc(s).String() }

// eventCard renders the details of one event in loc.
func eventCard(title string, e model.Event, loc *time.Location) tgui.Message {
	b := tgui.New().Title("📅", title)
	b.HTML(tgui.B(e.Name))
	b.KV("Starts", e.Start.In(loc).Format(cardLayout))
	b.KV("Ends", e.End.In(loc).Format(cardLayout))
	if e.Reminder != nil {
		b.KV("Reminder", e.Reminder.In(loc).Format(cardLayout))
	}
	if e.Repeat.Recurring() {
		b.KV("Repeats", e.Repeat.String())
	}
	b.KV("Timezone", loc.String())
	if len(e.Mentions) > 0 {
		b.KV("Mentions", strings.Join(e.Mentions, " "))
	}
	if len(e.RSVPs) > 0 {
		b.HTML(tgui.Raw("• ") + tgui.B("Going") + tgui.Raw(": ") + tgui.Attendees(e.RSVPs))
	}
	if d := strings.TrimSpace(e.Description); d != "" {
		b.Blank().HTML(tgui.Quote(tgui.TruncRunes(d, 1500)))
	}
	return b.Build()
}

// eventListPage renders page (0-based) of events with running events under
// "Active Events" and the rest under "Upcoming Events". Numbers are positions
// in the full list so they can be passed to update, rsvp and delete.
func eventListPage(events []model.Event, page, size int, loc *time.Location, now time.Time) tgui.Message {
	sub, page, _, hasNext := tgui.PaginateSlice(events, page, size)
	b := tgui.New().Title("📅", "Events")

	activeHeader, upcomingHeader := false, false
	for i, e := range sub {
		switch {
		case e.HasStarted(now) && !activeHeader:
			b.Blank().Section("Active Events")
			activeHeader = true
		case !e.HasStarted(now) && !upcomingHeader:
			b.Blank().Section("Upcoming Events")
			upcomingHeader = true
		}
		n := page*size + i + 1
		line := fmt.Sprintf("%d. %s - %s to %s", n, tgui.B(e.Name), e.Start.In(loc).Format(listLayout), e.End.In(loc).Format(listLayout))
		if e.Repeat.Recurring() {
			line += " 🔁"
		}
		if len(e.RSVPs) > 0 {
			line += fmt.Sprintf(" (%d going)", len(e.RSVPs))
		}
		b.HTML(tgui.Raw(line))
	}

	b.Blank().HTML(tgui.I(tgui.PageLabel(page, size, len(events))))
	hint := "Run /event list <number> for details."
	if hasNext {
		hint += fmt.Sprintf(" Next page: /event list --page %d", page+2)
	}
	b.Line(hint)
	return b.Build()
}
