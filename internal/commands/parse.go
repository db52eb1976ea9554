package commands

import (
	"strconv"
	"strings"
	"time"

	"schedbot/internal/model"
)

// Accepted date-time inputs, read in the calendar timezone.
var timeLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04",
}

// parseTime resolves s in loc to an absolute instant.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, parseErr("cannot read time %q, use YYYY-MM-DD HH:MM", s)
}

// parseOffset reads "30m", "1h30m" or "2d".
func parseOffset(s string) (time.Duration, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, false
		}
		return time.Duration(n) * 24 * time.Hour, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// parseReminder reads --remind as an offset before start or an absolute time.
// "off" clears the reminder.
func parseReminder(s string, start time.Time, loc *time.Location) (*time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "no":
		return nil, nil
	}
	if d, ok := parseOffset(s); ok {
		r := start.Add(-d)
		return &r, nil
	}
	t, err := parseTime(s, loc)
	if err != nil {
		return nil, parseErr("cannot read reminder %q, use an offset like 30m or a time", s)
	}
	return &t, nil
}

// parseMentions splits "@a,@b c" into ["@a" "@b" "@c"], dropping duplicates.
func parseMentions(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	seen := map[string]bool{}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || f == "@" {
			continue
		}
		if !strings.HasPrefix(f, "@") {
			f = "@" + f
		}
		if key := strings.ToLower(f); !seen[key] {
			seen[key] = true
			out = append(out, f)
		}
	}
	return out
}

// parseIndex reads a 1-based event number.
func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, parseErr("event number must be greater than 0")
	}
	return n, nil
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, parseErr("%q is not a user id", s)
	}
	return id, nil
}

// eventFields holds the flags shared by create and update. A nil field was
// not given.
type eventFields struct {
	name     *string
	desc     *string
	start    *time.Time
	end      *time.Time
	remind   *string
	repeat   *model.Cadence
	mentions *[]string
}

func (f eventFields) empty() bool {
	return f.name == nil && f.desc == nil && f.start == nil && f.end == nil &&
		f.remind == nil && f.repeat == nil && f.mentions == nil
}

// flagLookup is router.Request.Flag.
type flagLookup func(names ...string) (string, bool)

func readFields(name string, flag flagLookup, loc *time.Location) (eventFields, error) {
	var f eventFields
	if v, ok := flag("name", "n"); ok {
		name = v
	}
	if name = strings.TrimSpace(name); name != "" {
		f.name = &name
	}
	if v, ok := flag("desc", "description", "d"); ok {
		v = strings.TrimSpace(v)
		f.desc = &v
	}
	if v, ok := flag("start", "s"); ok {
		t, err := parseTime(v, loc)
		if err != nil {
			return f, err
		}
		f.start = &t
	}
	if v, ok := flag("end", "e"); ok {
		t, err := parseTime(v, loc)
		if err != nil {
			return f, err
		}
		f.end = &t
	}
	if v, ok := flag("remind", "reminder", "r"); ok {
		f.remind = &v
	}
	if v, ok := flag("repeat"); ok {
		c, err := model.ParseCadence(v)
		if err != nil {
			return f, parseErr("%v", err)
		}
		f.repeat = &c
	}
	if v, ok := flag("mention", "mentions", "m"); ok {
		m := parseMentions(v)
		f.mentions = &m
	}
	return f, nil
}
