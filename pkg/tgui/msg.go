package tgui

import (
	"context"
	"strings"
	"unicode/utf8"

	"schedbot/internal/transport"
)

// MaxMessageRunes is Telegram's limit for one text message.
const MaxMessageRunes = 4096

// Message is a rendered UI payload: text + send options.
type Message struct {
	Text string
	Opt  *transport.SendOptions

	// More are additional messages sent after the first one, each valid HTML
	// on its own.
	More []string
}

// Send sends the Message via the provided adapter and returns the ref of the
// first part.
func (m Message) Send(ctx context.Context, ad transport.Adapter, to transport.ChatTarget) (transport.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &transport.SendOptions{}
	}
	ref, err := ad.SendText(ctx, to, m.Text, m.Opt)
	if err != nil {
		return ref, err
	}
	for _, t := range m.More {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if _, e := ad.SendText(ctx, to, t, m.Opt); e != nil {
			return ref, e
		}
	}
	return ref, nil
}

// Builder is the main ergonomic UI builder.
// Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	disablePreview bool
	lines          []string
}

// New creates a new builder with sensible defaults for Telegram.
func New() *Builder {
	return &Builder{disablePreview: true}
}

// DisablePreview sets DisableWebPagePreview.
func (b *Builder) DisablePreview(v bool) *Builder {
	b.disablePreview = v
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
	} else {
		b.lines = append(b.lines, B(t).String())
	}
	return b
}

// Section adds a section header.
func (b *Builder) Section(title string) *Builder {
	if t := strings.TrimSpace(title); t != "" {
		b.lines = append(b.lines, B(t).String())
	}
	return b
}

// Line adds a single escaped line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML appends already-safe markup as one line.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// KV adds a "key: value" row with consistent formatting.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

// Build produces a ready-to-send Message. Text beyond MaxMessageRunes is
// split on line boundaries into follow-up parts.
func (b *Builder) Build() Message {
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: b.disablePreview}
	parts := splitLines(b.lines, MaxMessageRunes)
	if len(parts) == 0 {
		return Message{Opt: opt}
	}
	return Message{Text: parts[0], Opt: opt, More: parts[1:]}
}

// splitLines joins lines into chunks of at most limit runes. A single line
// longer than limit is cut with TruncRunes.
func splitLines(lines []string, limit int) []string {
	var (
		out  []string
		cur  strings.Builder
		size int
	)
	flush := func() {
		if s := strings.Trim(cur.String(), "\n"); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		size = 0
	}
	for _, ln := range lines {
		n := utf8.RuneCountInString(ln)
		if n > limit {
			ln = TruncRunes(ln, limit-1)
			n = limit
		}
		if size > 0 && size+1+n > limit {
			flush()
		}
		if size > 0 {
			cur.WriteByte('\n')
			size++
		}
		cur.WriteString(ln)
		size += n
	}
	flush()
	return out
}
