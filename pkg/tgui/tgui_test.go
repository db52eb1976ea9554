package tgui

import (
	"strings"
	"testing"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo wörld", 4, "héll…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestHTMLHelpersEscape(t *testing.T) {
	t.Parallel()
	if got := B("<Quiz & Pub>").String(); got != "<b>&lt;Quiz &amp; Pub&gt;</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := Mention(`a"b`, 42).String(); got != `<a href="tg://user?id=42">a&#34;b</a>` {
		t.Fatalf("Mention = %q", got)
	}
	if got := JoinH(", ", Code("x"), "", I("y")).String(); got != "<code>x</code>, <i>y</i>" {
		t.Fatalf("JoinH = %q", got)
	}
}

func TestAttendees(t *testing.T) {
	t.Parallel()
	want := `<a href="tg://user?id=7">7</a>, <a href="tg://user?id=9">9</a>`
	if got := Attendees([]int64{7, 9}).String(); got != want {
		t.Fatalf("Attendees = %q, want %q", got, want)
	}
	if got := Attendees(nil); got != "" {
		t.Fatalf("Attendees(nil) = %q, want empty", got)
	}
}

func TestPaginateSlice(t *testing.T) {
	t.Parallel()
	items := make([]int, 23)
	for i := range items {
		items[i] = i
	}
	cases := []struct {
		page       int
		wantFirst  int
		wantLen    int
		wantPage   int
		prev, next bool
	}{
		{0, 0, 10, 0, false, true},
		{1, 10, 10, 1, true, true},
		{2, 20, 3, 2, true, false},
		{9, 20, 3, 2, true, false},
		{-1, 0, 10, 0, false, true},
	}
	for _, tc := range cases {
		sub, page, prev, next := PaginateSlice(items, tc.page, 10)
		if len(sub) != tc.wantLen || sub[0] != tc.wantFirst || page != tc.wantPage || prev != tc.prev || next != tc.next {
			t.Fatalf("PaginateSlice(page=%d) = %v, %d, %v, %v", tc.page, sub, page, prev, next)
		}
	}
	if sub, page, _, _ := PaginateSlice([]int(nil), 3, 10); len(sub) != 0 || page != 0 {
		t.Fatalf("empty PaginateSlice = %v, %d", sub, page)
	}
}

func TestPageLabel(t *testing.T) {
	t.Parallel()
	if got := PageLabel(1, 10, 23); got != "Page 2/3 • 11–20 of 23" {
		t.Fatalf("PageLabel = %q", got)
	}
	if got := PageLabel(0, 10, 0); got != "Page 1/1" {
		t.Fatalf("PageLabel(empty) = %q", got)
	}
}

func TestBuilderSplitsLongMessages(t *testing.T) {
	t.Parallel()
	b := New().Title("📅", "Events")
	line := strings.Repeat("a", 1000)
	for range 5 {
		b.Line(line)
	}
	msg := b.Build()
	if msg.Opt.ParseMode != "HTML" || !msg.Opt.DisablePreview {
		t.Fatalf("options = %+v", msg.Opt)
	}
	if !strings.HasPrefix(msg.Text, "📅 <b>Events</b>\n") {
		t.Fatalf("title = %q", msg.Text[:20])
	}
	if len(msg.More) != 1 {
		t.Fatalf("More parts = %d, want 1", len(msg.More))
	}
	for _, p := range append([]string{msg.Text}, msg.More...) {
		if n := len([]rune(p)); n > MaxMessageRunes {
			t.Fatalf("part has %d runes", n)
		}
	}
}

func TestBuilderEscapesLinesAndKV(t *testing.T) {
	t.Parallel()
	msg := New().KV("Prefix", "<!>").Line("a & b").HTML(Code("x")).Build()
	want := "• <b>Prefix</b>: &lt;!&gt;\na &amp; b\n<code>x</code>"
	if msg.Text != want {
		t.Fatalf("Text = %q, want %q", msg.Text, want)
	}
}
