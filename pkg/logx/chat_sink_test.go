package logx

import (
	"strings"
	"testing"
)

func TestRenderChatLine(t *testing.T) {
	t.Parallel()

	got := renderChatLine([]byte(`{"level":"warn","time":"x","message":"dispatch failed","event_id":"e1","comp":"notifier"}`))
	want := "[WARN] dispatch failed\n- comp=notifier\n- event_id=e1"
	if got != want {
		t.Fatalf("renderChatLine = %q, want %q", got, want)
	}
}

func TestRenderChatLineNonJSON(t *testing.T) {
	t.Parallel()

	got := renderChatLine([]byte("  plain text \n"))
	if got != "plain text" {
		t.Fatalf("renderChatLine = %q, want %q", got, "plain text")
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 50)
	if got := clip(long, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("clip = %q", got)
	}
	if got := clip("short", 20); got != "short" {
		t.Fatalf("clip = %q, want short", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"debug":   LevelDebug,
		"WARNING": LevelWarn,
		" error ": LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.With(String("k", "v")).Info("ignored")
}
