package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const sampleYAML = `
telegram:
  token: from-file
  owner_user_ids: [1, 2]
  poll_timeout: 15s
logging:
  level: debug
  console: true
storage:
  path: ./schedbot.db
  busy_timeout: 5s
notifier:
  workers: 2
  queue_size: 64
  rate_per_sec: 3
  retry_max: 2
  retry_base: 200ms
  retry_max_delay: 2s
scheduling:
  reconcile_every: 10m
  keep_rsvps_on_repeat: true
  default_prefix: "!"
`

func TestParseYAMLWithEnvOverlay(t *testing.T) {
	t.Setenv(EnvToken, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, sampleYAML)
	writeFile(t, filepath.Join(dir, EnvFile), EnvToken+"=from-dotenv\n")

	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-dotenv" {
		t.Fatalf("token = %q, want from-dotenv", cfg.Telegram.Token)
	}
	if !reflect.DeepEqual(cfg.Telegram.OwnerUserIDs, []int64{1, 2}) {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Scheduling == nil || !cfg.Scheduling.KeepRSVPsOnRepeat || cfg.Scheduling.DefaultPrefix != "!" {
		t.Fatalf("scheduling = %+v", cfg.Scheduling)
	}
	if cfg.Storage == nil || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestProcessEnvWinsOverDotEnv(t *testing.T) {
	t.Setenv(EnvToken, "from-process")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, sampleYAML)
	writeFile(t, filepath.Join(dir, EnvFile), EnvToken+"=from-dotenv\n")

	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "from-process" {
		t.Fatalf("token = %q, want from-process", cfg.Telegram.Token)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"telegram":{"token":"x"},"plugins":{}}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}

	writeFile(t, path, `{"telegram":{"token":"x"}}{"telegram":{}}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{Telegram: TelegramConfig{Token: "t"}}
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"no token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"bad poll", func(c *Config) { c.Telegram.PollTimeout = "soon" }, "telegram.poll_timeout"},
		{"bad group", func(c *Config) { c.Telegram.GroupLog = "@logs" }, "telegram.group_log"},
		{"negative workers", func(c *Config) { c.TaskEngine = &TaskEngineConfig{Workers: -1} }, "task_engine.workers"},
		{"bad retry base", func(c *Config) { c.Notifier = &NotifierConfig{RetryBase: "-1s"} }, "notifier.retry_base"},
		{"bad prune", func(c *Config) { c.Scheduling = &SchedulingConfig{PruneAfter: "1 day"} }, "scheduling.prune_after"},
		{"long prefix", func(c *Config) { c.Scheduling = &SchedulingConfig{DefaultPrefix: "!!!!!!!!!"} }, "default_prefix"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := Validate(c)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("Validate = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{Telegram: TelegramConfig{Token: "a", OwnerUserIDs: []int64{1}}}
	next := &Config{
		Telegram:   TelegramConfig{Token: "a", OwnerUserIDs: []int64{1, 2}},
		Notifier:   &NotifierConfig{Workers: 4},
		Scheduling: &SchedulingConfig{KeepRSVPsOnRepeat: true},
	}
	sections, attrs := SummarizeConfigChange(old, next)
	if want := []string{"notifier", "scheduling", "telegram"}; !reflect.DeepEqual(sections, want) {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if RestartRequired(sections) {
		t.Fatal("live sections reported as restart-required")
	}
	if !RestartRequired([]string{"logging", "storage"}) {
		t.Fatal("storage change should require restart")
	}

	if sections, _ := SummarizeConfigChange(next, next); len(sections) != 0 {
		t.Fatalf("identical configs changed %v", sections)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2m", time.Second); err != nil || d != 2*time.Minute {
		t.Fatalf("2m = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", "7d"); err != nil || d != 7*24*time.Hour {
		t.Fatalf("7d = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "1.5d"); err == nil {
		t.Fatal("fractional days accepted")
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Setenv(EnvToken, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"telegram":{"token":"t","owner_user_ids":[1]}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// invalid edit is rejected and never published
	writeFile(t, path, `{"telegram":{"token":""}}`)
	select {
	case cfg := <-sub:
		t.Fatalf("invalid config published: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}

	writeFile(t, path, `{"telegram":{"token":"t","owner_user_ids":[1,5]}}`)
	select {
	case cfg := <-sub:
		if !reflect.DeepEqual(cfg.Telegram.OwnerUserIDs, []int64{1, 5}) {
			t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
		}
		if got := m.Get(); got != cfg {
			t.Fatal("Get did not return the committed config")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
}
