package config

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Validate rejects configs that would fail later during mapping. Watch runs it
// before a reload is committed, so a bad edit keeps the previous config live.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			return fmt.Errorf("telegram.group_log: invalid chat id %q", g)
		}
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		return fmt.Errorf("logging.telegram.rate_per_sec must be >= 0")
	}

	if s := cfg.Storage; s != nil {
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			return fmt.Errorf("task_engine.workers must be >= 0")
		}
		if te.QueueSize < 0 {
			return fmt.Errorf("task_engine.queue_size must be >= 0")
		}
		if te.RetryMax < 0 {
			return fmt.Errorf("task_engine.retry_max must be >= 0")
		}
		if _, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			return err
		}
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			return fmt.Errorf("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0")
		}
		for key, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.send_timeout":    n.SendTimeout,
		} {
			if _, err := ParseDurationField(key, raw); err != nil {
				return err
			}
		}
	}

	if s := cfg.Scheduling; s != nil {
		for key, raw := range map[string]string{
			"scheduling.reconcile_every": s.ReconcileEvery,
			"scheduling.prune_every":     s.PruneEvery,
			"scheduling.prune_after":     s.PruneAfter,
		} {
			if _, err := ParseDurationField(key, raw); err != nil {
				return err
			}
		}
		if p := strings.TrimSpace(s.DefaultPrefix); p != "" && utf8.RuneCountInString(p) > 8 {
			return fmt.Errorf("scheduling.default_prefix: at most 8 characters")
		}
	}
	return nil
}
