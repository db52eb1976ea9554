package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedbot/internal/commands"
	"schedbot/internal/config"
	"schedbot/internal/eventsched"
	"schedbot/internal/notifier"
	"schedbot/internal/storage"
	"schedbot/internal/task/engine"
	"schedbot/internal/transport/telegram/adapter"
	"schedbot/pkg/logx"
)

const (
	defaultDBPath         = "./schedbot.db"
	defaultReconcileEvery = 15 * time.Minute
	defaultPruneEvery     = time.Hour
	defaultPruneAfter     = 7 * 24 * time.Hour
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// groupLogChat parses telegram.group_log; zero means no log chat.
func groupLogChat(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapAdapterConfig(cfg *config.Config) (adapter.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return adapter.Config{}, err
	}
	return adapter.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := storage.Config{Path: defaultDBPath, BusyTimeout: 5 * time.Second}
	if cfg.Storage == nil {
		return sc, nil
	}
	if p := strings.TrimSpace(cfg.Storage.Path); p != "" {
		sc.Path = p
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	sc.BusyTimeout = busy
	return sc, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := engine.Config{Workers: 2, QueueSize: 256, DefaultTimeout: 30 * time.Second, RetryMax: 3}
	te := cfg.TaskEngine
	if te == nil {
		return ec, nil
	}
	if te.Workers > 0 {
		ec.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		ec.QueueSize = te.QueueSize
	}
	if te.RetryMax > 0 {
		ec.RetryMax = te.RetryMax
	}
	d, err := config.ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, ec.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	ec.DefaultTimeout = d
	return ec, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{RetryMax: 3}, nil
	}
	out := notifier.Config{
		Workers:    n.Workers,
		QueueSize:  n.QueueSize,
		RatePerSec: n.RatePerSec,
		RetryMax:   n.RetryMax,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationField("notifier.send_timeout", n.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryBase > 0 && out.RetryMaxDelay > 0 && out.RetryMaxDelay < out.RetryBase {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max_delay must be >= notifier.retry_base")
	}
	return out, nil
}

// housekeeping holds the periodic maintenance intervals. Zero disables a job.
type housekeeping struct {
	ReconcileEvery time.Duration
	PruneEvery     time.Duration
	PruneAfter     time.Duration
}

func mapHousekeeping(cfg *config.Config) (housekeeping, error) {
	hk := housekeeping{ReconcileEvery: defaultReconcileEvery, PruneEvery: defaultPruneEvery, PruneAfter: defaultPruneAfter}
	s := cfg.Scheduling
	if s == nil {
		return hk, nil
	}
	var err error
	// An explicit "0s" turns a job off; an empty value keeps the default.
	if strings.TrimSpace(s.ReconcileEvery) != "" {
		if hk.ReconcileEvery, err = config.ParseDurationField("scheduling.reconcile_every", s.ReconcileEvery); err != nil {
			return housekeeping{}, err
		}
	}
	if strings.TrimSpace(s.PruneEvery) != "" {
		if hk.PruneEvery, err = config.ParseDurationField("scheduling.prune_every", s.PruneEvery); err != nil {
			return housekeeping{}, err
		}
	}
	if hk.PruneAfter, err = config.ParseDurationOrDefault("scheduling.prune_after", s.PruneAfter, defaultPruneAfter); err != nil {
		return housekeeping{}, err
	}
	return hk, nil
}

func mapEventschedConfig(cfg *config.Config) eventsched.Config {
	ec := eventsched.Config{Client: adapter.ClientName}
	if cfg.Scheduling != nil {
		ec.KeepRSVPsOnRepeat = cfg.Scheduling.KeepRSVPsOnRepeat
	}
	return ec
}

func mapCommandsConfig(cfg *config.Config) commands.Config {
	var cc commands.Config
	if cfg.Scheduling != nil {
		cc.DefaultPrefix = strings.TrimSpace(cfg.Scheduling.DefaultPrefix)
	}
	return cc
}
