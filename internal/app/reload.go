package app

import (
	"context"
	"strings"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/eventbus"
	"schedbot/pkg/logx"
)

// startConfigReload fans committed config changes out to the live components.
// Storage, task engine and bot token changes are logged and wait for a restart.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	if config.RestartRequired(sections) {
		a.log.Warn("storage or task_engine config changed; restart required for changes to take effect")
	}
	if oldCfg != nil && (oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout) {
		a.log.Warn("telegram connection settings changed; restart required for changes to take effect")
	}

	// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
	a.logs.SetTelegramTarget(groupLogChat(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	a.events.Apply(mapEventschedConfig(newCfg))

	if err := a.installHousekeeping(newCfg); err != nil {
		a.log.Warn("housekeeping schedules not updated", logx.Err(err))
	}

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TopicConfigReloaded, Time: time.Now(), Data: sections})
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}
