package app

import (
	"os"
	"syscall"
	"testing"
	"time"

	"schedbot/internal/config"
)

func TestMapDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}

	sc, err := mapStorageConfig(cfg)
	if err != nil || sc.Path != defaultDBPath || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("storage = %+v, %v", sc, err)
	}
	ec, err := mapTaskEngineConfig(cfg)
	if err != nil || ec.Workers != 2 || ec.RetryMax != 3 || ec.DefaultTimeout != 30*time.Second {
		t.Fatalf("engine = %+v, %v", ec, err)
	}
	nc, err := mapNotifierConfig(cfg)
	if err != nil || nc.RetryMax != 3 {
		t.Fatalf("notifier = %+v, %v", nc, err)
	}
	hk, err := mapHousekeeping(cfg)
	if err != nil {
		t.Fatalf("housekeeping: %v", err)
	}
	if hk.ReconcileEvery != defaultReconcileEvery || hk.PruneEvery != defaultPruneEvery || hk.PruneAfter != defaultPruneAfter {
		t.Fatalf("housekeeping = %+v", hk)
	}
	if es := mapEventschedConfig(cfg); es.Client != "telegram" || es.KeepRSVPsOnRepeat {
		t.Fatalf("eventsched = %+v", es)
	}
}

func TestMapExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram:   config.TelegramConfig{GroupLog: "-100123"},
		Storage:    &config.StorageConfig{Path: "/var/lib/schedbot/db", BusyTimeout: "250ms"},
		TaskEngine: &config.TaskEngineConfig{Workers: 8, DefaultTimeout: "1m"},
		Notifier:   &config.NotifierConfig{Workers: 1, RetryBase: "1s", RetryMaxDelay: "5s", SendTimeout: "3s"},
		Scheduling: &config.SchedulingConfig{
			ReconcileEvery:    "0s",
			PruneEvery:        "30m",
			KeepRSVPsOnRepeat: true,
			DefaultPrefix:     " ! ",
		},
	}

	if id := groupLogChat(cfg); id != -100123 {
		t.Fatalf("groupLogChat = %d", id)
	}
	sc, _ := mapStorageConfig(cfg)
	if sc.Path != "/var/lib/schedbot/db" || sc.BusyTimeout != 250*time.Millisecond {
		t.Fatalf("storage = %+v", sc)
	}
	ec, _ := mapTaskEngineConfig(cfg)
	if ec.Workers != 8 || ec.DefaultTimeout != time.Minute || ec.QueueSize != 256 {
		t.Fatalf("engine = %+v", ec)
	}
	nc, err := mapNotifierConfig(cfg)
	if err != nil || nc.RetryBase != time.Second || nc.RetryMaxDelay != 5*time.Second || nc.SendTimeout != 3*time.Second {
		t.Fatalf("notifier = %+v, %v", nc, err)
	}
	hk, _ := mapHousekeeping(cfg)
	if hk.ReconcileEvery != 0 || hk.PruneEvery != 30*time.Minute {
		t.Fatalf("housekeeping = %+v", hk)
	}
	if !mapEventschedConfig(cfg).KeepRSVPsOnRepeat {
		t.Fatal("keep_rsvps_on_repeat not mapped")
	}
	if p := mapCommandsConfig(cfg).DefaultPrefix; p != "!" {
		t.Fatalf("default prefix = %q", p)
	}
}

func TestMapNotifierRejectsInvertedBackoff(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Notifier: &config.NotifierConfig{RetryBase: "10s", RetryMaxDelay: "1s"}}
	if _, err := mapNotifierConfig(cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestReasonForSignal(t *testing.T) {
	t.Parallel()
	if r := ReasonForSignal(os.Interrupt); r != StopSIGINT {
		t.Fatalf("interrupt = %s", r)
	}
	if r := ReasonForSignal(syscall.SIGTERM); r != StopSIGTERM {
		t.Fatalf("sigterm = %s", r)
	}
	if r := ReasonForSignal(nil); r != StopUnknown {
		t.Fatalf("nil = %s", r)
	}
}
