package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	logx "coinbot/pkg/logx"
)

const sampleYAML = `
telegram:
  token: "123:abc"
logging:
  level: debug
  console: true
scheduler:
  timezone: UTC
  idle_wait: 30s
economy:
  enabled: true
  daily_allowance: 100
  announce: "-1001/7"
draw:
  enabled: true
  ticket_price: 10
reminders:
  enabled: true
  offsets: ["24h", "0s"]
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("coinbot.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Scheduler.IdleWait != "30s" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Economy.DailyAllowance != 100 || cfg.Economy.Announce != "-1001/7" {
		t.Fatalf("economy = %+v", cfg.Economy)
	}
	if err := Validate(context.Background(), cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"telegram":{},"bogus":1}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
	if _, err := Decode("c.yml", []byte("scheduler:\n  nope: 1\n")); err == nil {
		t.Fatal("expected unknown field error for yaml")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Scheduler: SchedulerConfig{Timezone: "Nowhere/Void", Cooldown: "-1s"},
		Draw:      DrawConfig{Enabled: true, Schedule: "0 0 17 * *"},
		Economy:   EconomyConfig{DailyAllowance: -5, Announce: "abc"},
		Reminders: RemindersConfig{Offsets: []string{"1h", "soon"}},
	}
	err := Validate(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"scheduler.timezone", "scheduler.cooldown", "economy.daily_allowance", "economy.announce", "reminders.offsets[1]"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateSchedulesInZone(t *testing.T) {
	t.Parallel()
	cfg := &Config{Draw: DrawConfig{Enabled: true, Schedule: "0 0 17 * * FRI 2020-2019"}}
	err := Validate(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "draw.schedule") {
		t.Fatalf("expected draw.schedule error, got %v", err)
	}
}

func TestParseOffsetsDefaults(t *testing.T) {
	t.Parallel()
	got, err := RemindersConfig{}.ParseOffsets()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, DefaultReminderOffsets) {
		t.Fatalf("offsets = %v, want %v", got, DefaultReminderOffsets)
	}
	got[0] = time.Second
	if DefaultReminderOffsets[0] != 168*time.Hour {
		t.Fatal("ParseOffsets returned the shared default slice")
	}
}

func TestChangedSections(t *testing.T) {
	t.Parallel()
	a := &Config{Logging: LoggingConfig{Level: "info"}, Scheduler: SchedulerConfig{Cooldown: "5s"}}
	b := &Config{
		Logging:   LoggingConfig{Level: "debug"},
		Scheduler: SchedulerConfig{Cooldown: "5s"},
		Storage:   StorageConfig{Path: "/var/lib/coinbot.db"},
		Draw:      DrawConfig{TicketPrice: 3},
	}

	got := ChangedSections(a, b)
	if !slices.Equal(got, []string{"logging", "storage", "draw"}) {
		t.Fatalf("ChangedSections = %v", got)
	}
	if r := RestartRequired(a, b); !slices.Equal(r, []string{"storage"}) {
		t.Fatalf("RestartRequired = %v", r)
	}

	c := *a
	c.Scheduler.Timezone = "UTC"
	if r := RestartRequired(a, &c); !slices.Equal(r, []string{"scheduler.timezone"}) {
		t.Fatalf("RestartRequired(timezone) = %v", r)
	}
	if len(ChangedSections(a, a)) != 0 {
		t.Fatal("identical configs should have no changes")
	}
}

func TestManagerLoadAndReload(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "coinbot.json", `{"logging":{"level":"info"}}`)
	m := NewManager(path, nilLogger(), Validate)

	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
	sub := m.Subscribe(1)

	changed, err := m.Reload(context.Background())
	if err != nil || changed {
		t.Fatalf("Reload unchanged = %v, %v", changed, err)
	}

	if err := os.WriteFile(path, []byte(`{"scheduler":{"timezone":"Nowhere/Void"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("expected invalid reload to be rejected")
	}
	if m.Get() != cfg {
		t.Fatal("rejected reload must keep the previous config")
	}

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	changed, err = m.Reload(context.Background())
	if err != nil || !changed {
		t.Fatalf("Reload = %v, %v", changed, err)
	}
	select {
	case got := <-sub:
		if got.Logging.Level != "debug" {
			t.Fatalf("published level = %q", got.Logging.Level)
		}
	default:
		t.Fatal("expected a published config")
	}
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel after Unsubscribe")
	}
}

func TestManagerWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "coinbot.yaml", "logging:\n  level: info\n")
	m := NewManager(path, nilLogger(), Validate)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// the watcher needs a moment to register before the write
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case got := <-sub:
			if got.Logging.Level != "warn" {
				t.Fatalf("level = %q", got.Logging.Level)
			}
			cancel()
			<-done
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func nilLogger() logx.Logger { return logx.Nop() }

func TestDurationSettings(t *testing.T) {
	t.Parallel()
	var cfg Config
	if d, err := cfg.Telegram.PollTimeoutOrDefault(); err != nil || d != DefaultPollTimeout {
		t.Fatalf("poll default = %v, %v", d, err)
	}
	if d, err := cfg.Storage.BusyTimeoutOrDefault(); err != nil || d != DefaultBusyTimeout {
		t.Fatalf("busy default = %v, %v", d, err)
	}
	if tm, err := cfg.Scheduler.Timings(); err != nil || tm != (SchedulerTimings{}) {
		t.Fatalf("unset timings = %+v, %v", tm, err)
	}

	cfg.Storage.BusyTimeout = "250ms"
	cfg.Scheduler = SchedulerConfig{IdleWait: "2m", Cooldown: " 1s ", MinSleep: "10ms"}
	if d, _ := cfg.Storage.BusyTimeoutOrDefault(); d != 250*time.Millisecond {
		t.Fatalf("busy = %v", d)
	}
	tm, err := cfg.Scheduler.Timings()
	want := SchedulerTimings{IdleWait: 2 * time.Minute, Cooldown: time.Second, MinSleep: 10 * time.Millisecond}
	if err != nil || tm != want {
		t.Fatalf("timings = %+v, %v", tm, err)
	}

	cfg.Scheduler.Cooldown = "-1s"
	if _, err := cfg.Scheduler.Timings(); err == nil || !strings.Contains(err.Error(), "scheduler.cooldown") {
		t.Fatalf("negative cooldown err = %v", err)
	}
	cfg.Telegram.PollTimeout = "soon"
	if _, err := cfg.Telegram.PollTimeoutOrDefault(); err == nil || !strings.Contains(err.Error(), "telegram.poll_timeout") {
		t.Fatalf("bad poll timeout err = %v", err)
	}
}

func TestDecodeYAMLReportsKeyPath(t *testing.T) {
	t.Parallel()
	_, err := Decode("coinbot.yaml", []byte("reminders:\n  offsets:\n    - 24h\n    - {1: x}\n"))
	if err == nil || !strings.Contains(err.Error(), "reminders.offsets[1]") || !strings.Contains(err.Error(), "coinbot.yaml") {
		t.Fatalf("err = %v", err)
	}
	cfg, err := Decode("empty.yml", nil)
	if err != nil || cfg.Scheduler.Timezone != "" {
		t.Fatalf("empty yaml = %+v, %v", cfg, err)
	}
}
