package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coinbot/internal/task/schedule"
	kit "coinbot/internal/transport"
)

const (
	DefaultEconomySchedule = "0 0 0 * * *"
	DefaultDrawSchedule    = "0 0 17 * * FRI"
)

var DefaultReminderOffsets = []time.Duration{168 * time.Hour, 24 * time.Hour, 30 * time.Minute, 0}

// Location resolves the scheduler timezone (time.Local when empty).
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// ParseOffsets parses reminder offsets, falling back to the defaults when none are set.
func (c RemindersConfig) ParseOffsets() ([]time.Duration, error) {
	if len(c.Offsets) == 0 {
		return append([]time.Duration(nil), DefaultReminderOffsets...), nil
	}
	out := make([]time.Duration, 0, len(c.Offsets))
	for i, raw := range c.Offsets {
		key := fmt.Sprintf("reminders.offsets[%d]", i)
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("%s: empty offset", key)
		}
		d, err := parseDuration(key, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Validate checks everything that can be checked without side effects.
// It has the Validator signature.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	target := func(path, raw string) {
		if _, err := kit.ParseTarget(raw); err != nil {
			add(fmt.Errorf("%s: %w", path, err))
		}
	}

	_, err := cfg.Telegram.PollTimeoutOrDefault()
	add(err)
	target("logging.chat.target", cfg.Logging.Chat.Target)

	loc, err := cfg.Scheduler.Location()
	add(err)
	_, err = cfg.Scheduler.Timings()
	add(err)
	_, err = cfg.Storage.BusyTimeoutOrDefault()
	add(err)

	if loc != nil {
		if cfg.Economy.Enabled {
			_, err := schedule.Parse(orDefault(cfg.Economy.ResetSchedule, DefaultEconomySchedule), loc)
			add(prefix("economy.reset_schedule", err))
		}
		if cfg.Draw.Enabled {
			_, err := schedule.Parse(orDefault(cfg.Draw.Schedule, DefaultDrawSchedule), loc)
			add(prefix("draw.schedule", err))
		}
	}
	if cfg.Economy.DailyAllowance < 0 {
		add(errors.New("economy.daily_allowance: must be >= 0"))
	}
	if cfg.Draw.TicketPrice < 0 {
		add(errors.New("draw.ticket_price: must be >= 0"))
	}
	target("economy.announce", cfg.Economy.Announce)
	target("draw.announce", cfg.Draw.Announce)

	_, err = cfg.Reminders.ParseOffsets()
	add(err)
	return errors.Join(errs...)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func prefix(path string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", path, err)
}
