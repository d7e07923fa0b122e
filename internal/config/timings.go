package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPollTimeout = 10 * time.Second
	DefaultBusyTimeout = time.Second
)

// SchedulerTimings are the parsed scheduler durations. Zero means "use the
// loop default".
type SchedulerTimings struct {
	IdleWait time.Duration
	Cooldown time.Duration
	MinSleep time.Duration
}

// Timings parses scheduler.idle_wait, scheduler.cooldown and scheduler.min_sleep.
func (c SchedulerConfig) Timings() (SchedulerTimings, error) {
	var (
		t   SchedulerTimings
		err error
	)
	if t.IdleWait, err = parseDuration("scheduler.idle_wait", c.IdleWait); err != nil {
		return SchedulerTimings{}, err
	}
	if t.Cooldown, err = parseDuration("scheduler.cooldown", c.Cooldown); err != nil {
		return SchedulerTimings{}, err
	}
	if t.MinSleep, err = parseDuration("scheduler.min_sleep", c.MinSleep); err != nil {
		return SchedulerTimings{}, err
	}
	return t, nil
}

// PollTimeoutOrDefault parses telegram.poll_timeout.
func (c TelegramConfig) PollTimeoutOrDefault() (time.Duration, error) {
	return durationOr("telegram.poll_timeout", c.PollTimeout, DefaultPollTimeout)
}

// BusyTimeoutOrDefault parses storage.busy_timeout.
func (c StorageConfig) BusyTimeoutOrDefault() (time.Duration, error) {
	return durationOr("storage.busy_timeout", c.BusyTimeout, DefaultBusyTimeout)
}

// parseDuration reads one duration setting. Unset is 0; negative is an error.
func parseDuration(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must be >= 0, got %s", key, d)
	}
	return d, nil
}

func durationOr(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
