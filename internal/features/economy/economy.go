// Package economy keeps the daily coin allowance flowing.
package economy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"coinbot/internal/task/registry"
	kit "coinbot/internal/transport"
	logx "coinbot/pkg/logx"
)

const (
	JobID           = "economy.reset"
	Group           = "economy"
	DefaultSchedule = "0 0 0 * * *"
)

type Config struct {
	Enabled        bool
	Schedule       string
	DailyAllowance int64
	Announce       kit.ChatTarget
	Location       *time.Location
}

// Feature owns the economy reset job.
type Feature struct {
	reg *registry.Registry
	log logx.Logger

	mu sync.Mutex // serializes Apply
}

func New(reg *registry.Registry, log logx.Logger) *Feature {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Feature{reg: reg, log: log}
}

// Apply (re)registers the reset job for cfg, replacing any previous one.
// A disabled feature removes its job.
func (f *Feature) Apply(cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !cfg.Enabled {
		if n := f.reg.RemoveGroup(Group); n > 0 {
			f.log.Info("economy reset disabled")
		}
		return nil
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	allowance, announce := cfg.DailyAllowance, cfg.Announce
	job, err := registry.NewJob(JobID, cfg.Schedule, cfg.Location, func(ctx context.Context, res registry.Resources) error {
		return reset(ctx, res, allowance, announce)
	})
	if err != nil {
		return fmt.Errorf("economy: %w", err)
	}
	f.reg.Upsert(Group, []registry.Job{job})
	f.log.Info("economy reset scheduled",
		logx.String("schedule", cfg.Schedule),
		logx.Int64("allowance", allowance),
	)
	return nil
}

func reset(ctx context.Context, res registry.Resources, allowance int64, announce kit.ChatTarget) error {
	if res.Store == nil {
		return fmt.Errorf("economy reset: no store")
	}
	n, err := res.Store.ResetDaily(ctx, allowance)
	if err != nil {
		return fmt.Errorf("economy reset: %w", err)
	}
	res.Log.Info("daily allowance credited", logx.Int("accounts", n), logx.Int64("allowance", allowance))

	if announce.IsZero() || res.Chat == nil {
		return nil
	}
	_, err = res.Chat.SendText(ctx, announce, Summary(n, allowance), &kit.SendOptions{Silent: true})
	return err
}

// Summary is the message posted after a reset.
func Summary(accounts int, allowance int64) string {
	if accounts == 0 {
		return "Daily reset done. No accounts yet."
	}
	return fmt.Sprintf("Daily reset done: %s coins credited to %s %s.",
		humanize.Comma(allowance),
		humanize.Comma(int64(accounts)),
		plural(accounts, "account", "accounts"),
	)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
