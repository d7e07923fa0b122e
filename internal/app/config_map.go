package app

import (
	"fmt"
	"time"

	"coinbot/internal/config"
	"coinbot/internal/features/draw"
	"coinbot/internal/features/economy"
	"coinbot/internal/features/reminders"
	"coinbot/internal/observability/ops"
	"coinbot/internal/storage"
	"coinbot/internal/task/scheduler"
	kit "coinbot/internal/transport"
	"coinbot/internal/transport/telegram"
	logx "coinbot/pkg/logx"
)

// The map* helpers turn the on-disk config into component configs. Config
// validation already ran, so errors here only surface for hand-built configs.

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := cfg.Telegram.PollTimeoutOrDefault()
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapLogConfig(cfg *config.Config) (logx.Config, error) {
	target, err := kit.ParseTarget(cfg.Logging.Chat.Target)
	if err != nil {
		return logx.Config{}, fmt.Errorf("logging.chat.target: %w", err)
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			Target:     target,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	t, err := cfg.Scheduler.Timings()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{IdleWait: t.IdleWait, Cooldown: t.Cooldown, MinSleep: t.MinSleep}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := cfg.Storage.BusyTimeoutOrDefault()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, nil
}

func mapEconomyConfig(cfg *config.Config, loc *time.Location) (economy.Config, error) {
	to, err := kit.ParseTarget(cfg.Economy.Announce)
	if err != nil {
		return economy.Config{}, fmt.Errorf("economy.announce: %w", err)
	}
	return economy.Config{
		Enabled:        cfg.Economy.Enabled,
		Schedule:       cfg.Economy.ResetSchedule,
		DailyAllowance: cfg.Economy.DailyAllowance,
		Announce:       to,
		Location:       loc,
	}, nil
}

func mapDrawConfig(cfg *config.Config, loc *time.Location) (draw.Config, error) {
	to, err := kit.ParseTarget(cfg.Draw.Announce)
	if err != nil {
		return draw.Config{}, fmt.Errorf("draw.announce: %w", err)
	}
	return draw.Config{
		Enabled:     cfg.Draw.Enabled,
		Schedule:    cfg.Draw.Schedule,
		TicketPrice: cfg.Draw.TicketPrice,
		Announce:    to,
		Location:    loc,
	}, nil
}

func mapRemindersConfig(cfg *config.Config, loc *time.Location) (reminders.Config, error) {
	offsets, err := cfg.Reminders.ParseOffsets()
	if err != nil {
		return reminders.Config{}, err
	}
	return reminders.Config{Offsets: offsets, RatePerSec: cfg.Reminders.RatePerSec, Location: loc}, nil
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          cfg.Ops.Addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  60 * time.Second, // pprof profile needs 30s+
		IdleTimeout:   2 * time.Minute,
	}
}
