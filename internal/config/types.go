package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m"). Chat targets are
// "chat_id" or "chat_id/thread_id". Empty values take the documented defaults.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Economy   EconomyConfig   `json:"economy"`
	Draw      DrawConfig      `json:"draw"`
	Reminders RemindersConfig `json:"reminders"`
	Ops       OpsConfig       `json:"ops"`
}

type TelegramConfig struct {
	// Token empty runs the bot without a chat transport (messages are discarded).
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"` // default "10s"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Target     string `json:"target"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the scheduler loop. Timings hot-reload; timezone needs a restart.
type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`  // IANA name, default local
	IdleWait string `json:"idle_wait,omitempty"` // default "60s"
	Cooldown string `json:"cooldown,omitempty"`  // default "5s"
	MinSleep string `json:"min_sleep,omitempty"` // default "50ms"
}

type StorageConfig struct {
	Path        string `json:"path"`                   // default "./coinbot.db"
	BusyTimeout string `json:"busy_timeout,omitempty"` // default driver
}

type EconomyConfig struct {
	Enabled        bool   `json:"enabled"`
	ResetSchedule  string `json:"reset_schedule,omitempty"` // default "0 0 0 * * *"
	DailyAllowance int64  `json:"daily_allowance"`
	Announce       string `json:"announce,omitempty"`
}

type DrawConfig struct {
	Enabled     bool   `json:"enabled"`
	Schedule    string `json:"schedule,omitempty"` // default "0 0 17 * * FRI"
	TicketPrice int64  `json:"ticket_price"`
	Announce    string `json:"announce,omitempty"`
}

type RemindersConfig struct {
	Enabled    bool     `json:"enabled"`
	Offsets    []string `json:"offsets,omitempty"` // default ["168h", "24h", "30m", "0s"]
	RatePerSec int      `json:"rate_per_sec,omitempty"`
}

// OpsConfig controls the ops HTTP server (health, metrics, jobs, event admin, pprof).
//
// Prefer a loopback addr. A non-loopback addr needs a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
