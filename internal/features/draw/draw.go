// Package draw runs the weekly ticket draw.
//
// Members buy tickets with coins. When the draw job fires, one ticket is picked
// uniformly, so a holder's chance is proportional to their ticket count. The
// winner gets the whole pot: every coin paid for tickets this round, at the
// price each ticket was bought for.
package draw

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"coinbot/internal/eventbus"
	"coinbot/internal/storage"
	"coinbot/internal/task/registry"
	kit "coinbot/internal/transport"
	logx "coinbot/pkg/logx"
)

const (
	JobID           = "draw.weekly"
	Group           = "draw"
	DefaultSchedule = "0 0 17 * * FRI"
)

var ErrDisabled = errors.New("draw is disabled")

type Config struct {
	Enabled     bool
	Schedule    string
	TicketPrice int64
	Announce    kit.ChatTarget
	Location    *time.Location
}

type Feature struct {
	reg *registry.Registry
	log logx.Logger

	// pick returns a ticket index in [0, n).
	pick func(n int) int

	mu  sync.RWMutex
	cfg Config
}

type Option func(*Feature)

// WithPicker replaces the random ticket picker.
func WithPicker(pick func(n int) int) Option {
	return func(f *Feature) {
		if pick != nil {
			f.pick = pick
		}
	}
}

func New(reg *registry.Registry, log logx.Logger, opts ...Option) *Feature {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Feature{reg: reg, log: log, pick: rand.IntN}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Apply (re)registers the draw job. The ticket price used by Buy follows cfg too.
func (f *Feature) Apply(cfg Config) error {
	if !cfg.Enabled {
		f.reg.RemoveGroup(Group)
		f.setConfig(cfg)
		return nil
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	job, err := registry.NewJob(JobID, cfg.Schedule, cfg.Location, f.run)
	if err != nil {
		return fmt.Errorf("draw: %w", err)
	}
	f.setConfig(cfg)
	f.reg.Upsert(Group, []registry.Job{job})
	f.log.Info("draw scheduled", logx.String("schedule", cfg.Schedule), logx.Int64("ticket_price", cfg.TicketPrice))
	return nil
}

func (f *Feature) setConfig(cfg Config) {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
}

func (f *Feature) config() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

// Buy spends coins on tickets at the current price. A later price change does
// not touch what was already paid.
func (f *Feature) Buy(ctx context.Context, st storage.Store, userID int64, count int) (storage.TicketHolding, error) {
	cfg := f.config()
	if !cfg.Enabled {
		return storage.TicketHolding{}, ErrDisabled
	}
	h, err := st.BuyTickets(ctx, userID, count, cfg.TicketPrice)
	if err != nil {
		return storage.TicketHolding{}, err
	}
	f.log.Debug("tickets bought", logx.Int64("user", userID), logx.Int("count", count), logx.Int("holding", h.Tickets))
	return h, nil
}

func (f *Feature) run(ctx context.Context, res registry.Resources) error {
	if res.Store == nil {
		return errors.New("draw: no store")
	}
	cfg := f.config()

	holdings, err := res.Store.Tickets(ctx)
	if err != nil {
		return fmt.Errorf("draw: load tickets: %w", err)
	}
	var (
		total int
		pot   int64
	)
	for _, h := range holdings {
		total += h.Tickets
		pot += h.Paid
	}
	if total == 0 {
		res.Log.Info("draw skipped; no entries")
		return f.announce(ctx, res, cfg.Announce, "This week's draw had no entries.")
	}

	winner := Winner(holdings, f.pick(total))
	result, err := res.Store.SettleDraw(ctx, storage.DrawResult{
		WinnerID: winner,
		Pot:      pot,
		Tickets:  total,
		Entrants: len(holdings),
	})
	if err != nil {
		return fmt.Errorf("draw: settle: %w", err)
	}
	res.Log.Info("draw settled",
		logx.Int64("winner", result.WinnerID),
		logx.Int64("pot", result.Pot),
		logx.Int("tickets", result.Tickets),
	)
	if res.Bus != nil {
		res.Bus.Publish(eventbus.Event{Type: eventbus.TypeDrawSettled, Data: result})
	}
	return f.announce(ctx, res, cfg.Announce, Announcement(result))
}

func (f *Feature) announce(ctx context.Context, res registry.Resources, to kit.ChatTarget, text string) error {
	if to.IsZero() || res.Chat == nil {
		return nil
	}
	_, err := res.Chat.SendText(ctx, to, text, nil)
	return err
}

// Winner maps a ticket index in [0, total) onto the holder owning that ticket.
func Winner(holdings []storage.TicketHolding, ticket int) int64 {
	for _, h := range holdings {
		if ticket < h.Tickets {
			return h.UserID
		}
		ticket -= h.Tickets
	}
	return 0
}

// Announcement is the message posted for a settled draw.
func Announcement(r storage.DrawResult) string {
	return fmt.Sprintf("Weekly draw: user %d wins %s coins! (%s %s from %s %s)",
		r.WinnerID,
		humanize.Comma(r.Pot),
		humanize.Comma(int64(r.Tickets)), plural(r.Tickets, "ticket", "tickets"),
		humanize.Comma(int64(r.Entrants)), plural(r.Entrants, "entrant", "entrants"),
	)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
