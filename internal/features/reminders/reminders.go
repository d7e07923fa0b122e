// Package reminders turns stored events into one-shot reminder jobs.
//
// Each event gets one job per offset, all in the group "remind_<event id>".
// Rescheduling an event upserts the whole group, so stale reminders from the
// old start time never fire. Offsets that already passed are still registered
// and the scheduler prunes them on its next pass.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"coinbot/internal/eventbus"
	"coinbot/internal/storage"
	"coinbot/internal/task/registry"
	kit "coinbot/internal/transport"
	logx "coinbot/pkg/logx"
)

const groupPrefix = "remind_"

type Config struct {
	Offsets    []time.Duration
	RatePerSec int // 0 disables rate limiting
	Location   *time.Location
}

type Service struct {
	reg *registry.Registry
	log logx.Logger
	now func() time.Time

	mu      sync.RWMutex
	offsets []time.Duration
	loc     *time.Location
	limiter *rate.Limiter
}

func New(reg *registry.Registry, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{reg: reg, log: log, now: time.Now}
	s.Apply(cfg)
	return s
}

// Apply swaps offsets and the send rate. Already registered events keep their
// jobs until they are scheduled again.
func (s *Service) Apply(cfg Config) {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.mu.Lock()
	s.offsets = append([]time.Duration(nil), cfg.Offsets...)
	s.loc = loc
	s.limiter = lim
	s.mu.Unlock()
}

// Group is the registry group holding an event's reminders.
func Group(eventID string) string { return groupPrefix + eventID }

// JobID names the reminder for one offset, e.g. "remind_ab12_24h0m0s".
func JobID(eventID string, offset time.Duration) string {
	return Group(eventID) + "_" + offset.String()
}

// Jobs builds the reminder jobs for ev without registering them.
func (s *Service) Jobs(ev storage.Event) ([]registry.Job, error) {
	if strings.TrimSpace(ev.ID) == "" {
		return nil, fmt.Errorf("%w: event id is empty", storage.ErrInvalidArgument)
	}
	s.mu.RLock()
	offsets, loc := s.offsets, s.loc
	s.mu.RUnlock()

	jobs := make([]registry.Job, 0, len(offsets))
	for _, off := range offsets {
		j, err := registry.OneShot(JobID(ev.ID, off), ev.StartsAt.Add(-off), loc, s.action(ev.ID, ev.StartsAt, off))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Schedule replaces every reminder of ev with fresh ones for its start time.
func (s *Service) Schedule(ev storage.Event) error {
	jobs, err := s.Jobs(ev)
	if err != nil {
		return err
	}
	s.reg.Upsert(Group(ev.ID), jobs)
	s.log.Debug("reminders scheduled",
		logx.String("event", ev.ID),
		logx.Time("starts_at", ev.StartsAt),
		logx.Int("jobs", len(jobs)),
	)
	return nil
}

// Cancel drops every pending reminder of the event.
func (s *Service) Cancel(eventID string) int {
	n := s.reg.RemoveGroup(Group(eventID))
	if n > 0 {
		s.log.Debug("reminders cancelled", logx.String("event", eventID), logx.Int("jobs", n))
	}
	return n
}

// Restore schedules reminders for every stored event that has not started yet.
func (s *Service) Restore(ctx context.Context, st storage.Store) (int, error) {
	events, err := st.EventsAfter(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("restore reminders: %w", err)
	}
	n := 0
	for _, ev := range events {
		if err := s.Schedule(ev); err != nil {
			s.log.Warn("skipping event", logx.String("event", ev.ID), logx.Err(err))
			continue
		}
		n++
	}
	s.log.Info("reminders restored", logx.Int("events", n))
	return n, nil
}

// Watch keeps reminders in sync with event.saved and event.deleted until ctx is done.
func (s *Service) Watch(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ev)
		}
	}
}

func (s *Service) handle(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeEventSaved:
		e, ok := ev.Data.(storage.Event)
		if !ok {
			s.log.Warn("unexpected event payload", logx.String("type", ev.Type))
			return
		}
		if err := s.Schedule(e); err != nil {
			s.log.Warn("schedule reminders failed", logx.String("event", e.ID), logx.Err(err))
		}
	case eventbus.TypeEventDeleted:
		if id, ok := ev.Data.(string); ok {
			s.Cancel(id)
		}
	}
}

// action reloads the event when the reminder fires, so edits made after
// scheduling are respected. A deleted or moved event sends nothing.
func (s *Service) action(eventID string, startsAt time.Time, offset time.Duration) registry.Action {
	return func(ctx context.Context, res registry.Resources) error {
		if res.Store == nil || res.Chat == nil {
			return errors.New("reminder: store or chat missing")
		}
		ev, err := res.Store.Event(ctx, eventID)
		if errors.Is(err, storage.ErrNotFound) {
			res.Log.Debug("reminder skipped; event deleted", logx.String("event", eventID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("reminder: load event %s: %w", eventID, err)
		}
		if !ev.StartsAt.Truncate(time.Second).Equal(startsAt.Truncate(time.Second)) {
			res.Log.Debug("reminder skipped; event moved", logx.String("event", eventID), logx.Time("starts_at", ev.StartsAt))
			return nil
		}

		s.mu.RLock()
		lim := s.limiter
		s.mu.RUnlock()
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		to := kit.ChatTarget{ChatID: ev.ChatID, ThreadID: ev.ThreadID}
		_, err = res.Chat.SendText(ctx, to, Text(ev, ev.StartsAt.Add(-offset)), nil)
		return err
	}
}

// Text is the reminder message for ev as seen at instant at.
func Text(ev storage.Event, at time.Time) string {
	title := strings.TrimSpace(ev.Title)
	if title == "" {
		title = "Event"
	}
	if !ev.StartsAt.After(at) {
		return fmt.Sprintf("%s is starting now!", title)
	}
	return fmt.Sprintf("Reminder: %s starts %s.", title, humanize.RelTime(at, ev.StartsAt, "from now", "ago"))
}
