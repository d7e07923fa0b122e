package reminders

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"coinbot/internal/config"
	"coinbot/internal/eventbus"
	"coinbot/internal/storage"
	"coinbot/internal/task/registry"
	kit "coinbot/internal/transport"
	logx "coinbot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	to   []kit.ChatTarget
	sent []string
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "coinbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newService(reg *registry.Registry) *Service {
	return New(reg, Config{Offsets: config.DefaultReminderOffsets, Location: time.UTC}, logx.Nop())
}

func ids(jobs []registry.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func TestJobsOnePerOffset(t *testing.T) {
	t.Parallel()
	s := newService(registry.New())
	starts := time.Date(2026, time.November, 1, 18, 0, 0, 0, time.UTC)
	jobs, err := s.Jobs(storage.Event{ID: "ev1", StartsAt: starts})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"remind_ev1_168h0m0s", "remind_ev1_24h0m0s", "remind_ev1_30m0s", "remind_ev1_0s"}
	if got := ids(jobs); !slices.Equal(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	offsets := config.DefaultReminderOffsets
	for i, j := range jobs {
		at, ok := j.Next(starts.Add(-offsets[i]).Add(-time.Second))
		if !ok || !at.Equal(starts.Add(-offsets[i])) {
			t.Fatalf("%s fires at %v", j.ID, at)
		}
	}
	if _, err := s.Jobs(storage.Event{StartsAt: starts}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestScheduleReplacesPreviousReminders(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	s := newService(reg)
	now := time.Now().UTC().Truncate(time.Second)

	ev := storage.Event{ID: "x", StartsAt: now.Add(8 * 24 * time.Hour)}
	if err := s.Schedule(ev); err != nil {
		t.Fatal(err)
	}
	if err := s.Schedule(ev); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 4 || reg.Generation(Group("x")) != 2 {
		t.Fatalf("len = %d gen = %d", reg.Len(), reg.Generation(Group("x")))
	}

	// moved to two days out: the week-ahead reminder is now in the past
	ev.StartsAt = now.Add(2 * 24 * time.Hour)
	if err := s.Schedule(ev); err != nil {
		t.Fatal(err)
	}
	removed := reg.Prune(now)
	if got := ids(removed); !slices.Equal(got, []string{"remind_x_168h0m0s"}) {
		t.Fatalf("pruned = %v", got)
	}
	if reg.Len() != 3 {
		t.Fatalf("len after prune = %d", reg.Len())
	}

	if n := s.Cancel("x"); n != 3 {
		t.Fatalf("Cancel removed %d", n)
	}
	if reg.Len() != 0 {
		t.Fatal("registry not empty after Cancel")
	}
}

func TestActionSendsAndSkips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	reg := registry.New()
	s := newService(reg)

	starts := time.Date(2027, time.January, 5, 20, 0, 0, 0, time.UTC)
	ev, err := st.SaveEvent(ctx, storage.Event{ID: "party", Title: "Launch party", ChatID: -42, ThreadID: 9, StartsAt: starts})
	if err != nil {
		t.Fatal(err)
	}
	jobs, err := s.Jobs(ev)
	if err != nil {
		t.Fatal(err)
	}
	chat := &fakeSender{}
	res := registry.Resources{Chat: chat, Store: st, Log: logx.Nop()}

	for _, j := range jobs {
		if err := j.Action(ctx, res); err != nil {
			t.Fatalf("%s: %v", j.ID, err)
		}
	}
	if len(chat.sent) != 4 {
		t.Fatalf("sent %d messages", len(chat.sent))
	}
	for _, want := range []string{"1 week from now", "1 day from now", "30 minutes from now", "starting now"} {
		if !slices.ContainsFunc(chat.sent, func(s string) bool { return strings.Contains(s, want) }) {
			t.Fatalf("no message mentions %q: %q", want, chat.sent)
		}
	}
	if chat.to[0] != (kit.ChatTarget{ChatID: -42, ThreadID: 9}) {
		t.Fatalf("sent to %v", chat.to[0])
	}

	// moved: old jobs stay silent
	ev.StartsAt = starts.Add(time.Hour)
	if _, err := st.SaveEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err := jobs[3].Action(ctx, res); err != nil {
		t.Fatal(err)
	}
	// deleted: silent as well
	if err := st.DeleteEvent(ctx, ev.ID); err != nil {
		t.Fatal(err)
	}
	if err := jobs[2].Action(ctx, res); err != nil {
		t.Fatal(err)
	}
	if len(chat.sent) != 4 {
		t.Fatalf("stale reminders sent: %q", chat.sent[4:])
	}
}

func TestRestoreSchedulesUpcomingEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	now := time.Now()
	for _, ev := range []storage.Event{
		{ID: "past", Title: "old", ChatID: 1, StartsAt: now.Add(-time.Hour)},
		{ID: "soon", Title: "new", ChatID: 1, StartsAt: now.Add(time.Hour)},
	} {
		if _, err := st.SaveEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	reg := registry.New()
	n, err := newService(reg).Restore(ctx, st)
	if err != nil || n != 1 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	if reg.Generation(Group("soon")) != 1 || reg.Generation(Group("past")) != 0 {
		t.Fatal("unexpected groups restored")
	}
}

func TestWatchFollowsBus(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	s := newService(reg)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Watch(ctx, bus)
	}()
	defer func() {
		cancel()
		<-done
	}()

	waitFor := func(cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Fatal("condition not met in time")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	ev := storage.Event{ID: "w", StartsAt: time.Now().Add(10 * 24 * time.Hour)}
	// the subscription may not exist yet; republish until it lands
	waitFor(func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TypeEventSaved, Data: ev})
		return reg.Len() == 4
	})
	bus.Publish(eventbus.Event{Type: eventbus.TypeEventDeleted, Data: "w"})
	waitFor(func() bool { return reg.Len() == 0 })
}

func TestText(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	ev := storage.Event{Title: "  Quiz  ", StartsAt: at.Add(24 * time.Hour)}
	if got := Text(ev, at); got != "Reminder: Quiz starts 1 day from now." {
		t.Fatalf("Text = %q", got)
	}
	if got := Text(storage.Event{StartsAt: at}, at); got != "Event is starting now!" {
		t.Fatalf("Text = %q", got)
	}
}
