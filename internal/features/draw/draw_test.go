package draw

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"coinbot/internal/eventbus"
	"coinbot/internal/storage"
	"coinbot/internal/task/registry"
	kit "coinbot/internal/transport"
	logx "coinbot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func TestWinnerIsWeightedByTickets(t *testing.T) {
	t.Parallel()
	holdings := []storage.TicketHolding{{UserID: 1, Tickets: 2}, {UserID: 2, Tickets: 1}, {UserID: 3, Tickets: 3}}
	want := []int64{1, 1, 2, 3, 3, 3}
	for i, w := range want {
		if got := Winner(holdings, i); got != w {
			t.Fatalf("Winner(ticket %d) = %d, want %d", i, got, w)
		}
	}
	if got := Winner(holdings, 6); got != 0 {
		t.Fatalf("out of range ticket won by %d", got)
	}
}

func TestDrawSettlesPot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	for _, id := range []int64{10, 20} {
		if _, err := st.Credit(ctx, id, "", 100); err != nil {
			t.Fatal(err)
		}
	}

	reg := registry.New()
	// ticket 3 of 4 belongs to user 20
	f := New(reg, logx.Nop(), WithPicker(func(n int) int {
		if n != 4 {
			t.Errorf("picker called with %d tickets", n)
		}
		return 3
	}))
	target := kit.ChatTarget{ChatID: -5}
	if err := f.Apply(Config{Enabled: true, TicketPrice: 25, Announce: target, Location: time.UTC}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Buy(ctx, st, 10, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Buy(ctx, st, 20, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Buy(ctx, st, 20, 10); !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	// a price change before the draw leaves the pot at what was paid
	if err := f.Apply(Config{Enabled: true, TicketPrice: 40, Announce: target, Location: time.UTC}); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	chat := &fakeSender{}
	res := registry.Resources{Chat: chat, Store: st, Bus: bus, Log: logx.Nop()}

	jobs := reg.List()
	if len(jobs) != 1 || jobs[0].ID != JobID {
		t.Fatalf("jobs = %+v", jobs)
	}
	if err := jobs[0].Action(ctx, res); err != nil {
		t.Fatalf("draw: %v", err)
	}

	winner, err := st.Account(ctx, 20)
	if err != nil {
		t.Fatal(err)
	}
	if winner.Balance != 100-25+100 {
		t.Fatalf("winner balance = %d", winner.Balance)
	}
	if left, _ := st.Tickets(ctx); len(left) != 0 {
		t.Fatalf("tickets not cleared: %+v", left)
	}
	last, err := st.LastDraw(ctx)
	if err != nil || last.WinnerID != 20 || last.Entrants != 2 || last.Tickets != 4 || last.Pot != 100 {
		t.Fatalf("LastDraw = %+v, %v", last, err)
	}

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeDrawSettled {
			t.Fatalf("event type = %q", ev.Type)
		}
	default:
		t.Fatal("expected draw.settled event")
	}
	if len(chat.sent) != 1 || !strings.Contains(chat.sent[0], "user 20 wins 100 coins") {
		t.Fatalf("sent = %q", chat.sent)
	}
}

func TestDrawWithoutEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	reg := registry.New()
	f := New(reg, logx.Nop(), WithPicker(func(int) int {
		t.Error("picker must not be called without tickets")
		return 0
	}))
	if err := f.Apply(Config{Enabled: true, TicketPrice: 5, Announce: kit.ChatTarget{ChatID: 1}, Location: time.UTC}); err != nil {
		t.Fatal(err)
	}
	chat := &fakeSender{}
	if err := reg.List()[0].Action(ctx, registry.Resources{Chat: chat, Store: st, Log: logx.Nop()}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.LastDraw(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("no draw should be recorded, got %v", err)
	}
	if len(chat.sent) != 1 || !strings.Contains(chat.sent[0], "no entries") {
		t.Fatalf("sent = %q", chat.sent)
	}
}

func TestBuyWhenDisabled(t *testing.T) {
	t.Parallel()
	f := New(registry.New(), logx.Nop())
	if _, err := f.Buy(context.Background(), openStore(t), 1, 1); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
}

func TestApplyDefaultsToFriday(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	if err := New(reg, logx.Nop()).Apply(Config{Enabled: true, Location: time.UTC}); err != nil {
		t.Fatal(err)
	}
	next, ok := reg.List()[0].Next(time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC))
	if !ok || !next.Equal(time.Date(2026, time.October, 23, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("next draw = %v", next)
	}
}
